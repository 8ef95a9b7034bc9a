package nudenet

import (
	"fmt"
	"strings"
)

// Label is a body-part/exposure category reported by the detector.
// The string value is the wire form used in query parameters, response
// headers and PNG metadata.
type Label string

const (
	FemalePrivateArea   Label = "female-private-area"
	FemaleFace          Label = "female-face"
	ButtocksBare        Label = "buttocks-bare"
	FemaleBreastBare    Label = "female-breast-bare"
	FemaleVagina        Label = "female-vagina"
	MaleBreastBare      Label = "male-breast-bare"
	AnusBare            Label = "anus-bare"
	FeetBare            Label = "feet-bare"
	Belly               Label = "belly"
	Feet                Label = "feet"
	Armpits             Label = "armpits"
	ArmpitsBare         Label = "armpits-bare"
	MaleFace            Label = "male-face"
	BellyBare           Label = "belly-bare"
	MalePenis           Label = "male-penis"
	AnusCovered         Label = "anus-covered"
	FemaleBreastCovered Label = "female-breast-covered"
	ButtocksCovered     Label = "buttocks-covered"
)

// sidecarClasses maps the class names emitted by the NudeNet model to labels.
var sidecarClasses = map[string]Label{
	"FEMALE_GENITALIA_COVERED": FemalePrivateArea,
	"FACE_FEMALE":              FemaleFace,
	"BUTTOCKS_EXPOSED":         ButtocksBare,
	"FEMALE_BREAST_EXPOSED":    FemaleBreastBare,
	"FEMALE_GENITALIA_EXPOSED": FemaleVagina,
	"MALE_BREAST_EXPOSED":      MaleBreastBare,
	"ANUS_EXPOSED":             AnusBare,
	"FEET_EXPOSED":             FeetBare,
	"BELLY_COVERED":            Belly,
	"FEET_COVERED":             Feet,
	"ARMPITS_COVERED":          Armpits,
	"ARMPITS_EXPOSED":          ArmpitsBare,
	"FACE_MALE":                MaleFace,
	"BELLY_EXPOSED":            BellyBare,
	"MALE_GENITALIA_EXPOSED":   MalePenis,
	"ANUS_COVERED":             AnusCovered,
	"FEMALE_BREAST_COVERED":    FemaleBreastCovered,
	"BUTTOCKS_COVERED":         ButtocksCovered,
}

// AllLabels lists every label in model class order.
var AllLabels = []Label{
	FemalePrivateArea, FemaleFace, ButtocksBare, FemaleBreastBare,
	FemaleVagina, MaleBreastBare, AnusBare, FeetBare, Belly, Feet,
	Armpits, ArmpitsBare, MaleFace, BellyBare, MalePenis, AnusCovered,
	FemaleBreastCovered, ButtocksCovered,
}

// DefaultCensorCriteria is used by /censor when the caller names no labels.
var DefaultCensorCriteria = []Label{FemaleVagina}

// DefaultNSFWCriteria is used by /isNSFW when the caller names no labels.
var DefaultNSFWCriteria = []Label{
	FemalePrivateArea,
	AnusCovered,
	AnusBare,
	ButtocksBare,
	FemaleVagina,
	FemaleBreastBare,
	MalePenis,
}

// ParseLabel accepts either the wire value ("female-breast-bare") or the
// model class name ("FEMALE_BREAST_EXPOSED").
func ParseLabel(s string) (Label, error) {
	s = strings.TrimSpace(s)
	for _, l := range AllLabels {
		if string(l) == s {
			return l, nil
		}
	}
	if l, ok := sidecarClasses[strings.ToUpper(s)]; ok {
		return l, nil
	}
	return "", fmt.Errorf("nudenet: unknown label %q", s)
}

// LabelSet is a set of labels used as censorship or NSFW criteria.
type LabelSet map[Label]struct{}

// NewLabelSet builds a set from the given labels.
func NewLabelSet(labels ...Label) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Has reports whether l is in the set.
func (s LabelSet) Has(l Label) bool {
	_, ok := s[l]
	return ok
}

// Labels returns the members in AllLabels order.
func (s LabelSet) Labels() []Label {
	out := make([]Label, 0, len(s))
	for _, l := range AllLabels {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}
