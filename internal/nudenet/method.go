package nudenet

import (
	"fmt"
	"strings"
)

// CensorMethod selects how matched regions are redacted.
type CensorMethod string

const (
	Pixelate     CensorMethod = "pixelate"
	GaussianBlur CensorMethod = "gaussian_blur"
	ImageOverlay CensorMethod = "image"
	BlackBox     CensorMethod = "black_box"
)

// CensorMethods lists the accepted methods in documentation order.
var CensorMethods = []CensorMethod{Pixelate, GaussianBlur, ImageOverlay, BlackBox}

// ParseCensorMethod returns the method named by s.
func ParseCensorMethod(s string) (CensorMethod, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, m := range CensorMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("nudenet: unknown censor method %q", s)
}
