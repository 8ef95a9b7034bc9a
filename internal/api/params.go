package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gonkalabs/nudenet-proxy-go/internal/nudenet"
)

// ErrorDetail is one entry of a 422 response body: {"detail":[{loc,msg,type}]}.
type ErrorDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError collects every problem found in a request.
type ValidationError struct {
	Detail []ErrorDetail `json:"detail"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Detail))
	for _, d := range e.Detail {
		parts = append(parts, strings.Join(d.Loc, ".")+": "+d.Msg)
	}
	return "validation: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(loc []string, typ, format string, args ...any) {
	e.Detail = append(e.Detail, ErrorDetail{Loc: loc, Msg: fmt.Sprintf(format, args...), Type: typ})
}

func (e *ValidationError) empty() bool {
	return len(e.Detail) == 0
}

// params reads query and form values from a parsed request. Form values
// take precedence over query values.
type params struct {
	r    *http.Request
	errs *ValidationError
}

func (p params) raw(name string) (string, bool) {
	vals := p.r.Form[name]
	if len(vals) == 0 {
		return "", false
	}
	v := strings.TrimSpace(vals[0])
	return v, v != ""
}

func (p params) floatParam(name string, def float64) float64 {
	s, ok := p.raw(name)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.errs.add(queryLoc(name), "float_parsing", "Input should be a valid number, unable to parse %q", s)
		return def
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		p.errs.add(queryLoc(name), "finite_number", "Input should be a finite number")
		return def
	}
	return v
}

func (p params) intParam(name string, def int) int {
	s, ok := p.raw(name)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.errs.add(queryLoc(name), "int_parsing", "Input should be a valid integer, unable to parse %q", s)
		return def
	}
	return v
}

func (p params) boolParam(name string, def bool) bool {
	s, ok := p.raw(name)
	if !ok {
		return def
	}
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	p.errs.add(queryLoc(name), "bool_parsing", "Input should be a valid boolean, unable to interpret %q", s)
	return def
}

func (p params) method(name string, def nudenet.CensorMethod) nudenet.CensorMethod {
	s, ok := p.raw(name)
	if !ok {
		return def
	}
	m, err := nudenet.ParseCensorMethod(s)
	if err != nil {
		p.errs.add(queryLoc(name), "enum", "Input should be %s", quotedMethods())
		return def
	}
	return m
}

// labels accepts repeated keys and comma-separated values.
func (p params) labels(name string, def []nudenet.Label) nudenet.LabelSet {
	var out []nudenet.Label
	for _, v := range p.r.Form[name] {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			l, err := nudenet.ParseLabel(s)
			if err != nil {
				p.errs.add(queryLoc(name), "enum", "Input %q is not a known label", s)
				continue
			}
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = def
	}
	return nudenet.NewLabelSet(out...)
}

// threshold reads detection_threshold and enforces [0,1].
func (p params) threshold() float64 {
	const name = "detection_threshold"
	v := p.floatParam(name, defaultThreshold)
	switch {
	case v < 0:
		p.errs.add(queryLoc(name), "greater_than_equal", "Input should be greater than or equal to 0")
	case v > 1:
		p.errs.add(queryLoc(name), "less_than_equal", "Input should be less than or equal to 1")
	}
	return v
}

func queryLoc(name string) []string {
	return []string{"query", name}
}

func quotedMethods() string {
	q := make([]string, 0, len(nudenet.CensorMethods))
	for _, m := range nudenet.CensorMethods {
		q = append(q, "'"+string(m)+"'")
	}
	return strings.Join(q, ", ")
}
