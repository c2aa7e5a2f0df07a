package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrInvalidValue     = errors.New("invalid parameter value")
	ErrReadOnly         = errors.New("parameter is read-only")
)

type param struct {
	name     string
	readOnly bool
	get      func(p *Parameters) string
	set      func(p *Parameters, v string) error
}

func intParam(name string, min, max int, field func(p *Parameters) *int) param {
	return param{
		name: name,
		get:  func(p *Parameters) string { return strconv.Itoa(*field(p)) },
		set: func(p *Parameters, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, name, v)
			}
			if n < min || n > max {
				return fmt.Errorf("%w: %s=%d outside %d..%d", ErrInvalidValue, name, n, min, max)
			}
			*field(p) = n
			return nil
		},
	}
}

func colorParam(name string, field func(p *Parameters) *float64) param {
	return param{
		name: name,
		get:  func(p *Parameters) string { return strconv.FormatFloat(*field(p), 'f', -1, 64) },
		set: func(p *Parameters, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidValue, name, v)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 255 {
				return fmt.Errorf("%w: %s=%g outside 0..255", ErrInvalidValue, name, f)
			}
			*field(p) = f
			return nil
		},
	}
}

func readOnly(p param) param {
	p.readOnly = true
	return p
}

const maxInt = int(^uint(0) >> 1)

var params = []param{
	intParam("CenterX", 0, maxInt, func(p *Parameters) *int { return &p.CenterX }),
	intParam("CenterY", 0, maxInt, func(p *Parameters) *int { return &p.CenterY }),
	colorParam("ColorR", func(p *Parameters) *float64 { return &p.ColorR }),
	colorParam("ColorG", func(p *Parameters) *float64 { return &p.ColorG }),
	colorParam("ColorB", func(p *Parameters) *float64 { return &p.ColorB }),
	intParam("MarkerWidth", 0, maxInt, func(p *Parameters) *int { return &p.MarkerWidth }),
	intParam("MarkerHeight", 0, maxInt, func(p *Parameters) *int { return &p.MarkerHeight }),
	intParam("MarkerShape", 0, 1, func(p *Parameters) *int { return &p.MarkerShape }),
	intParam("Tolerance", 0, 255, func(p *Parameters) *int { return &p.Tolerance }),
	intParam("Port", 1024, 65535, func(p *Parameters) *int { return &p.Port }),
	readOnly(intParam("Width", 0, maxInt, func(p *Parameters) *int { return &p.Width })),
	readOnly(intParam("Height", 0, maxInt, func(p *Parameters) *int { return &p.Height })),
}

func lookup(name string) (param, error) {
	for _, p := range params {
		if p.name == name {
			return p, nil
		}
	}
	return param{}, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
}

// ParamNames lists the parameter names in display order.
func ParamNames() []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.name
	}
	return names
}

// IsReadOnly reports whether name can only be written by the service.
func IsReadOnly(name string) bool {
	p, err := lookup(name)
	return err == nil && p.readOnly
}

// Values returns every parameter formatted as a string.
func (p Parameters) Values() map[string]string {
	out := make(map[string]string, len(params))
	for _, pr := range params {
		out[pr.name] = pr.get(&p)
	}
	return out
}

// Validate checks every parameter against its range.
func (p Parameters) Validate() error {
	for _, pr := range params {
		if err := pr.set(&p, pr.get(&p)); err != nil {
			return err
		}
	}
	return nil
}

// diff returns the names whose values differ between a and b, in display order.
func diff(a, b Parameters) []Change {
	var out []Change
	for _, pr := range params {
		if va, vb := pr.get(&a), pr.get(&b); va != vb {
			out = append(out, Change{Name: pr.name, Value: vb})
		}
	}
	return out
}
