package stage

import (
	"fmt"
	"regexp"
	"strconv"
)

// Position is a stage coordinate in the firmware's linear unit (millimetres).
type Position struct {
	X float64
	Y float64
	Z float64
}

// Add returns p + d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z}
}

// Clamp returns p with every negative axis replaced by 0. The firmware has no
// negative travel range.
func (p Position) Clamp() Position {
	return Position{X: max(p.X, 0), Y: max(p.Y, 0), Z: max(p.Z, 0)}
}

func (p Position) String() string {
	return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f", p.X, p.Y, p.Z)
}

var positionPatterns = []*regexp.Regexp{
	// X:10.00 Y:5.00 Z:0.00
	regexp.MustCompile(`X:\s*(-?\d*\.?\d+)\s*Y:\s*(-?\d*\.?\d+)\s*Z:\s*(-?\d*\.?\d+)`),
	// X.10.00 Y:5.00 Z:0.00 and X10.00 Y:5.00 Z:0.00, seen on noisy links
	regexp.MustCompile(`X[.:]?\s*(-?\d+\.?\d*)\s*Y:\s*(-?\d+\.?\d*)\s*Z:\s*(-?\d+\.?\d*)`),
}

// ParsePosition extracts the X, Y and Z fields from a position report.
//
// It returns a *ParseError carrying the raw text when no accepted format matches;
// it never returns a partial position.
func ParsePosition(raw string) (Position, error) {
	for _, re := range positionPatterns {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}

		var v [3]float64
		ok := true
		for i := range v {
			f, err := strconv.ParseFloat(m[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			v[i] = f
		}
		if ok {
			return Position{X: v[0], Y: v[1], Z: v[2]}, nil
		}
	}

	return Position{}, &ParseError{Raw: raw}
}
