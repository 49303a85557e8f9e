package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ParamsSchema identifies the shape of an acquisition parameter document.
type ParamsSchema int

const (
	// ParamsUnknown documents carry neither beamTimes nor a beams list.
	ParamsUnknown ParamsSchema = iota
	// ParamsFlatMillis documents carry a top-level "beamTimes" list of milliseconds.
	ParamsFlatMillis
	// ParamsNested documents carry a "beams" list whose entries hold named duration
	// fields in seconds, possibly nested.
	ParamsNested
)

func (s ParamsSchema) String() string {
	switch s {
	case ParamsFlatMillis:
		return "flat-millis"
	case ParamsNested:
		return "nested"
	default:
		return "unknown"
	}
}

// durationKeys are the beam duration field names seen across firmware revisions,
// matched case-insensitively.
var durationKeys = []string{"duration", "durationSec", "durationSecs", "durationSeconds", "testTimeSeconds"}

func isDurationKey(k string) bool {
	for _, d := range durationKeys {
		if strings.EqualFold(k, d) {
			return true
		}
	}

	return false
}

// AcquisitionParams is a decoded acquisition parameter document. Numbers are kept
// as json.Number so that fields the decoder does not understand are written back
// exactly as read.
type AcquisitionParams struct {
	Schema ParamsSchema
	doc    map[string]any
}

// DecodeAcquisitionParams decodes a document and detects its schema. Documents of an
// unknown schema decode without error; only WithBeamDuration rejects them.
func DecodeAcquisitionParams(raw []byte) (*AcquisitionParams, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: acquisition params: %w", ErrInvalidPayload, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: acquisition params are not an object", ErrInvalidPayload)
	}

	p := &AcquisitionParams{doc: doc}
	switch {
	case isList(doc["beamTimes"]):
		p.Schema = ParamsFlatMillis
	case findBeams(doc) != nil:
		p.Schema = ParamsNested
	default:
		p.Schema = ParamsUnknown
	}

	return p, nil
}

// MarshalJSON encodes the document, including every field that was decoded.
func (p *AcquisitionParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.doc)
}

// BeamCount returns the number of beams, 0 for unknown documents.
func (p *AcquisitionParams) BeamCount() int {
	switch p.Schema {
	case ParamsFlatMillis:
		return len(p.doc["beamTimes"].([]any))
	case ParamsNested:
		return len(findBeams(p.doc))
	default:
		return 0
	}
}

// BeamDurations returns the duration of every beam. Flat values are milliseconds and
// nested duration fields are seconds. A nested beam without a duration field reports 0.
func (p *AcquisitionParams) BeamDurations() []time.Duration {
	switch p.Schema {
	case ParamsFlatMillis:
		list := p.doc["beamTimes"].([]any)
		out := make([]time.Duration, len(list))
		for i, v := range list {
			f, ok := number(v)
			if !ok {
				continue
			}
			out[i] = time.Duration(f * float64(time.Millisecond))
		}

		return out
	case ParamsNested:
		beams := findBeams(p.doc)
		out := make([]time.Duration, len(beams))
		for i, b := range beams {
			if f, ok := firstDuration(b); ok {
				out[i] = time.Duration(f * float64(time.Second))
			}
		}

		return out
	default:
		return nil
	}
}

// WithBeamDuration returns a copy with every beam set to d. The receiver is not modified.
func (p *AcquisitionParams) WithBeamDuration(d time.Duration) (*AcquisitionParams, error) {
	if d <= 0 {
		return nil, fmt.Errorf("analyzer: beam duration %v must be positive", d)
	}

	next := &AcquisitionParams{Schema: p.Schema, doc: deepCopy(p.doc).(map[string]any)}
	switch p.Schema {
	case ParamsFlatMillis:
		ms := max(1, int64(math.Round(d.Seconds()*1000)))
		list := next.doc["beamTimes"].([]any)
		for i := range list {
			list[i] = json.Number(strconv.FormatInt(ms, 10))
		}
	case ParamsNested:
		secs := json.Number(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		setNestedDurations(next.doc, secs)
	default:
		return nil, fmt.Errorf("%w: acquisition params have neither beamTimes nor beams", ErrUnknownSchema)
	}

	return next, nil
}

// findBeams returns the first "beams" list found in a depth-first walk.
func findBeams(v any) []any {
	switch t := v.(type) {
	case map[string]any:
		if beams, ok := t["beams"].([]any); ok {
			return beams
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if beams := findBeams(t[k]); beams != nil {
				return beams
			}
		}
	case []any:
		for _, it := range t {
			if beams := findBeams(it); beams != nil {
				return beams
			}
		}
	}

	return nil
}

// setNestedDurations sets every duration field inside every "beams" list below v.
func setNestedDurations(v any, secs json.Number) {
	switch t := v.(type) {
	case map[string]any:
		if beams, ok := t["beams"].([]any); ok {
			for _, b := range beams {
				setDurationFields(b, secs)
			}
		}
		for k, child := range t {
			if k != "beams" {
				setNestedDurations(child, secs)
			}
		}
	case []any:
		for _, it := range t {
			setNestedDurations(it, secs)
		}
	}
}

// setDurationFields sets every duration field of a beam at any depth.
func setDurationFields(v any, secs json.Number) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if isDurationKey(k) {
				t[k] = secs
				continue
			}
			setDurationFields(child, secs)
		}
	case []any:
		for _, it := range t {
			setDurationFields(it, secs)
		}
	}
}

func firstDuration(v any) (float64, bool) {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if isDurationKey(k) {
				if f, ok := number(t[k]); ok {
					return f, true
				}
			}
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if f, ok := firstDuration(t[k]); ok {
				return f, true
			}
		}
	case []any:
		for _, it := range t {
			if f, ok := firstDuration(it); ok {
				return f, true
			}
		}
	}

	return 0, false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			m[k] = deepCopy(child)
		}

		return m
	case []any:
		l := make([]any, len(t))
		for i, child := range t {
			l[i] = deepCopy(child)
		}

		return l
	default:
		return v
	}
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

// number converts a decoded JSON number.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	default:
		return 0, false
	}
}
