package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Status is a status document normalized across firmware revisions.
type Status struct {
	// Battery is the charge in percent, nil when the document has none.
	Battery *float64
	// BatterySource is the key path Battery was read from, e.g. "battery.percent".
	BatterySource string
	Charging      *bool
	// Temperatures maps a sensor name to degrees Celsius.
	Temperatures map[string]float64
	// Uptime is nil when the document has none.
	Uptime     *time.Duration
	BeamState  string
	ECalNeeded bool
	// Unknown is set when none of the known fields was present.
	Unknown bool
}

// DecodeStatus normalizes a status document. A JSON object without any known field
// decodes to a Status with Unknown set; anything else that is not an object is an error.
func DecodeStatus(raw []byte) (Status, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Status{}, fmt.Errorf("%w: status: %w", ErrInvalidPayload, err)
	}
	if doc == nil {
		return Status{}, fmt.Errorf("%w: status is not an object", ErrInvalidPayload)
	}

	var st Status
	known := false

	// battery: nested object first, then flat keys, then a bare number
	if b, ok := doc["battery"].(map[string]any); ok {
		for _, k := range []string{"percent", "level"} {
			if f, ok := number(b[k]); ok {
				st.Battery, st.BatterySource = &f, "battery."+k
				break
			}
		}
	}
	if st.Battery == nil {
		for _, k := range []string{"batteryPercent", "batteryLevel", "battery"} {
			if f, ok := number(doc[k]); ok {
				st.Battery, st.BatterySource = &f, k
				break
			}
		}
	}
	known = known || st.Battery != nil

	if c, ok := doc["isCharging"].(bool); ok {
		st.Charging = &c
		known = true
	}

	st.Temperatures = make(map[string]float64)
	if temps, ok := doc["temperatures"].(map[string]any); ok {
		for _, k := range slices.Sorted(maps.Keys(temps)) {
			if f, ok := number(temps[k]); ok {
				st.Temperatures[k] = f
			}
		}
	}
	for key, name := range map[string]string{"tubeTemp": "tube", "detectorTemp": "detector", "temperature": "temp"} {
		if f, ok := number(doc[key]); ok {
			st.Temperatures[name] = f
		}
	}
	known = known || len(st.Temperatures) > 0

	for _, k := range []string{"uptimeSec", "uptimeSeconds", "upTimeSec", "upTimeSeconds", "uptime"} {
		if f, ok := number(doc[k]); ok {
			d := time.Duration(f) * time.Second
			st.Uptime = &d
			known = true

			break
		}
	}

	for _, k := range []string{"beamState", "beamStatus", "acquisitionState", "xrayState", "state"} {
		if s := scalarString(doc[k]); s != "" {
			st.BeamState = s
			known = true

			break
		}
	}

	if e, ok := doc["isECalNeeded"].(bool); ok {
		st.ECalNeeded = e
		known = true
	}

	st.Unknown = !known

	return st, nil
}

// FormatUptime formats d as hh:mm:ss.
func FormatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}

		return "false"
	default:
		return ""
	}
}
