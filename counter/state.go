package counter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON keys of the persisted state object.
const (
	keyTestCounter    = "test_counter"
	keySequenceCursor = "sequence_cursor"
	keyFirstCupX      = "first_cup_x"
	keyFirstCupY      = "first_cup_y"
	keyLastCupX       = "last_cup_x"
	keyLastCupY       = "last_cup_y"
	keyFolderPath     = "folder_path"
)

// References holds the calibrated first and last cup positions of the sample tray,
// in stage units.
type References struct {
	FirstX float64
	FirstY float64
	LastX  float64
	LastY  float64
}

// State is the decoded content of the persisted state file.
type State struct {
	// TestCounter is the last issued test number; 0 means none issued yet.
	TestCounter int64
	// SequenceCursor is the next unconsumed offset-table row, nil when never persisted.
	SequenceCursor *int
	References     References
	OutputFolder   string

	// extra keeps keys this package does not own so rewrites preserve them.
	extra map[string]json.RawMessage
}

func (s State) clone() State {
	c := s
	if s.SequenceCursor != nil {
		v := *s.SequenceCursor
		c.SequenceCursor = &v
	}
	if s.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(s.extra))
		for k, v := range s.extra {
			c.extra[k] = v
		}
	}

	return c
}

// MarshalJSON encodes the state as a flat JSON object, including preserved unknown keys.
func (s State) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.extra)+7)
	for k, v := range s.extra {
		doc[k] = v
	}

	doc[keyTestCounter] = s.TestCounter
	if s.SequenceCursor != nil {
		doc[keySequenceCursor] = *s.SequenceCursor
	}
	doc[keyFirstCupX] = s.References.FirstX
	doc[keyFirstCupY] = s.References.FirstY
	doc[keyLastCupX] = s.References.LastX
	doc[keyLastCupY] = s.References.LastY
	if s.OutputFolder != "" {
		doc[keyFolderPath] = s.OutputFolder
	}

	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalJSON decodes a state object. Known keys with the wrong type are an error;
// absent keys keep the receiver's current values.
func (s *State) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("counter: state is not a JSON object")
	}

	fields := []struct {
		key string
		dst any
	}{
		{keyTestCounter, &s.TestCounter},
		{keyFirstCupX, &s.References.FirstX},
		{keyFirstCupY, &s.References.FirstY},
		{keyLastCupX, &s.References.LastX},
		{keyLastCupY, &s.References.LastY},
		{keyFolderPath, &s.OutputFolder},
	}
	for _, f := range fields {
		raw, ok := doc[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return fmt.Errorf("counter: key %q: %w", f.key, err)
		}
		delete(doc, f.key)
	}

	if raw, ok := doc[keySequenceCursor]; ok {
		var cursor int
		if err := json.Unmarshal(raw, &cursor); err != nil {
			return fmt.Errorf("counter: key %q: %w", keySequenceCursor, err)
		}
		s.SequenceCursor = &cursor
		delete(doc, keySequenceCursor)
	}

	if s.TestCounter < 0 {
		return fmt.Errorf("counter: negative %s %d", keyTestCounter, s.TestCounter)
	}

	s.extra = doc

	return nil
}
