// Package counter implements the durable bench state shared by every sequence run:
// a monotonic test-number counter, the sequence cursor into the stage offset table and
// the calibrated cup reference positions.
//
// The state lives in a single JSON object:
//
//	{
//	  "test_counter": 41,
//	  "sequence_cursor": 3,
//	  "first_cup_x": 10.0,
//	  "first_cup_y": 10.0,
//	  "last_cup_x": 73.0,
//	  "last_cup_y": -88.0,
//	  "folder_path": "/data/runs"
//	}
//
// test_counter holds the last issued number, so a store reopened over a file holding K
// issues K+1 next. Every write replaces the file atomically (temp file in the same
// directory, then rename) and is retried with bounded exponential backoff. A missing or
// malformed file is never fatal: the store starts from defaults and logs a warning.
package counter
