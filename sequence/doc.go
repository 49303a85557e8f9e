// Package sequence runs measurement sequences: repetitions of one or more analyzer
// triggers sharing a test number, each followed by a stage advance read from an
// offset table.
//
// A repetition never aborts because one of its triggers failed; the failure is
// recorded in the repetition's StepResult and the stage still advances, so the
// sequence stays aligned with the physical sample tray. Only Abort, a canceled
// context or a counter store failure halt a run.
package sequence
