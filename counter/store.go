package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/arloliu/go-robotray/internal/backoff"
	"github.com/arloliu/go-robotray/logger"
)

// Defaults of a fresh store.
const (
	DefaultInitialCursor = 0

	DefaultFirstCupX = 10.0
	DefaultFirstCupY = 10.0

	// DefaultLastCupDX and DefaultLastCupDY give the last cup relative to the first one
	// on the standard sample tray.
	DefaultLastCupDX = 63.0
	DefaultLastCupDY = -98.0

	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 50 * time.Millisecond
)

// Store is the durable bench state. It is safe for concurrent use within a process.
type Store struct {
	mu sync.Mutex

	path          string
	fs            FS
	logger        logger.Logger
	policy        backoff.Policy
	initialCursor int
	lastCupDX     float64
	lastCupDY     float64

	state   State
	loadErr error
}

// Option configures a Store.
type Option interface {
	apply(*Store) error
}

type optFunc func(*Store) error

func (f optFunc) apply(s *Store) error { return f(s) }

// WithFS sets the filesystem implementation. Defaults to OSFS.
func WithFS(fsys FS) Option {
	return optFunc(func(s *Store) error {
		if fsys == nil {
			return errors.New("counter: filesystem must not be nil")
		}
		s.fs = fsys

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Store) error {
		if l == nil {
			return errors.New("counter: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// WithRetry sets the write retry policy: total attempts and the first backoff delay,
// doubled after every failure.
func WithRetry(attempts int, delay time.Duration) Option {
	return optFunc(func(s *Store) error {
		if attempts < 1 {
			return fmt.Errorf("counter: retry attempts %d must be >= 1", attempts)
		}
		if delay < 0 {
			return fmt.Errorf("counter: retry delay %v must not be negative", delay)
		}
		s.policy = backoff.Policy{Attempts: attempts, Initial: delay, Multiplier: 2, Max: time.Second}

		return nil
	})
}

// WithInitialCursor sets the row the sequence cursor starts from and returns to on reset.
func WithInitialCursor(row int) Option {
	return optFunc(func(s *Store) error {
		if row < 0 {
			return fmt.Errorf("counter: initial cursor %d must not be negative", row)
		}
		s.initialCursor = row

		return nil
	})
}

// WithLastCupOffset sets the offset of the last cup relative to the first one.
func WithLastCupOffset(dx, dy float64) Option {
	return optFunc(func(s *Store) error {
		s.lastCupDX = dx
		s.lastCupDY = dy

		return nil
	})
}

// Open loads the state file at path, creating an in-memory default state when the file
// is absent or cannot be decoded. The file itself is only written by mutating calls.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	s := &Store{
		path:          path,
		fs:            OSFS{},
		logger:        logger.GetLogger(),
		policy:        backoff.Policy{Attempts: DefaultRetryAttempts, Initial: DefaultRetryDelay, Multiplier: 2, Max: time.Second},
		initialCursor: DefaultInitialCursor,
		lastCupDX:     DefaultLastCupDX,
		lastCupDY:     DefaultLastCupDY,
	}
	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "counter", "path", path)

	s.state, s.loadErr = s.load()
	if s.loadErr != nil {
		s.logger.Warn("state file unreadable, starting from defaults", "error", s.loadErr)
	} else {
		s.logger.Info("state loaded", "testCounter", s.state.TestCounter, "cursor", s.cursorLocked())
	}

	return s, nil
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// LoadError returns the CorruptionError recorded by Open, or nil when the file was absent
// or decoded cleanly.
func (s *Store) LoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadErr
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.clone()
}

// LastTestNumber returns the last issued test number, 0 when none was issued.
func (s *Store) LastTestNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.TestCounter
}

// NextTestNumber issues the next test number and persists it before returning.
//
// The issued number is one above the larger of the in-memory counter and the counter
// currently on disk, so numbers never repeat even when another writer touched the file.
// When the state cannot be persisted the number is not issued and the error wraps ErrPersist.
func (s *Store) NextTestNumber() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.TestCounter
	if disk, ok := s.diskCounter(); ok && disk > next {
		s.logger.Warn("state file counter ahead of memory", "memory", next, "disk", disk)
		next = disk
	}
	next++

	st := s.state.clone()
	st.TestCounter = next
	if err := s.persist(st); err != nil {
		return 0, err
	}
	s.state = st

	s.logger.Debug("test number issued", "testNumber", next)

	return next, nil
}

// SequenceCursor returns the next unconsumed offset-table row.
func (s *Store) SequenceCursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursorLocked()
}

// InitialCursor returns the row the cursor is reset to.
func (s *Store) InitialCursor() int { return s.initialCursor }

// AdvanceCursor moves the cursor forward by one row, persists it and returns the new row.
func (s *Store) AdvanceCursor() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.cursorLocked() + 1
	st := s.state.clone()
	st.SequenceCursor = &row
	if err := s.persist(st); err != nil {
		return s.cursorLocked(), err
	}
	s.state = st

	return row, nil
}

// ResetCursor returns the cursor to its initial row. It is only called on explicit
// user action; no failure path resets the cursor.
func (s *Store) ResetCursor() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.initialCursor
	st := s.state.clone()
	st.SequenceCursor = &row
	if err := s.persist(st); err != nil {
		return err
	}
	s.state = st
	s.logger.Info("sequence cursor reset", "row", row)

	return nil
}

// References returns the calibrated cup reference positions.
func (s *Store) References() References {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.References
}

// SetFirstCup records the first cup position and derives the last cup from the
// configured tray offset.
func (s *Store) SetFirstCup(x, y float64) (References, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	st.References = References{
		FirstX: x,
		FirstY: y,
		LastX:  x + s.lastCupDX,
		LastY:  y + s.lastCupDY,
	}
	if err := s.persist(st); err != nil {
		return s.state.References, err
	}
	s.state = st

	return st.References, nil
}

// OutputFolder returns the persisted artifact folder, empty when unset.
func (s *Store) OutputFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.OutputFolder
}

// SetOutputFolder persists the artifact folder.
func (s *Store) SetOutputFolder(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	st.OutputFolder = dir
	if err := s.persist(st); err != nil {
		return err
	}
	s.state = st

	return nil
}

func (s *Store) cursorLocked() int {
	if s.state.SequenceCursor == nil {
		return s.initialCursor
	}

	return *s.state.SequenceCursor
}

func (s *Store) defaults() State {
	return State{
		References: References{
			FirstX: DefaultFirstCupX,
			FirstY: DefaultFirstCupY,
			LastX:  DefaultFirstCupX + s.lastCupDX,
			LastY:  DefaultFirstCupY + s.lastCupDY,
		},
	}
}

func (s *Store) load() (State, error) {
	st := s.defaults()

	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return s.defaults(), &CorruptionError{Path: s.path, Err: err}
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return s.defaults(), &CorruptionError{Path: s.path, Err: err}
	}

	return st, nil
}

// diskCounter reads test_counter from the file without touching the in-memory state.
func (s *Store) diskCounter() (int64, bool) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return 0, false
	}

	var doc struct {
		TestCounter *int64 `json:"test_counter"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.TestCounter == nil {
		return 0, false
	}

	return *doc.TestCounter, true
}

// persist writes st atomically, retrying transient failures.
func (s *Store) persist(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersist, err)
	}

	dir := filepath.Dir(s.path)
	pattern := "." + filepath.Base(s.path) + "-*.tmp"

	err = backoff.Retry(context.Background(), s.policy, func(attempt int) error {
		tmp, err := s.fs.WriteTemp(dir, pattern, data)
		if err != nil {
			s.logger.Debug("write temp state failed", "attempt", attempt, "error", err)
			return err
		}
		if err := s.fs.Rename(tmp, s.path); err != nil {
			_ = s.fs.Remove(tmp)
			s.logger.Debug("replace state failed", "attempt", attempt, "error", err)
			return err
		}

		return nil
	})
	if err != nil {
		s.logger.Error("persist state failed", "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	return nil
}
