package counter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-robotray/logger"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()

	opts = append([]Option{WithLogger(logger.NewMockLogger().AllowAll()), WithRetry(3, time.Millisecond)}, opts...)
	s, err := Open(path, opts...)
	require.NoError(t, err)

	return s
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	return doc
}

// flakyFS fails the first failures renames, or every rename when failures is negative.
type flakyFS struct {
	OSFS
	failures int32
	renames  atomic.Int32
}

func (f *flakyFS) Rename(oldpath, newpath string) error {
	n := f.renames.Add(1)
	if f.failures < 0 || n <= f.failures {
		return errors.New("file is locked")
	}

	return f.OSFS.Rename(oldpath, newpath)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	require.ErrorIs(t, err, ErrEmptyPath)
}

func TestNextTestNumber_FreshStore(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	s := newTestStore(t, path)
	require.EqualValues(0, s.LastTestNumber())

	for want := int64(1); want <= 3; want++ {
		n, err := s.NextTestNumber()
		require.NoError(err)
		require.Equal(want, n)
	}

	doc := readDoc(t, path)
	require.EqualValues(3, doc["test_counter"])
}

func TestNextTestNumber_Reopen(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(os.WriteFile(path, []byte(`{"test_counter": 41}`), 0o600))

	s := newTestStore(t, path)
	require.NoError(s.LoadError())

	n, err := s.NextTestNumber()
	require.NoError(err)
	require.EqualValues(42, n)

	// a new store over the same file continues where the first one stopped
	s2 := newTestStore(t, path)
	n, err = s2.NextTestNumber()
	require.NoError(err)
	require.EqualValues(43, n)
}

func TestOpen_CorruptedFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	cases := map[string]string{
		"garbage":       "{not json",
		"wrong type":    `{"test_counter": "twelve"}`,
		"negative":      `{"test_counter": -4}`,
		"not an object": `[1, 2, 3]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(os.WriteFile(path, []byte(content), 0o600))

			s := newTestStore(t, path)
			var corrupt *CorruptionError
			require.ErrorAs(s.LoadError(), &corrupt)
			require.Equal(path, corrupt.Path)

			require.EqualValues(0, s.LastTestNumber())
			require.Equal(DefaultInitialCursor, s.SequenceCursor())
			require.Equal(References{
				FirstX: DefaultFirstCupX, FirstY: DefaultFirstCupY,
				LastX: DefaultFirstCupX + DefaultLastCupDX, LastY: DefaultFirstCupY + DefaultLastCupDY,
			}, s.References())
		})
	}
}

func TestNextTestNumber_TwoWriters(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	a := newTestStore(t, path)
	b := newTestStore(t, path)

	n, err := a.NextTestNumber()
	require.NoError(err)
	require.EqualValues(1, n)

	n, err = a.NextTestNumber()
	require.NoError(err)
	require.EqualValues(2, n)

	// b never saw 1 or 2 in memory but must not reissue them
	n, err = b.NextTestNumber()
	require.NoError(err)
	require.EqualValues(3, n)

	n, err = a.NextTestNumber()
	require.NoError(err)
	require.EqualValues(4, n)
}

func TestNextTestNumber_Concurrent(t *testing.T) {
	require := require.New(t)

	s := newTestStore(t, filepath.Join(t.TempDir(), "state.json"))

	const workers, perWorker = 8, 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				n, err := s.NextTestNumber()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(seen, workers*perWorker)
	require.EqualValues(workers*perWorker, s.LastTestNumber())
}

func TestNextTestNumber_TransientWriteFailure(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	fsys := &flakyFS{failures: 2}
	s := newTestStore(t, path, WithFS(fsys))

	n, err := s.NextTestNumber()
	require.NoError(err)
	require.EqualValues(1, n)
	require.EqualValues(3, fsys.renames.Load())

	doc := readDoc(t, path)
	require.EqualValues(1, doc["test_counter"])

	// failed attempts leave no temporary files behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(err)
	require.Len(entries, 1)
}

func TestNextTestNumber_PersistFailureDoesNotIssue(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	fsys := &flakyFS{failures: -1}
	s := newTestStore(t, path, WithFS(fsys))

	_, err := s.NextTestNumber()
	require.ErrorIs(err, ErrPersist)
	require.EqualValues(0, s.LastTestNumber())
	require.EqualValues(3, fsys.renames.Load())

	_, statErr := os.Stat(path)
	require.True(os.IsNotExist(statErr))

	// once the file is writable again numbering resumes at 1
	fsys.failures = 0
	n, err := s.NextTestNumber()
	require.NoError(err)
	require.EqualValues(1, n)
}

func TestStore_PreservesUnknownKeys(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(os.WriteFile(path, []byte(`{"test_counter": 7, "operator": "night shift", "limits": {"z": 4}}`), 0o600))

	s := newTestStore(t, path)
	_, err := s.NextTestNumber()
	require.NoError(err)

	doc := readDoc(t, path)
	require.EqualValues(8, doc["test_counter"])
	require.Equal("night shift", doc["operator"])
	require.Equal(map[string]any{"z": float64(4)}, doc["limits"])
}

func TestStore_Cursor(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	s := newTestStore(t, path, WithInitialCursor(2))
	require.Equal(2, s.SequenceCursor())
	require.Equal(2, s.InitialCursor())

	row, err := s.AdvanceCursor()
	require.NoError(err)
	require.Equal(3, row)
	row, err = s.AdvanceCursor()
	require.NoError(err)
	require.Equal(4, row)

	s2 := newTestStore(t, path, WithInitialCursor(2))
	require.Equal(4, s2.SequenceCursor())

	require.NoError(s2.ResetCursor())
	require.Equal(2, s2.SequenceCursor())
	require.EqualValues(2, readDoc(t, path)["sequence_cursor"])
}

func TestStore_References(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	s := newTestStore(t, path, WithLastCupOffset(50, -80))

	ref, err := s.SetFirstCup(12.5, 20)
	require.NoError(err)
	require.Equal(References{FirstX: 12.5, FirstY: 20, LastX: 62.5, LastY: -60}, ref)

	doc := readDoc(t, path)
	require.InDelta(12.5, doc["first_cup_x"], 1e-9)
	require.InDelta(-60, doc["last_cup_y"], 1e-9)

	s2 := newTestStore(t, path)
	require.Equal(ref, s2.References())
}

func TestStore_OutputFolder(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "state.json")
	s := newTestStore(t, path)
	require.Empty(s.OutputFolder())

	require.NoError(s.SetOutputFolder("/data/runs"))
	require.Equal("/data/runs", newTestStore(t, path).OutputFolder())
}

func TestOptions_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	for name, opt := range map[string]Option{
		"nil fs":          WithFS(nil),
		"nil logger":      WithLogger(nil),
		"zero attempts":   WithRetry(0, time.Millisecond),
		"negative delay":  WithRetry(1, -time.Second),
		"negative cursor": WithInitialCursor(-1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Open(path, opt)
			require.Error(t, err)
		})
	}
}
