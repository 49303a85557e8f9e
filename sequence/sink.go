package sequence

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-robotray/analyzer"
)

// Artifact is the output of one successful step.
type Artifact struct {
	TestNumber int64
	Step       string
	Mode       string
	At         time.Time
	// Raw is the trigger result, unmodified.
	Raw json.RawMessage
	// Screenshot is nil unless the step captured one.
	Screenshot []byte
}

// ArtifactSink persists the artifacts of a run. It returns the names of the files
// it wrote, which end up in the StepResult.
type ArtifactSink interface {
	// SaveStep persists the artifacts of one step.
	SaveStep(ctx context.Context, a Artifact) ([]string, error)
	// SaveRepetition persists what spans every step of a repetition, such as the
	// combined chemistry table. steps holds the successful steps only.
	SaveRepetition(ctx context.Context, testNumber int64, at time.Time, steps []Artifact) ([]string, error)
}

type nopSink struct{}

func (nopSink) SaveStep(context.Context, Artifact) ([]string, error) { return nil, nil }

func (nopSink) SaveRepetition(context.Context, int64, time.Time, []Artifact) ([]string, error) {
	return nil, nil
}

// FileSink writes artifacts into a directory. Every file name starts with the
// six-digit test number and a timestamp:
//
//	000042_2024_05_01_13300512_Beam 1.csv        spectrum
//	000042_2024_05_01_13300512_Beam 1_CPS.csv    spectrum in counts per second
//	000042_2024_05_01_13300512_Mining_result.json
//	000042_2024_05_01_13300512_Soil_photo.png
//	000042_2024_05_01_13300512_chemistry.csv
//
// Existing files are never overwritten; a numeric suffix is added instead.
type FileSink struct {
	dir string
	cps bool
}

// NewFileSink creates a sink writing into dir, creating it when needed. When cps is
// true a counts-per-second copy of every spectrum is written as well.
func NewFileSink(dir string, cps bool) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("sequence: output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sequence: create output directory: %w", err)
	}

	return &FileSink{dir: dir, cps: cps}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string { return s.dir }

// Timestamp formats t the way artifact names carry it: date, time and hundredths
// of a second.
func Timestamp(t time.Time) string {
	return t.Format("2006_01_02_150405") + fmt.Sprintf("%02d", t.Nanosecond()/int(10*time.Millisecond))
}

func (s *FileSink) prefix(testNumber int64, at time.Time) string {
	return fmt.Sprintf("%06d_%s", testNumber, Timestamp(at))
}

// SaveStep implements ArtifactSink.
func (s *FileSink) SaveStep(_ context.Context, a Artifact) ([]string, error) {
	prefix := s.prefix(a.TestNumber, a.At)

	var files []string
	name, err := s.create(prefix+"_"+safeName(a.Mode)+"_result.json", func(f *os.File) error {
		_, err := f.Write(a.Raw)
		return err
	})
	if err != nil {
		return files, err
	}
	files = append(files, name)

	res, err := analyzer.DecodeResult(a.Raw)
	if err != nil {
		return files, err
	}
	for _, sp := range res.Spectra {
		name, err := s.create(prefix+"_"+safeName(sp.Name)+".csv", func(f *os.File) error {
			return writeSpectrum(f, sp, "Intensity (cps)", 1)
		})
		if err != nil {
			return files, err
		}
		files = append(files, name)

		factor, ok := sp.CPSFactor()
		if !s.cps || !ok {
			continue
		}
		name, err = s.create(prefix+"_"+safeName(sp.Name)+"_CPS.csv", func(f *os.File) error {
			return writeSpectrum(f, sp, "Intensity (CPS)", factor)
		})
		if err != nil {
			return files, err
		}
		files = append(files, name)
	}

	if a.Screenshot != nil {
		name, err := s.create(prefix+"_"+safeName(a.Mode)+"_photo.png", func(f *os.File) error {
			_, err := f.Write(a.Screenshot)
			return err
		})
		if err != nil {
			return files, err
		}
		files = append(files, name)
	}

	return files, nil
}

// SaveRepetition implements ArtifactSink. It writes one chemistry table with a row per
// step; nothing is written when no step returned chemistry.
func (s *FileSink) SaveRepetition(_ context.Context, testNumber int64, at time.Time, steps []Artifact) ([]string, error) {
	type row struct {
		art Artifact
		res analyzer.Result
	}

	var rows []row
	for _, a := range steps {
		res, err := analyzer.DecodeResult(a.Raw)
		if err != nil || len(res.Chemistry) == 0 {
			continue
		}
		rows = append(rows, row{art: a, res: res})
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// one value and one uncertainty column per analyte, ordered by atomic number
	var columns []analyzer.Analyte
	for _, r := range rows {
		for _, a := range r.res.Chemistry {
			if !slices.ContainsFunc(columns, func(c analyzer.Analyte) bool { return c.Name == a.Name }) {
				columns = append(columns, a)
			}
		}
	}
	slices.SortStableFunc(columns, func(a, b analyzer.Analyte) int {
		if a.AtomicNumber != b.AtomicNumber {
			return a.AtomicNumber - b.AtomicNumber
		}

		return strings.Compare(a.Name, b.Name)
	})

	header := []string{"Date", "Test #", "Serial #", "Grade Match #1", "Grade Match #2", "Grade Match #3", "Mode", "AVG Flag"}
	for _, c := range columns {
		header = append(header, c.Name, c.Name+" +/-")
	}

	name, err := s.create(s.prefix(testNumber, at)+"_chemistry.csv", func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return err
		}
		for _, r := range rows {
			grades := append(slices.Clone(r.res.Grades), "", "", "")[:3]
			rec := []string{
				r.art.At.Format(time.DateTime),
				fmt.Sprintf("%06d", testNumber),
				r.res.SerialNumber,
				grades[0], grades[1], grades[2],
				r.art.Mode,
				"",
			}
			for _, c := range columns {
				idx := slices.IndexFunc(r.res.Chemistry, func(a analyzer.Analyte) bool { return a.Name == c.Name })
				if idx < 0 {
					rec = append(rec, "", "")
					continue
				}
				rec = append(rec, formatAnalyte(r.res.Chemistry[idx])...)
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()

		return w.Error()
	})
	if err != nil {
		return nil, err
	}

	return []string{name}, nil
}

func formatAnalyte(a analyzer.Analyte) []string {
	if a.BelowLOD {
		return []string{"ND", fmt.Sprintf("< %.2f", a.Value)}
	}

	return []string{fmt.Sprintf("%.2f", a.Value), fmt.Sprintf("%.2f", a.Uncertainty)}
}

func writeSpectrum(f *os.File, sp analyzer.Spectrum, label string, factor float64) error {
	w := csv.NewWriter(f)
	if err := w.Write([]string{"Energy (keV)", label}); err != nil {
		return err
	}
	for i, c := range sp.Counts {
		rec := []string{
			strconv.FormatFloat(sp.Energy(i), 'f', -1, 64),
			strconv.FormatFloat(c*factor, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()

	return w.Error()
}

// create writes a new file below the sink directory and returns its base name.
func (s *FileSink) create(name string, write func(f *os.File) error) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate := name
		if i > 1 {
			candidate = stem + "-" + strconv.Itoa(i) + ext
		}

		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("sequence: create %s: %w", candidate, err)
		}

		werr := write(f)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			// a truncated artifact must not stay behind under the expected name
			if rerr := os.Remove(path); rerr != nil {
				err = errors.Join(err, rerr)
			}

			return "", fmt.Errorf("sequence: write %s: %w", candidate, err)
		}

		return candidate, nil
	}
}

// safeName replaces characters that cannot appear in a file name.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unnamed"
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}

		return r
	}, s)
}
