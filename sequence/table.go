package sequence

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/arloliu/go-robotray/stage"
)

// ErrNoRow is returned by OffsetTable.Row for a row outside the table.
var ErrNoRow = errors.New("sequence: offset table row out of range")

// OffsetTable is the planned list of relative stage moves, one per advance.
type OffsetTable struct {
	header []string
	rows   [][]string
}

// LoadOffsetTable reads a tab-separated offset table from path.
func LoadOffsetTable(path string) (*OffsetTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sequence: open offset table: %w", err)
	}
	defer f.Close()

	return ParseOffsetTable(f)
}

// ParseOffsetTable reads a header row followed by "dx<TAB>dy[<TAB>dz]" rows. Rows are
// validated when they are used, so that a malformed row late in the table does not
// prevent a run from starting.
func ParseOffsetTable(r io.Reader) (*OffsetTable, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("sequence: read offset table: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("sequence: offset table has no header row")
	}

	return &OffsetTable{header: records[0], rows: records[1:]}, nil
}

// Header returns the header row.
func (t *OffsetTable) Header() []string { return t.header }

// Len returns the number of data rows.
func (t *OffsetTable) Len() int { return len(t.rows) }

// Row returns the move of data row i, 0-based.
func (t *OffsetTable) Row(i int) (stage.Position, error) {
	if i < 0 || i >= len(t.rows) {
		return stage.Position{}, fmt.Errorf("%w: row %d of %d", ErrNoRow, i, len(t.rows))
	}

	rec := t.rows[i]
	if len(rec) < 2 {
		return stage.Position{}, fmt.Errorf("sequence: offset table row %d: want at least 2 columns, got %d", i, len(rec))
	}

	var vals [3]float64
	for j := 0; j < len(rec) && j < 3; j++ {
		field := strings.TrimSpace(rec[j])
		if field == "" && j == 2 {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return stage.Position{}, fmt.Errorf("sequence: offset table row %d column %d: %w", i, j+1, err)
		}
		vals[j] = v
	}

	return stage.Position{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
