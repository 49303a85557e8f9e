package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// ResultSchema identifies the shape of a test result.
type ResultSchema int

const (
	// ResultUnknown results carry no chemistry in a known location.
	ResultUnknown ResultSchema = iota
	// ResultCurrent results carry testData.chemistry as atomic number/percent pairs.
	ResultCurrent
	// ResultLegacy results carry a top-level chemistry or composition field.
	ResultLegacy
)

func (s ResultSchema) String() string {
	switch s {
	case ResultCurrent:
		return "current"
	case ResultLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Analyte is one chemistry row.
type Analyte struct {
	Name string
	// AtomicNumber is 0 when the payload names the analyte only.
	AtomicNumber int
	Value        float64
	Uncertainty  float64
	// BelowLOD is set when the value is under the limit of detection; Value is then
	// the limit.
	BelowLOD bool
	// Units is "wt%" for current results, empty when the payload does not say.
	Units string
}

// flagBelowLOD is the chemistry flag bit for values under the limit of detection.
const flagBelowLOD = 8

// Spectrum is one beam's spectrum.
type Spectrum struct {
	Name   string
	Counts []float64
	// EnergyOffset and EnergySlope map a bin index to keV.
	EnergyOffset       float64
	EnergySlope        float64
	LiveTime           float64
	LiveTimeMultiplier float64
}

// Energy returns the energy in keV of bin i.
func (s Spectrum) Energy(i int) float64 {
	return s.EnergyOffset + float64(i)*s.EnergySlope
}

// CPSFactor returns the factor converting counts to counts per second. ok is false
// unless both live time fields are positive.
func (s Spectrum) CPSFactor() (factor float64, ok bool) {
	if s.LiveTime <= 0 || s.LiveTimeMultiplier <= 0 {
		return 0, false
	}

	return s.LiveTimeMultiplier / s.LiveTime, true
}

// Result is a test result normalized across firmware revisions.
type Result struct {
	Schema       ResultSchema
	SerialNumber string
	// Grades holds the first, second and third grade matches that are present.
	Grades    []string
	Chemistry []Analyte
	Spectra   []Spectrum
}

// DecodeResult normalizes a test result. A JSON object in an unknown schema decodes
// with Schema ResultUnknown; spectra are decoded regardless of the chemistry schema.
func DecodeResult(raw []byte) (Result, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Result{}, fmt.Errorf("%w: result: %w", ErrInvalidPayload, err)
	}
	if doc == nil {
		return Result{}, fmt.Errorf("%w: result is not an object", ErrInvalidPayload)
	}

	res := Result{SerialNumber: scalarString(doc["serialNumber"])}

	td, _ := doc["testData"].(map[string]any)
	if chem, ok := td["chemistry"].([]any); ok {
		res.Schema = ResultCurrent
		res.Chemistry = decodeCurrentChemistry(chem)
	} else if chem := firstPresent(doc, "chemistry", "composition"); chem != nil {
		if rows, ok := decodeLegacyChemistry(chem); ok {
			res.Schema = ResultLegacy
			res.Chemistry = rows
		}
	}

	for _, k := range []string{"firstGradeMatch", "secondGradeMatch", "thirdGradeMatch"} {
		if g := scalarString(td[k]); g != "" {
			res.Grades = append(res.Grades, g)
		}
	}

	if specs, ok := doc["spectra"].([]any); ok {
		for i, v := range specs {
			sp, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := decodeSpectrum(sp, i+1); ok {
				res.Spectra = append(res.Spectra, s)
			}
		}
	}

	return res, nil
}

func decodeCurrentChemistry(list []any) []Analyte {
	rows := make([]Analyte, 0, len(list))
	for _, v := range list {
		it, ok := v.(map[string]any)
		if !ok {
			continue
		}
		val, ok := number(it["percent"])
		if !ok {
			continue
		}

		a := Analyte{Name: elementName(it["atomicNumber"]), Value: val, Units: "wt%"}
		if z, ok := number(it["atomicNumber"]); ok && z == float64(int(z)) {
			a.AtomicNumber = int(z)
		}
		a.Uncertainty, _ = number(it["uncertainty"])
		if flags, ok := number(it["flags"]); ok {
			a.BelowLOD = int64(flags)&flagBelowLOD != 0
		}
		rows = append(rows, a)
	}

	return rows
}

func decodeLegacyChemistry(v any) ([]Analyte, bool) {
	switch t := v.(type) {
	case map[string]any:
		rows := make([]Analyte, 0, len(t))
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if f, ok := number(t[k]); ok {
				rows = append(rows, Analyte{Name: k, Value: f})
			}
		}

		return rows, true
	case []any:
		rows := make([]Analyte, 0, len(t))
		for _, v := range t {
			it, ok := v.(map[string]any)
			if !ok {
				continue
			}
			name := scalarString(firstPresent(it, "name", "analyte"))
			f, ok := number(it["value"])
			if name == "" || !ok {
				continue
			}
			rows = append(rows, Analyte{Name: name, Value: f})
		}

		return rows, true
	default:
		return nil, false
	}
}

func decodeSpectrum(sp map[string]any, index int) (Spectrum, bool) {
	data, ok := firstPresent(sp, "data", "counts").([]any)
	if !ok || len(data) == 0 {
		return Spectrum{}, false
	}

	s := Spectrum{Name: scalarString(sp["beamName"]), EnergySlope: 1, Counts: make([]float64, len(data))}
	if s.Name == "" {
		s.Name = "beam_" + strconv.Itoa(index)
	}
	for i, v := range data {
		s.Counts[i], _ = number(v)
	}
	if f, ok := number(sp["energyOffset"]); ok {
		s.EnergyOffset = f
	}
	if f, ok := number(sp["energySlope"]); ok {
		s.EnergySlope = f
	}
	s.LiveTime, _ = number(sp["liveTime"])
	s.LiveTimeMultiplier, _ = number(sp["liveTimeMultiplier"])

	return s, true
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}

	return nil
}

var elementSymbols = []string{
	"", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th",
	"Pa", "U",
}

// ElementSymbol returns the chemical symbol of atomic number z, or "Z<z>" when z is
// out of range.
func ElementSymbol(z int) string {
	if z > 0 && z < len(elementSymbols) {
		return elementSymbols[z]
	}

	return "Z" + strconv.Itoa(z)
}

func elementName(v any) string {
	f, ok := number(v)
	if !ok || f != float64(int(f)) {
		return "Z" + scalarString(v)
	}

	return ElementSymbol(int(f))
}
