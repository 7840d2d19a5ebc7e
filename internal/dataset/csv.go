// Package dataset reads labeled NIR spectra from the instrument's CSV export.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	// TargetColumn holds the Total Sugar (Pol) reference value
	TargetColumn = "TS"

	amplitudePrefix = "amplitude"
)

var ErrNoWavelengths = errors.New("no wavelength columns found")

// Dataset is a labeled set of raw spectra on a shared wavelength axis
type Dataset struct {
	Wavelengths []float64
	Spectra     [][]float64
	Targets     []float64
	Dropped     int // rows without a numeric target
}

// Len returns the number of labeled samples
func (d *Dataset) Len() int {
	return len(d.Spectra)
}

// LoadFile opens path and parses it with Load
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a CSV with a TS column and one column per wavelength. A
// wavelength column is named either amplitude-<nm> or just <nm>. Rows whose
// TS is empty or non-numeric are dropped.
func Load(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	target := -1
	var columns []int
	var wavelengths []float64
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == TargetColumn {
			target = i
			continue
		}
		nm, ok, err := parseWavelength(name)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		if ok {
			columns = append(columns, i)
			wavelengths = append(wavelengths, nm)
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("missing %s column", TargetColumn)
	}
	if len(columns) == 0 {
		return nil, ErrNoWavelengths
	}

	ds := &Dataset{Wavelengths: wavelengths}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		y, err := strconv.ParseFloat(strings.TrimSpace(record[target]), 64)
		if err != nil || math.IsNaN(y) {
			ds.Dropped++
			continue
		}

		spectrum := make([]float64, len(columns))
		for j, col := range columns {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, header[col], err)
			}
			spectrum[j] = v
		}
		ds.Spectra = append(ds.Spectra, spectrum)
		ds.Targets = append(ds.Targets, y)
	}

	if ds.Len() == 0 {
		return nil, fmt.Errorf("no rows with a numeric %s value", TargetColumn)
	}
	return ds, nil
}

// parseWavelength reports whether name is a wavelength column and its value
// in nm.
func parseWavelength(name string) (float64, bool, error) {
	if rest, found := strings.CutPrefix(name, amplitudePrefix); found {
		rest = strings.TrimLeft(rest, "-_ ")
		nm, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return 0, false, fmt.Errorf("bad wavelength in %q: %w", name, err)
		}
		return nm, true, nil
	}
	if isPlainNumber(name) {
		nm, err := strconv.ParseFloat(name, 64)
		if err != nil {
			return 0, false, err
		}
		return nm, true, nil
	}
	return 0, false, nil
}

// isPlainNumber accepts digits with at most one decimal point
func isPlainNumber(s string) bool {
	if s == "" {
		return false
	}
	dot := false
	digits := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}
