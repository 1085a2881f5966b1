package tpp

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// Read reads a tidy TPP table from an io.Reader.
// The first row must name the columns; their order does not matter and
// columns we don't use are skipped. Tab separated input is recognised from
// the header. encoding is a charset label such as "utf-8" or "latin1";
// empty means utf-8.
func Read(reader io.Reader, encoding string) ([]Measurement, error) {
	if encoding == `` {
		encoding = `utf-8`
	}
	r, err := charset.NewReaderLabel(encoding, reader)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(r)

	// Peek at the header line to find the delimiter
	head, err := br.Peek(br.Size())
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	if len(head) == 0 {
		return nil, ErrEmptyTable
	}
	firstLine := string(head)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}

	cr := csv.NewReader(br)
	if strings.Count(firstLine, "\t") > strings.Count(firstLine, ",") {
		cr.Comma = '\t'
	}
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		// Strip a byte order mark and surrounding space
		h = strings.TrimPrefix(h, "\ufeff")
		col[strings.TrimSpace(h)] = i
	}
	pos := make([]int, len(Columns))
	for i, c := range Columns {
		p, ok := col[c]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, c)
		}
		pos[i] = p
	}

	var ms []Measurement
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		m, err := parseRow(rec, pos)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ms = append(ms, m)
	}
	return ms, nil
}

func parseRow(rec []string, pos []int) (Measurement, error) {
	var m Measurement
	var err error
	m.Dataset = rec[pos[0]]
	m.UniqueID = rec[pos[1]]
	m.RelAbundance, err = parseValue(rec[pos[2]], ColRelAbundance, true)
	if err != nil {
		return m, err
	}
	m.Temperature, err = parseValue(rec[pos[3]], ColTemperature, false)
	if err != nil {
		return m, err
	}
	m.CompoundConcentration, err = parseValue(rec[pos[4]], ColCompoundConcentration, false)
	if err != nil {
		return m, err
	}
	m.Replicate, err = parseCount(rec[pos[5]], ColReplicate)
	if err != nil {
		return m, err
	}
	m.UniquePeptideMatches, err = parseCount(rec[pos[6]], ColUniquePeptideMatches)
	return m, err
}

func isMissing(s string) bool {
	switch s {
	case ``, `NA`, `NaN`, `nan`:
		return true
	}
	return false
}

// parseValue parses a float cell. Missing values give NaN, but only
// where they are allowed.
func parseValue(s string, name string, allowMissing bool) (float64, error) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		if allowMissing {
			return math.NaN(), nil
		}
		return 0, fmt.Errorf("%w: %s is missing", ErrInvalidValue, name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidValue, name, s)
	}
	return v, nil
}

// parseCount parses an integer cell. R writes integers as e.g. "2" but
// some exports give "2.0", so both are accepted.
func parseCount(s string, name string) (int, error) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidValue, name, s)
	}
	return int(v), nil
}
