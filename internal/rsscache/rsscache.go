// Package rsscache stores the table of RSS comparison records, so that
// the curve fits need not be repeated when only the tests are redone.
package rsscache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/524D/nparc/internal/nparc"
)

// FormatVersion is written to every cache file. If the format ever
// changes, files of older versions must still be readable.
const FormatVersion = "1.0"

// ErrVersion means the file was written in an unknown format
var ErrVersion = errors.New("rsscache: unsupported format version")

// Table is the content of a cache file
type Table struct {
	Seed    uint64
	Records []nparc.Record
}

type fileContent struct {
	NparcVersion string
	Seed         uint64
	Records      []record
}

// record mirrors nparc.Record; JSON has no NaN, so undefined RSS values
// are written as null
type record struct {
	Dataset       string
	UniqueID      string
	RSSNull       *float64
	RSSAlt        *float64
	RSSDiff       *float64
	NFittedNull   int
	NFittedAlt    int
	NCoeffsNull   int
	NCoeffsAlt    int
	TimesRepeated int
	Applicable    bool
}

func toJSON(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func fromJSON(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Write writes the table as indented JSON
func Write(w io.Writer, t Table) error {
	c := fileContent{
		NparcVersion: FormatVersion,
		Seed:         t.Seed,
		Records:      make([]record, len(t.Records)),
	}
	for i, r := range t.Records {
		c.Records[i] = record{
			Dataset:       r.Dataset,
			UniqueID:      r.UniqueID,
			RSSNull:       toJSON(r.RSSNull),
			RSSAlt:        toJSON(r.RSSAlt),
			RSSDiff:       toJSON(r.RSSDiff),
			NFittedNull:   r.NFittedNull,
			NFittedAlt:    r.NFittedAlt,
			NCoeffsNull:   r.NCoeffsNull,
			NCoeffsAlt:    r.NCoeffsAlt,
			TimesRepeated: r.TimesRepeated,
			Applicable:    r.Applicable,
		}
	}
	e := json.NewEncoder(w)
	e.SetIndent(``, `  `) // Make output easier to read for humans
	return e.Encode(c)
}

// Read reads a table written by Write
func Read(r io.Reader) (Table, error) {
	var t Table
	var c fileContent
	d := json.NewDecoder(r)
	if err := d.Decode(&c); err != nil {
		return t, err
	}
	if c.NparcVersion != FormatVersion {
		return t, fmt.Errorf("%w %q", ErrVersion, c.NparcVersion)
	}
	t.Seed = c.Seed
	t.Records = make([]nparc.Record, len(c.Records))
	for i, r := range c.Records {
		t.Records[i] = nparc.Record{
			Dataset:       r.Dataset,
			UniqueID:      r.UniqueID,
			RSSNull:       fromJSON(r.RSSNull),
			RSSAlt:        fromJSON(r.RSSAlt),
			RSSDiff:       fromJSON(r.RSSDiff),
			NFittedNull:   r.NFittedNull,
			NFittedAlt:    r.NFittedAlt,
			NCoeffsNull:   r.NCoeffsNull,
			NCoeffsAlt:    r.NCoeffsAlt,
			TimesRepeated: r.TimesRepeated,
			Applicable:    r.Applicable,
		}
	}
	return t, nil
}

// compressed reports whether a file name asks for zstd compression
func compressed(filename string) bool {
	return strings.HasSuffix(filename, `.zst`)
}

// WriteFile writes the table to a file, zstd compressed if the name
// ends in ".zst"
func WriteFile(filename string, t Table) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !compressed(filename) {
		return Write(f, t)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if err := Write(zw, t); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadFile reads a table written by WriteFile
func ReadFile(filename string) (Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	if !compressed(filename) {
		return Read(f)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return Table{}, err
	}
	defer zr.Close()
	return Read(zr)
}
