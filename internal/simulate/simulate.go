// Package simulate generates synthetic TPP datasets with known
// stabilised proteins.
package simulate

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/524D/nparc/internal/sigmoid"
	"github.com/524D/nparc/internal/tpp"
)

// Temperatures of the standard 10-plex TPP gradient
var Temperatures = []float64{37, 40.4, 44, 46.9, 49.8, 52.9, 55.5, 58.6, 62, 66.3}

// Config describes the dataset to generate
type Config struct {
	Dataset         string
	NullProteins    int     // same curve under every concentration
	ShiftedProteins int     // melting point moved by Shift under treatment
	Shift           float64 // degrees
	Decoys          int
	Incomplete      int // proteins with one temperature missing
	LowConfidence   int // proteins identified by no unique peptide
	Concentrations  []float64
	Replicates      int
	Noise           float64 // standard deviation of the abundance noise
	Seed            uint64
}

// DefaultConfig is a small ATP-like experiment
var DefaultConfig = Config{
	Dataset:         `sim`,
	NullProteins:    200,
	ShiftedProteins: 5,
	Shift:           4,
	Decoys:          3,
	Incomplete:      3,
	LowConfidence:   3,
	Concentrations:  []float64{0, 2},
	Replicates:      2,
	Noise:           0.03,
	Seed:            1,
}

// ShiftedID returns the uniqueID of the i-th shifted protein
func ShiftedID(i int) string {
	return fmt.Sprintf("HIT%03d", i+1)
}

// NullID returns the uniqueID of the i-th null protein
func NullID(i int) string {
	return fmt.Sprintf("PROT%04d", i+1)
}

type protein struct {
	id       string
	qupm     int
	shift    float64
	dropTemp bool
}

// Generate returns the measurements of a synthetic experiment
func Generate(cfg Config) []tpp.Measurement {
	rng := rand.New(rand.NewSource(cfg.Seed))
	noise := distuv.Normal{Mu: 0, Sigma: cfg.Noise, Src: rng}
	if cfg.Noise <= 0 {
		noise.Sigma = 0
	}

	var prots []protein
	for i := 0; i < cfg.NullProteins; i++ {
		prots = append(prots, protein{id: NullID(i), qupm: 1 + rng.Intn(20)})
	}
	for i := 0; i < cfg.ShiftedProteins; i++ {
		prots = append(prots, protein{id: ShiftedID(i), qupm: 1 + rng.Intn(20), shift: cfg.Shift})
	}
	for i := 0; i < cfg.Decoys; i++ {
		prots = append(prots, protein{id: fmt.Sprintf("%sDECOY%03d", tpp.DecoyMarker, i+1), qupm: 2})
	}
	for i := 0; i < cfg.Incomplete; i++ {
		prots = append(prots, protein{id: fmt.Sprintf("PARTIAL%03d", i+1), qupm: 2, dropTemp: true})
	}
	for i := 0; i < cfg.LowConfidence; i++ {
		prots = append(prots, protein{id: fmt.Sprintf("LOWQ%03d", i+1), qupm: 0})
	}

	var ms []tpp.Measurement
	for _, p := range prots {
		tm := 45 + 15*rng.Float64()
		b := 8 + 6*rng.Float64()
		base := sigmoid.Params{Plateau: 0.1 * rng.Float64(), Slope: b * tm, Inflection: b}
		for ci, conc := range cfg.Concentrations {
			par := base
			if ci > 0 && p.shift != 0 {
				par.Slope = b * (tm + p.shift)
			}
			for rep := 1; rep <= cfg.Replicates; rep++ {
				for ti, t := range Temperatures {
					if p.dropTemp && ti == len(Temperatures)-1 {
						continue
					}
					v := par.Eval(t)
					if noise.Sigma > 0 {
						v += noise.Rand()
					}
					ms = append(ms, tpp.Measurement{
						Dataset:               cfg.Dataset,
						UniqueID:              p.id,
						RelAbundance:          v,
						Temperature:           t,
						CompoundConcentration: conc,
						Replicate:             rep,
						UniquePeptideMatches:  p.qupm,
					})
				}
			}
		}
	}
	return ms
}

// WriteCSV writes measurements as a tidy table that tpp.Read accepts
func WriteCSV(w io.Writer, ms []tpp.Measurement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tpp.Columns); err != nil {
		return err
	}
	row := make([]string, len(tpp.Columns))
	for _, m := range ms {
		row[0] = m.Dataset
		row[1] = m.UniqueID
		if math.IsNaN(m.RelAbundance) {
			row[2] = `NA`
		} else {
			row[2] = strconv.FormatFloat(m.RelAbundance, 'g', -1, 64)
		}
		row[3] = strconv.FormatFloat(m.Temperature, 'g', -1, 64)
		row[4] = strconv.FormatFloat(m.CompoundConcentration, 'g', -1, 64)
		row[5] = strconv.Itoa(m.Replicate)
		row[6] = strconv.Itoa(m.UniquePeptideMatches)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
