// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/524D/nparc/internal/simulate"
)

func newSimulateCmd() *cobra.Command {
	cfg := simulate.DefaultConfig
	cmd := &cobra.Command{
		Use:   "simulate [flags] <output.csv>",
		Short: "Write a synthetic TPP dataset with known stabilised proteins",
		Long: `Writes a tidy TPP table of simulated melting curves. The shifted
proteins (uniqueID HIT001...) melt at a higher temperature under the
non-zero compound concentration, all other proteins are unaffected.
The table also contains decoys, low confidence identifications and
incomplete curves that the filter removes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			ms := simulate.Generate(cfg)
			if err := simulate.WriteCSV(f, ms); err != nil {
				return err
			}
			log.Printf("Wrote %d measurements of %d proteins to %s",
				len(ms), cfg.NullProteins+cfg.ShiftedProteins+cfg.Decoys+cfg.Incomplete+cfg.LowConfidence, args[0])
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "dataset name")
	fl.IntVar(&cfg.NullProteins, "proteins", cfg.NullProteins, "number of unaffected proteins")
	fl.IntVar(&cfg.ShiftedProteins, "shifted", cfg.ShiftedProteins, "number of stabilised proteins")
	fl.Float64Var(&cfg.Shift, "shift", cfg.Shift, "melting point shift of stabilised proteins in degrees")
	fl.Float64Var(&cfg.Noise, "noise", cfg.Noise, "standard deviation of the relative abundance noise")
	fl.IntVar(&cfg.Replicates, "replicates", cfg.Replicates, "replicates per concentration")
	fl.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}
