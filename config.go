// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrConfigKey = errors.New("unknown configuration key")

// applyConfigFile sets flags from a YAML file that maps flag names to
// values, e.g.
//
//	alpha: 0.05
//	seed: 42
//	slope: "100:10000"
//
// Flags given on the command line take precedence.
func applyConfigFile(flags *pflag.FlagSet, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}

	// Apply in a fixed order so errors are reproducible
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f := flags.Lookup(k)
		if f == nil || k == `config` {
			return fmt.Errorf("%s: %w %q", filename, ErrConfigKey, k)
		}
		if f.Changed {
			continue
		}
		if err := flags.Set(k, fmt.Sprint(cfg[k])); err != nil {
			return fmt.Errorf("%s: key %q: %w", filename, k, err)
		}
	}
	return nil
}
