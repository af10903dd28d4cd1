package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/swaracoach/internal/api"
	"github.com/MrWong99/swaracoach/internal/app"
	"github.com/MrWong99/swaracoach/internal/config"
	"github.com/MrWong99/swaracoach/internal/mantra"
)

// runAnalyze scores one recording against a mantra line and prints the
// result as JSON.
func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	mantraPath := fs.String("mantra", "", "mantra file; overrides practice.mantra_file")
	section := fs.String("section", "", "section id of the reference line")
	line := fs.Int("line", 0, "zero-based line index within the section")
	baseline := fs.Float64("baseline", 0, "base tone in Hz; 0 uses the configured value")
	estimate := fs.Bool("estimate-baseline", false, "estimate the base tone from the recording's median pitch")
	boundaries := fs.String("boundaries", "", `syllable spans in seconds, e.g. "0-0.25,0.25-0.6"`)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: swaracoach analyze [-mantra FILE] -section ID [flags] recording.wav|recording.mp3")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || *section == "" {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && *mantraPath != "":
		// No config file: analyse with defaults.
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	case err != nil:
		fmt.Fprintf(os.Stderr, "swaracoach: %v\n", err)
		return 1
	}
	if *mantraPath != "" {
		cfg.Practice.MantraFile = *mantraPath
	}
	lib, err := mantra.Load(cfg.Practice.MantraFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swaracoach: %v\n", err)
		return 1
	}
	spans, err := api.ParseBoundaries(*boundaries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swaracoach: -boundaries: %v\n", err)
		return 2
	}
	if *baseline < 0 {
		fmt.Fprintln(os.Stderr, "swaracoach: -baseline must not be negative")
		return 2
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swaracoach: %v\n", err)
		return 1
	}

	res, err := api.AnalyzeRecording(context.Background(), lib, api.AnalyzeRequest{
		Section:    *section,
		Line:       *line,
		BaselineHz: resolveBaseline(*baseline, *estimate, cfg.Swara.BaselineHz),
		Boundaries: spans,
	}, filepath.Base(path), data, app.SettingsFromConfig(cfg).AnalyzeOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "swaracoach: analyze %s: %v\n", path, err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "swaracoach: %v\n", err)
		return 1
	}
	return 0
}

// resolveBaseline picks the base tone handed to the analysis. Zero means
// the analysis estimates it.
func resolveBaseline(flagHz float64, estimate bool, configured float64) float64 {
	switch {
	case estimate:
		return 0
	case flagHz > 0:
		return flagHz
	default:
		return configured
	}
}
