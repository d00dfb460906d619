package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bettervcard/vcardkit/internal/config"
	"github.com/bettervcard/vcardkit/internal/core"
)

func main() {
	_ = godotenv.Load() // no .env is the normal case

	var (
		configPath = flag.String("config", "", "optional TOML config file")
		out        = flag.String("o", "contacts-4.0.vcf", "destination path")
		region     = flag.String("region", "", "default phone region (ISO 3166-1 alpha-2, or auto)")
		strict     = flag.Bool("strict", false, "abort the run on any hard finding")
		dryRun     = flag.Bool("dry-run", false, "run the pipeline and report, write nothing")
		noPhotos   = flag.Bool("no-photos", false, "drop photo blobs from the output")
		noNFC      = flag.Bool("no-nfc", false, "disable Unicode NFC normalization")
		repair     = flag.String("encoding-repair", "", "off | safe-defaults | aggressive")
		reportPath = flag.String("report", "", "write the run report as JSON to this path")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(os.Getenv("VCARDKIT_LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		log = log.Level(lvl)
	}

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if *region != "" {
		cfg.Region = *region
	}
	if *strict {
		cfg.Strict = true
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *noPhotos {
		f := false
		cfg.KeepPhotos = &f
	}
	if *noNFC {
		f := false
		cfg.NFC = &f
	}
	if *repair != "" {
		cfg.EncodingRepair = *repair
	}
	if *reportPath != "" {
		cfg.ReportPath = *reportPath
	}

	runCfg, err := cfg.Resolve()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: vcardkit [flags] input.vcf [more.vcf ...]")
		os.Exit(2)
	}
	inputs := make([]core.Input, len(paths))
	for i, p := range paths {
		inputs[i] = core.FileInput(p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := core.New(runCfg, log)
	report, runErr := pipeline.Run(ctx, inputs, *out)

	if cfg.ReportPath != "" && report != nil {
		if data, err := json.MarshalIndent(report, "", "  "); err == nil {
			if err := os.WriteFile(cfg.ReportPath, data, 0o644); err != nil {
				log.Error().Err(err).Msg("failed to write report")
			}
		}
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("run failed")
		os.Exit(1)
	}
	if report.SoftFindings > 0 {
		log.Warn().Int("soft", report.SoftFindings).Msg("completed with soft findings")
	}
}
