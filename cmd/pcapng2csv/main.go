package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucid-vigil/nids-watch/pkg/logger"
	"github.com/lucid-vigil/nids-watch/pkg/pcapcsv"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	inputFolder := flag.String("input_folder", "", "folder containing .pcapng captures")
	outputFolder := flag.String("output_folder", "", "folder the .csv files are written to")
	workers := flag.Int("workers", 0, "number of files converted concurrently (0 = one per CPU)")
	logLevel := flag.String("log_level", "info", "log level")
	logFormat := flag.String("log_format", "console", "log format (json or console)")
	flag.Parse()

	if *inputFolder == "" || *outputFolder == "" {
		fmt.Fprintln(os.Stderr, "both --input_folder and --output_folder are required")
		flag.Usage()
		os.Exit(2)
	}

	logger.InitLogger(*logLevel, *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := pcapcsv.ConvertDir(ctx, *inputFolder, *outputFolder, *workers, log.Logger)
	converted := 0
	for _, r := range results {
		if r.Err == nil {
			converted++
		}
	}
	log.Info().Int("files", len(results)).Int("converted", converted).Msg("Conversion finished")

	if err != nil {
		log.Error().Err(err).Msg("Some captures could not be converted")
		os.Exit(1)
	}
}
