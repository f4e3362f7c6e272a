// Command scorectl is the operator CLI of the score portal: it imports
// rosters and results, manages exams and prints rankings, statistics,
// reports and predictions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/score-portal/score-portal/config"
	"github.com/score-portal/score-portal/internal/app"
	"github.com/score-portal/score-portal/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Format = logger.FormatText
	opts.Level = logger.LevelWarn
	if os.Getenv("SCORECTL_VERBOSE") != "" {
		opts.Level = logger.LevelDebug
	}
	log := logger.New(opts)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	cli := &commandLine{ctx: ctx, app: a, out: os.Stdout}
	err = cli.run(os.Args)
	if cerr := a.Close(); cerr != nil {
		log.Warn("close failed", logger.Err(cerr))
	}
	if err != nil {
		if !errors.Is(err, errHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
