// Command memscan is a thin CLI harness over the memscan-core façade: it
// attaches (or opens a dump), runs one initial scan, then prints every
// subsequent PollOutcome as JSON until interrupted. Grounded directly on
// the teacher's main(): flag parsing -> applog.Init -> construct the
// application -> run its loop, substituting "print to stdout" for
// "launch the fyne window."
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	memscan "github.com/apmlabs/memscan-core"
	"github.com/apmlabs/memscan-core/internal/applog"
	"github.com/apmlabs/memscan-core/internal/config"
)

var (
	version   = "dev"
	commit    = "local"
	buildDate = "unknown"
)

func main() {
	processFlag := flag.String("process", "", "process name substring to attach to (mutually exclusive with -dump)")
	heroFlag := flag.String("hero", "", "hero display name, as it appears in-client")
	dumpFlag := flag.String("dump", "", "path to a captured memory dump, in place of a live process")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	pollMSFlag := flag.Int("poll-ms", config.DefaultPollIntervalMS, "poll interval in milliseconds")
	flag.Parse()

	debug := *debugFlag || os.Getenv("MEMSCAN_DEBUG") == "1"
	applog.Init(debug, nil)

	slog.Info("starting",
		"version", version,
		"commit", commit,
		"buildDate", buildDate,
		"debug", debug,
	)

	cfg := config.Default()
	cfg.HeroHandle = *heroFlag
	cfg.PollIntervalMS = *pollMSFlag
	if *dumpFlag != "" {
		cfg.Source = config.Source{Kind: config.SourceDump, DumpPath: *dumpFlag}
	} else {
		cfg.Source = config.Source{Kind: config.SourceProcess, ProcessName: *processFlag}
	}

	if err := run(cfg); err != nil {
		slog.Error("memscan exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	core, err := memscan.Start(cfg)
	if err != nil {
		return err
	}
	defer core.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := core.InitialScan(ctx)
	if err != nil {
		return err
	}
	printJSON(data)

	for {
		outcome, err := core.NextUpdate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("stopping", "reason", ctx.Err())
				return nil
			}
			return err
		}
		printJSON(outcome)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode output:", err)
	}
}
