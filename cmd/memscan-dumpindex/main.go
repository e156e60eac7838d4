// Command memscan-dumpindex catalogs captured memory dumps (internal/dump)
// into a local SQLite database (internal/dumpindex) so a diagnosis session
// can query past captures by ground-truth hand ID instead of grepping
// sidecars. Three subcommands: ingest a single file, list the catalog, or
// watch a directory for new arrivals. Flag/subcommand shape follows the
// teacher's main()'s flag-then-dispatch style, generalized to subcommands
// since this tool has more than one verb.
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

	"github.com/dustin/go-humanize"

	"github.com/apmlabs/memscan-core/internal/applog"
	"github.com/apmlabs/memscan-core/internal/dumpindex"
	"github.com/apmlabs/memscan-core/internal/dumpwatch"
)

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	dbFlag := flag.String("db", "dumpindex.db", "path to the catalog database")
	flag.Parse()

	applog.Init(*debugFlag, nil)

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: memscan-dumpindex [-db path] <ingest|list|watch> ...")
		os.Exit(2)
	}

	repo, err := dumpindex.Open(*dbFlag)
	if err != nil {
		slog.Error("open catalog", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cmdErr error
	switch args[0] {
	case "ingest":
		cmdErr = runIngest(ctx, repo, args[1:])
	case "list":
		cmdErr = runList(ctx, repo, args[1:])
	case "watch":
		cmdErr = runWatch(ctx, repo, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		os.Exit(2)
	}

	if cmdErr != nil {
		slog.Error("memscan-dumpindex exited with error", "error", cmdErr)
		os.Exit(1)
	}
}

func runIngest(ctx context.Context, repo *dumpindex.Repository, args []string) error {
	for _, path := range args {
		if err := repo.Ingest(ctx, path); err != nil {
			return err
		}
		slog.Info("ingested", "path", path)
	}
	return nil
}

func runList(ctx context.Context, repo *dumpindex.Repository, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	handID := fs.Uint64("hand-id", 0, "filter by ground-truth hand ID")
	asJSON := fs.Bool("json", false, "emit one JSON object per line instead of a human-readable table")
	fs.Parse(args)

	entries, err := repo.ListDumps(ctx, dumpindex.Filter{HandID: *handID})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%-40s  hand=%-15d  process=%-16s  captured %s\n",
			e.Path, e.GTHandID, e.ProcessName, humanize.Time(e.CapturedAt))
	}
	return nil
}

func runWatch(ctx context.Context, repo *dumpindex.Repository, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory to watch for new *.dump files")
	fs.Parse(args)

	w, err := dumpwatch.New(*dir, repo, func(err error) {
		slog.Warn("dumpwatch error", "error", err)
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return err
	}
	slog.Info("watching", "dir", *dir)

	<-ctx.Done()
	slog.Info("stopping", "reason", ctx.Err())
	return nil
}
