// Package memscan is the public façade of spec §6.1: Start builds every
// internal component (process attachment or dump playback, the locator,
// the container tracker, the live poller) behind the three operations a
// surrounding application needs — InitialScan, NextUpdate, Refresh — plus
// Stop. Nothing outside this file and cmd/ ever constructs a Poller or a
// winproc.Reader directly.
package memscan

import (
	"context"

	"github.com/pkg/errors"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/config"
	"github.com/apmlabs/memscan-core/internal/dump"
	"github.com/apmlabs/memscan-core/internal/poller"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// HandData and PollOutcome are re-exported so callers never import the
// internal packages directly.
type HandData = codec.HandData
type PollOutcome = poller.PollOutcome

const (
	NoChange = poller.NoChange
	Grew     = poller.Grew
	NewHand  = poller.NewHand
	Lost     = poller.Lost
)

// Core is one live-state-extraction session: one attached reader, one
// Poller. Not safe to use from multiple goroutines concurrently beyond
// what the underlying Poller already documents.
type Core struct {
	reader winproc.Reader
	poller *poller.Poller
	cancel context.CancelFunc
}

// Start validates cfg and opens the configured source (a live process or
// a captured dump, spec §6.2), but does not yet scan for a buffer — call
// InitialScan for that, same two-step shape as the teacher's
// application.Service construction followed by its own first refresh.
func Start(cfg config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	reader, err := openSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	p := poller.New(reader, poller.Options{
		HeroHandle:       cfg.HeroHandle,
		MaxEntries:       cfg.MaxEntries,
		PollInterval:     cfg.PollInterval(),
		ContainerEnabled: cfg.ContainerEnabled,
		StaticSource:     cfg.Source.Kind == config.SourceDump,
	})

	return &Core{reader: reader, poller: p}, nil
}

func openSource(src config.Source) (winproc.Reader, error) {
	switch src.Kind {
	case config.SourceDump:
		reader, _, err := dump.OpenDump(src.DumpPath)
		if err != nil {
			return nil, errors.Wrapf(err, "open dump %s", src.DumpPath)
		}
		return reader, nil
	default:
		reader, err := winproc.Attach(winproc.Selector{
			ProcessName: src.ProcessName,
			ProcessID:   src.ProcessID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "attach to process")
		}
		return reader, nil
	}
}

// InitialScan runs the Buffer Locator once and starts the background poll
// loop (spec §4.5.1 initial_scan(), §6.1). Call it exactly once per Core.
func (c *Core) InitialScan(ctx context.Context) (HandData, error) {
	data, err := c.poller.InitialScan(ctx)
	if err != nil {
		return HandData{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.poller.Run(runCtx)

	return data, nil
}

// NextUpdate blocks until the next PollOutcome is available, ctx is
// cancelled, or the core is stopped (spec §6.1 next_update()).
func (c *Core) NextUpdate(ctx context.Context) (PollOutcome, error) {
	return c.poller.NextUpdate(ctx)
}

// Refresh forces an immediate signature rescan on the next poll tick
// (spec §6.1 refresh()), e.g. after the surrounding application detects
// the poker client reconnected or changed tables.
func (c *Core) Refresh() {
	c.poller.Refresh()
}

// Stop ends the poll loop and releases the underlying reader. Safe to
// call once the Core is no longer in use; NextUpdate calls blocked at the
// time return scanerr.ErrLost.
func (c *Core) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.poller.Stop()
	return c.reader.Close()
}
