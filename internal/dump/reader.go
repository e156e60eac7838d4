package dump

import (
	"log/slog"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/scanerr"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// Capture writes a full dump: every region reader currently exposes,
// snapshotted in one pass, plus a sidecar describing the capture context.
// The regions are read in address order so a dump is reproducibly laid
// out regardless of the order the source OS API returned them in.
func Capture(path string, reader winproc.Reader, meta DumpMeta) error {
	if meta.CaptureID == "" {
		meta.CaptureID = uuid.NewString()
	}

	regions, err := reader.Regions()
	if err != nil {
		return scanerr.Wrap(scanerr.KindEnvironmental, err, "enumerate regions for capture")
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })

	payloads := make([][]byte, len(regions))
	var skipped error
	for i, r := range regions {
		data, err := reader.Read(r.Base, int(r.Size))
		if err != nil {
			// A region that goes unreadable mid-capture is recorded as an
			// empty payload rather than aborting the whole capture.
			payloads[i] = nil
			regions[i].Size = 0
			skipped = multierr.Append(skipped, errors.Wrapf(err, "region %#x", r.Base))
			continue
		}
		payloads[i] = data
	}
	if skipped != nil {
		slog.Warn("capture skipped unreadable regions", "path", path, "error", skipped)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create dump file")
	}
	defer f.Close()

	if err := WriteRegions(f, regions, payloads); err != nil {
		return err
	}
	return WriteSidecar(path, meta)
}

// dumpReader is a winproc.Reader backed by a fully-loaded dump file: a
// fixed snapshot, never re-read from disk after OpenDump returns.
type dumpReader struct {
	regions []winproc.Region
	spans   []span // parallel to regions, sorted by Base for lookup
}

type span struct {
	base codec.Address
	end  codec.Address
	data []byte
}

// OpenDump loads a dump file and returns a Reader backed by its captured
// bytes, plus the sidecar metadata, implementing spec §8.1 Scenario F's
// "Source::Dump(path)": the locator and poller run unmodified against it.
func OpenDump(path string) (winproc.Reader, DumpMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, DumpMeta{}, errors.Wrap(err, "open dump file")
	}
	defer f.Close()

	regions, payloads, err := readRegions(f)
	if err != nil {
		return nil, DumpMeta{}, err
	}

	spans := make([]span, len(regions))
	for i, r := range regions {
		spans[i] = span{base: r.Base, end: r.Base + codec.Address(r.Size), data: payloads[i]}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].base < spans[j].base })

	meta, err := ReadSidecar(path)
	if err != nil {
		meta = DumpMeta{}
	}
	return &dumpReader{regions: regions, spans: spans}, meta, nil
}

func (d *dumpReader) Regions() ([]winproc.Region, error) {
	out := make([]winproc.Region, len(d.regions))
	copy(out, d.regions)
	return out, nil
}

func (d *dumpReader) Read(addr codec.Address, length int) ([]byte, error) {
	for _, s := range d.spans {
		if addr < s.base || addr >= s.end {
			continue
		}
		off := int(addr - s.base)
		if off+length > len(s.data) {
			return nil, scanerr.ErrNotReadable
		}
		out := make([]byte, length)
		copy(out, s.data[off:off+length])
		return out, nil
	}
	return nil, scanerr.ErrNotReadable
}

func (d *dumpReader) ReadCString(addr codec.Address, maxLen int) (string, bool) {
	return winproc.ReadCStringVia(d.Read, addr, maxLen)
}

func (d *dumpReader) Close() error { return nil }
