// Package dump implements the memory-dump artifact of spec §6.2: a flat
// file capturing every readable region of a target process at a moment
// in time, plus a JSON sidecar of ground-truth tags, so a locator/poller
// run can be replayed offline against Source::Dump(path) exactly as it
// ran against a live process (spec §8.1 Scenario F).
package dump

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/apmlabs/memscan-core/internal/codec"
	"github.com/apmlabs/memscan-core/internal/winproc"
)

// magic identifies a dump file; version allows the header shape to grow.
const (
	magic   uint32 = 0x4D534450 // "MSDP"
	version uint32 = 1
)

// regionHeader is the fixed-size, little-endian per-region header
// preceding each region's raw payload: base address, size and protection,
// plus a 4-byte region state that the bare base/size/protection framing
// does not carry. The file as a whole starts with a magic/version/count
// header ahead of the first region.
type regionHeader struct {
	BaseAddr   uint64
	Size       uint64
	Protection uint32
	State      uint32
}

const regionHeaderSize = 8 + 8 + 4 + 4

// WriteRegions writes a dump file body: a file header, then one
// regionHeader+payload pair per region, in the order given.
func WriteRegions(w io.Writer, regions []winproc.Region, payloads [][]byte) error {
	if len(regions) != len(payloads) {
		return errors.Errorf("dump: %d regions but %d payloads", len(regions), len(payloads))
	}
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return errors.Wrap(err, "write magic")
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return errors.Wrap(err, "write version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(regions))); err != nil {
		return errors.Wrap(err, "write region count")
	}

	for i, r := range regions {
		hdr := regionHeader{
			BaseAddr:   uint64(r.Base),
			Size:       r.Size,
			Protection: uint32(r.Protection),
			State:      uint32(r.State),
		}
		if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
			return errors.Wrapf(err, "write region %d header", i)
		}
		if uint64(len(payloads[i])) != r.Size {
			return errors.Errorf("dump: region %d payload is %d bytes, header says %d", i, len(payloads[i]), r.Size)
		}
		if _, err := w.Write(payloads[i]); err != nil {
			return errors.Wrapf(err, "write region %d payload", i)
		}
	}
	return nil
}

// readRegions parses a dump file body back into regions and their raw
// payloads.
func readRegions(r io.Reader) ([]winproc.Region, [][]byte, error) {
	var gotMagic, gotVersion, count uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, nil, errors.Wrap(err, "read magic")
	}
	if gotMagic != magic {
		return nil, nil, errors.Errorf("dump: bad magic 0x%08X", gotMagic)
	}
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return nil, nil, errors.Wrap(err, "read version")
	}
	if gotVersion != version {
		return nil, nil, errors.Errorf("dump: unsupported version %d", gotVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, nil, errors.Wrap(err, "read region count")
	}

	regions := make([]winproc.Region, count)
	payloads := make([][]byte, count)
	for i := range regions {
		var hdr regionHeader
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			return nil, nil, errors.Wrapf(err, "read region %d header", i)
		}
		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, errors.Wrapf(err, "read region %d payload", i)
		}
		regions[i] = winproc.Region{
			Base:       codec.Address(hdr.BaseAddr),
			Size:       hdr.Size,
			Protection: winproc.Prot(hdr.Protection),
			State:      winproc.State(hdr.State),
		}
		payloads[i] = payload
	}
	return regions, payloads, nil
}
