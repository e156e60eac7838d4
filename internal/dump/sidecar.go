package dump

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// DumpMeta is the JSON sidecar written alongside a .dump file: capture
// context plus the ground-truth tags a diagnosis session checks decoded
// output against. Field shape follows the teacher's pack-sibling
// decred-dcrstakepool's typed wire-format structs with JSON tags, one
// struct per artifact kind.
type DumpMeta struct {
	// CaptureID identifies a capture independently of its filename, so a
	// dump renamed or copied between machines still correlates back to
	// the session that produced it. Capture fills it in when empty.
	CaptureID      string `json:"capture_id,omitempty"`
	CapturedAtUnix int64  `json:"captured_at_unix"`
	ProcessName    string `json:"process_name"`
	HeroHandle     string `json:"hero_handle"`

	// Ground-truth tags: what the capturing operator asserts the target
	// process actually showed at capture time, for comparing decoded
	// output against during offline diagnosis.
	GTHandID     uint64   `json:"gt_hand_id,omitempty"`
	GTHeroCards  string   `json:"gt_hero_cards,omitempty"`
	GTPlayers    []string `json:"gt_players,omitempty"`
	GTBufferAddr uint64   `json:"gt_buffer_addr,omitempty"`
}

func sidecarPath(dumpPath string) string { return dumpPath + ".json" }

// WriteSidecar writes meta as the JSON sidecar for dumpPath.
func WriteSidecar(dumpPath string, meta DumpMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal dump sidecar")
	}
	if err := os.WriteFile(sidecarPath(dumpPath), b, 0o644); err != nil {
		return errors.Wrap(err, "write dump sidecar")
	}
	return nil
}

// ReadSidecar loads the JSON sidecar for dumpPath, if present.
func ReadSidecar(dumpPath string) (DumpMeta, error) {
	b, err := os.ReadFile(sidecarPath(dumpPath))
	if err != nil {
		return DumpMeta{}, errors.Wrap(err, "read dump sidecar")
	}
	var meta DumpMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return DumpMeta{}, errors.Wrap(err, "unmarshal dump sidecar")
	}
	return meta, nil
}
