package telemetry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/sha3"
)

// SummaryVersion is incremented when the format changes.
const SummaryVersion = 1

// SummaryFile is the summary's name inside the output directory.
const SummaryFile = "summary.json"

// Summary describes a finished run.
type Summary struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Seed    int64  `json:"seed"`
	Status  string `json:"status"` // "drained", "stopped" or "failed"
	Error   string `json:"error,omitempty"`

	Devices   int `json:"devices"`
	Particles int `json:"particles"`

	Popped    int64 `json:"popped"`
	Emitted   int64 `json:"emitted"`
	Launches  int64 `json:"launches"`
	LaneSteps int64 `json:"lane_steps"`
	Stalls    int64 `json:"watchdog_stalls"`

	VisitedVoxels int    `json:"visited_voxels"`
	TotalVisits   uint64 `json:"total_visits"`

	Stages map[string]float64 `json:"stage_seconds"`
	Tracks RunStats           `json:"tracks"`
}

// RunID derives a stable identifier from the effective configuration and
// seed: the first 8 bytes of their SHA3-256 digest, hex encoded.
func RunID(configYAML []byte, seed int64) string {
	h := sha3.New256()
	h.Write(configYAML)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seed))
	h.Write(b[:])
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// SaveSummary writes s to dir/summary.json and returns the path.
func SaveSummary(s *Summary, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create summary dir: %w", err)
	}
	path := filepath.Join(dir, SummaryFile)

	data, err := sonnet.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// LoadSummary reads a summary from disk.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var s Summary
	if err := sonnet.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	if s.Version != SummaryVersion {
		return nil, fmt.Errorf("summary version %d, want %d", s.Version, SummaryVersion)
	}
	return &s, nil
}
