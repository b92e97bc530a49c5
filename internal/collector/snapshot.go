package collector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"likevault/internal/config"
	"likevault/internal/types"
)

// runSnapshot is the debugging dump of one run's newly archived
// candidates.
type runSnapshot struct {
	Mode        types.Mode        `json:"mode"`
	CollectedAt time.Time         `json:"collected_at"`
	Candidates  []types.Candidate `json:"candidates"`
}

// WriteRunSnapshot dumps the run's new candidates to a timestamped
// JSON file under the runs directory. Purely diagnostic: the store is
// authoritative, these files can be deleted freely. An empty batch
// writes nothing.
func WriteRunSnapshot(cfg *config.Config, mode types.Mode, candidates []types.Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	dir, err := cfg.RunsDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	snap := runSnapshot{
		Mode:        mode,
		CollectedAt: time.Now().UTC(),
		Candidates:  candidates,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}

	// Dashes instead of colons, for filesystem compatibility.
	path := filepath.Join(dir, time.Now().Format("2006-01-02T15-04-05")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
