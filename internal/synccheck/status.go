package synccheck

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	memerrors "github.com/specmem/specmem/internal/errors"
)

// StaleAfter is how long since the last check before GetSyncHealth flags
// the status as stale.
const StaleAfter = 2 * time.Hour

// HighDriftThreshold is the drift percentage above which GetSyncHealth
// flags the project as unhealthy even with a recent check.
const HighDriftThreshold = 10.0

// WriteStatus persists {syncScore, lastChecked} to the checker's status
// file under an advisory file lock, so a concurrent resync on the same
// project can't interleave writes.
func (c *Checker) WriteStatus(score float64) error {
	if c.cfg.StatusPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.StatusPath), 0o755); err != nil {
		return memerrors.IOError("create status dir", err)
	}

	lock := flock.New(c.cfg.StatusPath + ".lock")
	if err := lock.Lock(); err != nil {
		return memerrors.IOError("lock status file", err)
	}
	defer func() { _ = lock.Unlock() }()

	status := Status{
		SyncScore:   int(score * 100),
		LastChecked: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return memerrors.InternalError("marshal status", err)
	}
	if err := os.WriteFile(c.cfg.StatusPath, data, 0o644); err != nil {
		return memerrors.IOError("write status file", err)
	}
	return nil
}

// readStatus loads the last-written status document, or a zero Status if
// none exists yet.
func (c *Checker) readStatus() (Status, error) {
	if c.cfg.StatusPath == "" {
		return Status{}, nil
	}
	data, err := os.ReadFile(c.cfg.StatusPath)
	if os.IsNotExist(err) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, memerrors.IOError("read status file", err)
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, memerrors.InternalError("unmarshal status", err)
	}
	return status, nil
}

// GetSyncHealth reports whether the project's last-known sync state is
// recent and low-drift enough to consider healthy.
func (c *Checker) GetSyncHealth(ctx context.Context) (*Health, error) {
	status, err := c.readStatus()
	if err != nil {
		return nil, err
	}

	health := &Health{
		Healthy:     true,
		LastChecked: status.LastChecked,
	}

	if status.LastChecked.IsZero() {
		health.Healthy = false
		health.Issues = append(health.Issues, "no sync check has ever completed")
		return health, nil
	}

	health.MinutesSinceCheck = time.Since(status.LastChecked).Minutes()
	if time.Since(status.LastChecked) > StaleAfter {
		health.Healthy = false
		health.Issues = append(health.Issues, "last sync check is stale")
	}
	if drift := 100 - status.SyncScore; float64(drift) > HighDriftThreshold {
		health.Healthy = false
		health.Issues = append(health.Issues, "drift exceeds threshold")
	}
	return health, nil
}
