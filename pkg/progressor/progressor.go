// Package progressor runs upgrade work between deployed versions. It keeps
// a stored schema version in the DB and replays idempotent migrations when
// the running binary is newer.
package progressor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"supportchat/pkg/logger"
	"supportchat/pkg/store"
)

const (
	systemVersionKey    = "system:version"
	systemInProgressKey = "system:migration_in_progress"
)

// Sync performs upgrade work between versions. Edit in-place for migration logic.
func Sync(ctx context.Context, from, to string) error {
	logger.Info("progressor_sync_start", "from", from, "to", to)

	// Migration: initialize LastSeq for sessions that lack it by scanning
	// existing message keys and setting session.LastSeq to the highest
	// observed sequence. This is idempotent and safe to run multiple times.
	sessions, err := store.ListSessions()
	if err != nil {
		logger.Error("progressor_list_sessions_failed", "error", err)
		return err
	}
	for _, s := range sessions {
		if s.LastSeq != 0 {
			continue
		}
		max, err := store.MaxSeqForSession(s.ID)
		if err != nil {
			logger.Error("progressor_maxseq_failed", "session", s.ID, "error", err)
			continue
		}
		if max == 0 {
			continue
		}
		s.LastSeq = max
		s.UpdatedTS = time.Now().UTC().UnixNano()
		if err := store.SaveSession(s); err != nil {
			logger.Error("progressor_save_session_failed", "session", s.ID, "error", err)
			continue
		}
		logger.Info("progressor_session_lastseq_initialized", "session", s.ID, "last_seq", max)
	}

	logger.Info("progressor_sync_done", "from", from, "to", to)
	return nil
}

// Run checks for a version change and runs Sync if needed.
// Returns (invoked, error): invoked is true if Sync ran.
func Run(ctx context.Context, newVersion string) (bool, error) {
	stored, err := store.GetKey(systemVersionKey)
	if err != nil {
		logger.Error("progressor_read_version_failed", "error", err)
	}
	logger.Info("progressor_version_check", "stored", stored, "running", newVersion)
	if stored == newVersion {
		logger.Info("progressor_noop", "version", newVersion)
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := store.SaveKey(systemInProgressKey, mb); err != nil {
		logger.Error("progressor_write_inprogress_failed", "error", err)
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	logger.Info("progressor_start_sync", "from", stored, "to", newVersion)
	if err := Sync(ctx, stored, newVersion); err != nil {
		logger.Error("progressor_sync_failed", "from", stored, "to", newVersion, "error", err)
		return true, err
	}

	if err := store.SaveKey(systemVersionKey, []byte(newVersion)); err != nil {
		logger.Error("progressor_persist_version_failed", "version", newVersion, "error", err)
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}

	if err := store.DeleteKey(systemInProgressKey); err != nil {
		logger.Error("progressor_delete_inprogress_failed", "error", err)
	}

	logger.Info("progressor_version_persisted", "version", newVersion)
	return true, nil
}
