package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"supportchat/pkg/logger"
	"supportchat/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Open opens (or creates) a pebble database at the given path and keeps a
// package-level handle. The store is the single durable resource of the
// subsystem; connections and presence are rebuilt on restart.
func Open(path string) error {
	var err error
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

// Key layout:
//   session:<id>:meta            -> Session JSON
//   session:<id>:msg:<seq 12pad> -> Message JSON
//
// The zero-padded sequence makes prefix iteration yield messages in
// append order without any sorting.

func metaKey(sessionID string) []byte {
	return []byte("session:" + sessionID + ":meta")
}

func msgKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("session:%s:msg:%012d", sessionID, seq))
}

func msgPrefix(sessionID string) []byte {
	return []byte("session:" + sessionID + ":msg:")
}

// SaveSession writes the session metadata synchronously.
func SaveSession(s *models.Session) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := db.Set(metaKey(s.ID), data, pebble.Sync); err != nil {
		logger.Error("save_session_failed", "session", s.ID, "error", err)
		return err
	}
	return nil
}

// GetSession loads a session by ID. Returns ErrNotFound when absent.
func GetSession(id string) (*models.Session, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(metaKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var s models.Session
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("invalid stored session %s: %w", id, err)
	}
	return &s, nil
}

// AppendMessage assigns the next sequence number from the session counter
// and writes the message together with the updated session metadata in one
// atomic batch. Callers must hold the session's critical section so the
// counter cannot be advanced concurrently.
func AppendMessage(s *models.Session, m *models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if m.TS == 0 {
		m.TS = time.Now().UTC().UnixNano()
	}
	s.LastSeq++
	m.Seq = s.LastSeq
	m.Session = s.ID
	s.UpdatedTS = m.TS

	mdata, err := json.Marshal(m)
	if err != nil {
		s.LastSeq--
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	sdata, err := json.Marshal(s)
	if err != nil {
		s.LastSeq--
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	b := db.NewBatch()
	defer b.Close()
	_ = b.Set(msgKey(s.ID, m.Seq), mdata, nil)
	_ = b.Set(metaKey(s.ID), sdata, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		s.LastSeq--
		logger.Error("append_message_failed", "session", s.ID, "seq", m.Seq, "error", err)
		return err
	}
	logger.Debug("message_appended", "session", s.ID, "seq", m.Seq, "sender_type", m.SenderType)
	return nil
}

// ListMessages returns messages for a session with Seq > after, in sequence
// order. limit <= 0 means no limit.
func ListMessages(sessionID string, after uint64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := msgPrefix(sessionID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.SeekGE(msgKey(sessionID, after+1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid stored message at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ListSessions returns all stored sessions. Sessions are never deleted,
// only marked terminal, so this is the audit-complete set.
func ListSessions() ([]*models.Session, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("session:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*models.Session
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var s models.Session
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			logger.Warn("skip_invalid_session_meta", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, &s)
	}
	return out, iter.Error()
}

// ListSessionsByStatus filters stored sessions by status.
func ListSessionsByStatus(status models.SessionStatus) ([]*models.Session, error) {
	all, err := ListSessions()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}
