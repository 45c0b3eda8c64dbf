package store

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	"supportchat/pkg/models"
)

// System keys live outside the session keyspace and carry deployment
// metadata (schema version, migration markers).

// GetKey returns the raw value for a system key, or "" when absent.
func GetKey(key string) (string, error) {
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return string(out), nil
}

// SaveKey writes a raw system key value.
func SaveKey(key string, val []byte) error {
	return db.Set([]byte(key), val, pebble.Sync)
}

// DeleteKey removes a system key.
func DeleteKey(key string) error {
	return db.Delete([]byte(key), pebble.Sync)
}

// MaxSeqForSession scans the session's message keys and returns the highest
// stored sequence, or 0 when the session has no messages.
func MaxSeqForSession(sessionID string) (uint64, error) {
	prefix := msgPrefix(sessionID)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(append([]byte{}, prefix...), 0xff),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var max uint64
	for iter.Last(); iter.Valid(); iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		max = m.Seq
		break
	}
	return max, nil
}
