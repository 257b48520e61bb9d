// Package audit records a best-effort connect/disconnect trail for
// introspection. It is never consulted by the protocol engine or the
// index: a journal failure is logged and otherwise invisible to clients.
package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var connectionsBucket = []byte("connections")

// Record is the journal entry for one connection's lifetime.
type Record struct {
	RemoteAddr   string
	ConnectedAt  time.Time
	Disconnected time.Time
	Disconnect   bool
}

// Journal wraps an embedded key-value store holding one Record per
// connection id. This is the component the teacher's own
// internal/messagestore/message_store.go reached for (a bare bolt.Open)
// but never wired to anything; SPEC_FULL gives it a real job.
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if needed) the audit database at dbRoot/audit.db.
func Open(dbRoot string) (*Journal, error) {
	path := filepath.Join(dbRoot, "audit.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(connectionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: failed to initialize journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordConnect records that connection id from remoteAddr has connected.
// Failures are logged, never returned: the journal must never affect a
// client-visible outcome.
func (j *Journal) RecordConnect(id uint64, remoteAddr string) {
	if j == nil {
		return
	}
	rec := Record{RemoteAddr: remoteAddr, ConnectedAt: time.Now()}
	if err := j.put(id, rec); err != nil {
		slog.Warn("audit: failed to record connect", "conn", id, "error", err)
	}
}

// RecordDisconnect marks connection id as disconnected.
func (j *Journal) RecordDisconnect(id uint64) {
	if j == nil {
		return
	}
	rec, ok, err := j.get(id)
	if err != nil {
		slog.Warn("audit: failed to load record for disconnect", "conn", id, "error", err)
		return
	}
	if !ok {
		return
	}
	rec.Disconnect = true
	rec.Disconnected = time.Now()
	if err := j.put(id, rec); err != nil {
		slog.Warn("audit: failed to record disconnect", "conn", id, "error", err)
	}
}

func (j *Journal) put(id uint64, rec Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}

	key := idKey(id)
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(connectionsBucket).Put(key, buf.Bytes())
	})
}

func (j *Journal) get(id uint64) (Record, bool, error) {
	var rec Record
	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(connectionsBucket).Get(idKey(id))
		if raw == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec)
	})
	return rec, found, err
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
