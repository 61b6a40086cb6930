package checkpoint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/specialistvlad/burstflow/internal/nodestore"
)

var (
	// ErrNotFound is returned by Load when no snapshot is stored.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrChecksumMismatch is returned by Load when the stored bytes are corrupt.
	ErrChecksumMismatch = errors.New("checkpoint corrupted: checksum mismatch")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown checkpoint backend")
)

// Store persists snapshots.
type Store interface {
	// Save stores snap, replacing any earlier snapshot of the same run.
	Save(ctx context.Context, snap nodestore.Snapshot) error
	// Load returns the snapshot of runID, or the most recently saved one
	// when runID is empty.
	Load(ctx context.Context, runID string) (nodestore.Snapshot, error)
	// Close releases the backend.
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendBadger Backend = "badger"
)

// Open creates the Store for backend at path. For the file backend path is
// the snapshot file; for badger it is the database directory.
func Open(ctx context.Context, backend Backend, path string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path), nil
	case BackendBadger:
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true, Logger: logger})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// envelope is the stored form of a snapshot.
type envelope struct {
	Checksum string          `json:"checksum"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func encode(snap nodestore.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := sha256.Sum256(raw)
	data, err := json.MarshalIndent(envelope{
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
		Snapshot: raw,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (nodestore.Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nodestore.Snapshot{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	// MarshalIndent re-indents the embedded document, so the checksum is
	// taken over its compact form.
	raw, err := compact(env.Snapshot)
	if err != nil {
		return nodestore.Snapshot{}, err
	}
	sum := sha256.Sum256(raw)
	if got := "sha256:" + hex.EncodeToString(sum[:]); got != env.Checksum {
		return nodestore.Snapshot{}, fmt.Errorf("%w: expected=%s, actual=%s", ErrChecksumMismatch, env.Checksum, got)
	}

	var snap nodestore.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nodestore.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nodestore.Snapshot{}, err
	}
	return snap, nil
}

func compact(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
