package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/nodestore"
)

const (
	runKeyPrefix = "run/"
	latestKey    = "latest"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for tests.
	InMemory   bool
	SyncWrites bool
	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// BadgerStore keeps one snapshot per run id plus a pointer to the most
// recently saved run.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens or creates the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent checkpoint database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Save implements Store. The run's snapshot and the latest pointer are
// written in one transaction.
func (s *BadgerStore) Save(ctx context.Context, snap nodestore.Snapshot) error {
	if snap.RunID == "" {
		return errors.New("snapshot has no run id")
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(runKeyPrefix+snap.RunID), data); err != nil {
			return err
		}
		return txn.Set([]byte(latestKey), []byte(snap.RunID))
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Checkpoint written.", "run_id", snap.RunID, "aggregate", snap.AggregateStatus, "bytes", len(data))
	return nil
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context, runID string) (nodestore.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		if runID == "" {
			item, err := txn.Get([]byte(latestKey))
			if err != nil {
				return err
			}
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			runID = string(id)
		}
		item, err := txn.Get([]byte(runKeyPrefix + runID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nodestore.Snapshot{}, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	if err != nil {
		return nodestore.Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}

	snap, err := decode(data)
	if err != nil {
		return nodestore.Snapshot{}, fmt.Errorf("checkpoint of run %q: %w", runID, err)
	}
	return snap, nil
}

// Runs lists the stored run ids in key order.
func (s *BadgerStore) Runs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(runKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(runKeyPrefix):]))
		}
		return nil
	})
	return ids, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
