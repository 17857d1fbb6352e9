package community

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/fusion"
)

var (
	bucketCommunities = []byte("communities")
	bucketMeta        = []byte("meta")
	keyVersion        = []byte("version")
	keyBuiltAt        = []byte("built_at")
	keyFormat         = []byte("format")
)

// snapshotFormat is bumped when the record encoding changes.
const snapshotFormat = "1"

// openTimeout bounds waiting for another process's bbolt file lock.
const openTimeout = 500 * time.Millisecond

// SaveFile writes snap to path atomically: records go to a temporary
// bbolt file in the same directory which is then renamed over path.
// Concurrent writers are serialised with a lock file.
func SaveFile(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, err)
	}

	lock := NewFileLock(path)
	if err := lock.Lock(); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	_ = os.Remove(tmp)
	if err := writeBolt(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, fmt.Errorf("rename snapshot: %w", err))
	}

	slog.Info("community_snapshot_saved",
		slog.String("path", path),
		slog.String("version", snap.Version()),
		slog.Int("communities", snap.Len()))
	return nil
}

func writeBolt(path string, snap *Snapshot) error {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, fmt.Errorf("open snapshot for write: %w", err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		builtAt, err := snap.BuiltAt().MarshalText()
		if err != nil {
			return err
		}
		for k, v := range map[string][]byte{
			string(keyVersion): []byte(snap.Version()),
			string(keyBuiltAt): builtAt,
			string(keyFormat):  []byte(snapshotFormat),
		} {
			if err := meta.Put([]byte(k), v); err != nil {
				return err
			}
		}

		records, err := tx.CreateBucketIfNotExists(bucketCommunities)
		if err != nil {
			return err
		}
		for _, c := range snap.Communities() {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode community %s: %w", c.ID, err)
			}
			if err := records.Put([]byte(c.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	closeErr := db.Close()
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, fmt.Errorf("write snapshot: %w", err))
	}
	if closeErr != nil {
		return amerrors.Wrap(amerrors.ErrCodeStoreIO, closeErr)
	}
	return nil
}

// LoadFile reads a snapshot written by SaveFile. Opening is retried with
// backoff while another process holds the file; a missing file yields
// ErrSnapshotNotFound and a malformed one ErrSnapshotCorrupt, neither retried.
func LoadFile(ctx context.Context, path string) (*Snapshot, error) {
	retry := amerrors.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		return errors.Is(err, bbolt.ErrTimeout)
	}
	return amerrors.RetryWithResult(ctx, retry, func() (*Snapshot, error) {
		return readBolt(path)
	})
}

func readBolt(path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, amerrors.New(amerrors.ErrCodeSnapshotNotFound, "community snapshot not found: "+path, err)
		}
		return nil, amerrors.Wrap(amerrors.ErrCodeStoreIO, err)
	}

	db, err := bbolt.Open(path, 0644, &bbolt.Options{ReadOnly: true, Timeout: openTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, err
		}
		return nil, amerrors.New(amerrors.ErrCodeSnapshotCorrupt, "cannot open community snapshot", err)
	}
	defer func() { _ = db.Close() }()

	var (
		version     string
		builtAt     time.Time
		communities []fusion.Community
	)
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		records := tx.Bucket(bucketCommunities)
		if meta == nil || records == nil {
			return errors.New("missing buckets")
		}
		if format := string(meta.Get(keyFormat)); format != snapshotFormat {
			return fmt.Errorf("unsupported snapshot format %q", format)
		}
		version = string(meta.Get(keyVersion))
		if raw := meta.Get(keyBuiltAt); raw != nil {
			if err := builtAt.UnmarshalText(raw); err != nil {
				return fmt.Errorf("built_at: %w", err)
			}
		}
		return records.ForEach(func(k, v []byte) error {
			var c fusion.Community
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("community %s: %w", k, err)
			}
			if c.ID != string(k) {
				return fmt.Errorf("community key %s holds id %s", k, c.ID)
			}
			communities = append(communities, c)
			return nil
		})
	})
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeSnapshotCorrupt, "invalid community snapshot: "+err.Error(), err)
	}

	snap, err := NewSnapshot(version, builtAt, communities)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeSnapshotCorrupt, err.Error(), err)
	}
	return snap, nil
}
