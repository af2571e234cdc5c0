package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
)

// snapshotLayout sorts lexically in time order.
const snapshotLayout = "20060102T150405.000000000Z"

// SnapshotSource produces a full copy of the ledger.
type SnapshotSource interface {
	Export(ctx context.Context) (ledger.Snapshot, error)
}

// SnapshotTarget loads a snapshot into an empty ledger.
type SnapshotTarget interface {
	Import(ctx context.Context, snap ledger.Snapshot) error
}

// SnapshotExporter stores ledger snapshots as JSON objects under a prefix.
// With retention set, each export prunes all but the newest snapshots.
type SnapshotExporter struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	deleter domain.BlobDeleter
	keep    int
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

// NewSnapshotExporter creates an exporter rooted at prefix.
func NewSnapshotExporter(w domain.BlobWriter, r domain.BlobReader, prefix string, logger *slog.Logger) *SnapshotExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotExporter{
		writer: w,
		reader: r,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		logger: logger,
	}
}

// WithRetention keeps the newest keep snapshots after every export,
// removing older ones through d. keep <= 0 disables pruning.
func (e *SnapshotExporter) WithRetention(d domain.BlobDeleter, keep int) *SnapshotExporter {
	e.deleter = d
	e.keep = keep
	return e
}

// SnapshotPath returns the object key for a snapshot taken at t.
func SnapshotPath(prefix string, t time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), t.UTC().Format(snapshotLayout)+".json")
}

// Export writes the current ledger state and returns the object key.
func (e *SnapshotExporter) Export(ctx context.Context, src SnapshotSource) (string, error) {
	snap, err := src.Export(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: export snapshot: %w", err)
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}

	key := SnapshotPath(e.prefix, e.now())
	if err := e.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}
	e.logger.InfoContext(ctx, "snapshot: exported",
		slog.String("path", key),
		slog.Int("markets", len(snap.Markets)),
		slog.Int("bets", len(snap.Bets)),
		slog.Int("bytes", len(body)),
	)

	if e.deleter != nil && e.keep > 0 {
		// The new snapshot is already stored; a failed prune only leaves
		// extra objects behind until the next export.
		if _, err := e.Prune(ctx); err != nil {
			e.logger.WarnContext(ctx, "snapshot: prune failed", slog.String("error", err.Error()))
		}
	}
	return key, nil
}

// Prune deletes all but the newest retained snapshots and returns the
// removed keys, oldest first.
func (e *SnapshotExporter) Prune(ctx context.Context) ([]string, error) {
	if e.deleter == nil || e.keep <= 0 {
		return nil, nil
	}
	infos, err := e.reader.List(ctx, e.listPrefix())
	if err != nil {
		return nil, err
	}
	keys := snapshotKeys(infos)
	if len(keys) <= e.keep {
		return nil, nil
	}

	stale := keys[:len(keys)-e.keep]
	for i, key := range stale {
		if err := e.deleter.Delete(ctx, key); err != nil {
			return stale[:i], err
		}
	}
	e.logger.InfoContext(ctx, "snapshot: pruned",
		slog.Int("deleted", len(stale)),
		slog.Int("kept", e.keep),
	)
	return stale, nil
}

// Latest returns the key of the newest snapshot, or domain.ErrNotFound.
func (e *SnapshotExporter) Latest(ctx context.Context) (string, error) {
	infos, err := e.reader.List(ctx, e.listPrefix())
	if err != nil {
		return "", err
	}
	key, ok := latestSnapshot(infos)
	if !ok {
		return "", fmt.Errorf("s3blob: no snapshot under %q: %w", e.prefix, domain.ErrNotFound)
	}
	return key, nil
}

// Load reads and decodes the snapshot stored at key.
func (e *SnapshotExporter) Load(ctx context.Context, key string) (ledger.Snapshot, error) {
	body, err := e.reader.Get(ctx, key)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer body.Close()

	var snap ledger.Snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("s3blob: decode snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Restore loads the newest snapshot into dst and returns its key.
func (e *SnapshotExporter) Restore(ctx context.Context, dst SnapshotTarget) (string, error) {
	key, err := e.Latest(ctx)
	if err != nil {
		return "", err
	}
	snap, err := e.Load(ctx, key)
	if err != nil {
		return "", err
	}
	if err := dst.Import(ctx, snap); err != nil {
		return "", fmt.Errorf("s3blob: restore %s: %w", key, err)
	}
	e.logger.InfoContext(ctx, "snapshot: restored",
		slog.String("path", key),
		slog.Time("taken_at", snap.TakenAt),
	)
	return key, nil
}

func (e *SnapshotExporter) listPrefix() string {
	if e.prefix == "" {
		return ""
	}
	return e.prefix + "/"
}

// latestSnapshot picks the lexically greatest .json key.
func latestSnapshot(infos []domain.BlobInfo) (string, bool) {
	keys := snapshotKeys(infos)
	if len(keys) == 0 {
		return "", false
	}
	return keys[len(keys)-1], true
}

// snapshotKeys returns the .json keys in time order.
func snapshotKeys(infos []domain.BlobInfo) []string {
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			keys = append(keys, info.Path)
		}
	}
	sort.Strings(keys)
	return keys
}
