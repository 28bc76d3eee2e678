// Package ledger persists the set of already-processed files so that a run
// never redoes work. One JSON document is kept per watched root directory,
// identified by a stable hash of the canonicalized root path.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	internal "github.com/dodogabrie/space-media-optimizer/optimizer"
	"github.com/dodogabrie/space-media-optimizer/optimizer/common"

	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
)

// Record is the immutable entry for one processed file, keyed by its
// canonical path. Reprocessing overwrites the whole record.
type Record struct {
	Path             string  `json:"path"`
	ModifiedTime     int64   `json:"modified_time"`
	OriginalSize     uint64  `json:"original_size"`
	OptimizedSize    uint64  `json:"optimized_size"`
	ReductionPercent float64 `json:"reduction_percent"`
	ProcessedAt      int64   `json:"processed_at"`
}

// NewRecord derives the reduction percentage from the two sizes.
func NewRecord(path string, modifiedTime time.Time, originalSize, optimizedSize uint64) Record {
	reduction := 0.0
	if originalSize > 0 {
		reduction = (1.0 - float64(optimizedSize)/float64(originalSize)) * 100.0
	}
	return Record{
		Path:             path,
		ModifiedTime:     modifiedTime.Unix(),
		OriginalSize:     originalSize,
		OptimizedSize:    optimizedSize,
		ReductionPercent: reduction,
		ProcessedAt:      time.Now().Unix(),
	}
}

// stateFile is the on-disk JSON document.
type stateFile struct {
	ProcessedFiles map[string]Record `json:"processed_files"`
}

// Ledger tracks processed files for a single root directory. It is safe for
// concurrent skip-checks; mutations are serialized and written through to
// disk immediately.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	records map[string]Record
	index   *radix.Tree
	logger  zerolog.Logger
}

// StatePath derives the ledger file location for a root directory. Distinct
// roots always map to distinct files.
func StatePath(root string) (string, error) {
	canonical, err := common.NewPathUtils().Canonicalize(root)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	hash := hex.EncodeToString(sum[:])[:16]
	return filepath.Join(internal.DefaultStateDir, fmt.Sprintf("processed_files_%s.json", hash)), nil
}

// Open loads the ledger for root, creating an empty one when no state file
// exists yet.
func Open(root string, logger zerolog.Logger) (*Ledger, error) {
	statePath, err := StatePath(root)
	if err != nil {
		return nil, common.E(common.KindState, root, err)
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return nil, common.E(common.KindState, statePath, err)
	}

	l := &Ledger{
		path:    statePath,
		records: make(map[string]Record),
		index:   radix.New(),
		logger:  logger.With().Str("component", "ledger").Logger(),
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, common.E(common.KindState, statePath, err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state file is not worth failing the run over; records
		// will be rebuilt as files are processed.
		l.logger.Warn().Str("path", statePath).Err(err).Msg("ledger unreadable, starting empty")
		return l, nil
	}
	for key, rec := range state.ProcessedFiles {
		l.records[key] = rec
		l.index.Insert(key, rec)
	}
	return l, nil
}

// IsProcessed reports whether path has a record whose stored modification
// time exactly equals modTime. Any drift, forward or backward, means the
// file needs reprocessing.
func (l *Ledger) IsProcessed(path string, modTime time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[path]
	return ok && rec.ModifiedTime == modTime.Unix()
}

// MarkProcessed upserts a record and persists immediately. A persistence
// failure is surfaced as a hard State error: silently losing the ledger
// would cause reprocessing, or data loss on the next replace-in-place run.
func (l *Ledger) MarkProcessed(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.Path] = rec
	l.index.Insert(rec.Path, rec)
	if err := l.save(); err != nil {
		return common.E(common.KindState, l.path, err)
	}
	return nil
}

// Cleanup removes records whose path no longer exists on disk. Run once at
// orchestrator start, never mid-run.
func (l *Ledger) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stale []string
	l.index.Walk(func(path string, _ interface{}) bool {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			stale = append(stale, path)
		}
		return false
	})
	if len(stale) == 0 {
		return nil
	}
	for _, path := range stale {
		delete(l.records, path)
		l.index.Delete(path)
	}
	l.logger.Debug().Int("removed", len(stale)).Msg("cleaned up stale ledger entries")
	if err := l.save(); err != nil {
		return common.E(common.KindState, l.path, err)
	}
	return nil
}

// Stats aggregates the lifetime statistics over current records.
func (l *Ledger) Stats() (count int, totalBytesSaved uint64, averageReduction float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count = len(l.records)
	var reductionSum float64
	for _, rec := range l.records {
		if rec.OriginalSize > rec.OptimizedSize {
			totalBytesSaved += rec.OriginalSize - rec.OptimizedSize
		}
		reductionSum += rec.ReductionPercent
	}
	if count > 0 {
		averageReduction = reductionSum / float64(count)
	}
	return count, totalBytesSaved, averageReduction
}

// RecordsUnder returns all records whose path starts with prefix, in
// lexicographic order.
func (l *Ledger) RecordsUnder(prefix string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	l.index.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		out = append(out, v.(Record))
		return false
	})
	return out
}

// Path returns the on-disk location of this ledger.
func (l *Ledger) Path() string { return l.path }

// save writes the state file. Callers must hold the write lock.
func (l *Ledger) save() error {
	state := stateFile{ProcessedFiles: l.records}
	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
