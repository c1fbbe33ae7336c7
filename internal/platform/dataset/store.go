// Package dataset serves the output tables of the latest run as a read-only
// HTTP API for the dashboard.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/mobilization/internal/domain/engine"
	"github.com/ehr/mobilization/internal/platform/tabular"
)

var ErrNotFound = errors.New("encounter block not found")

// Snapshot is one consistent read of the output directory.
type Snapshot struct {
	Summary engine.Summary
	Blocks  []engine.BlockRow
	hours   map[int][]engine.HourRow
	events  map[int][]engine.EventRow
}

// Block returns the block row with the given id.
func (s *Snapshot) Block(id int) (engine.BlockRow, error) {
	i := sort.Search(len(s.Blocks), func(i int) bool { return s.Blocks[i].EncounterBlock >= id })
	if i == len(s.Blocks) || s.Blocks[i].EncounterBlock != id {
		return engine.BlockRow{}, ErrNotFound
	}
	return s.Blocks[i], nil
}

func (s *Snapshot) Hours(id int) []engine.HourRow   { return s.hours[id] }
func (s *Snapshot) Events(id int) []engine.EventRow { return s.events[id] }

func newSnapshot(summary engine.Summary, blocks []engine.BlockRow, hours []engine.HourRow, events []engine.EventRow) *Snapshot {
	s := &Snapshot{
		Summary: summary,
		Blocks:  blocks,
		hours:   make(map[int][]engine.HourRow),
		events:  make(map[int][]engine.EventRow),
	}
	sort.Slice(s.Blocks, func(i, j int) bool { return s.Blocks[i].EncounterBlock < s.Blocks[j].EncounterBlock })
	for _, h := range hours {
		s.hours[h.EncounterBlock] = append(s.hours[h.EncounterBlock], h)
	}
	for _, e := range events {
		s.events[e.EncounterBlock] = append(s.events[e.EncounterBlock], e)
	}
	return s
}

// Store yields the current snapshot.
type Store interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// FileStore reads the tables a FileSink wrote. The snapshot is reloaded when
// the run summary changes on disk, which the sink writes after the tables.
type FileStore struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	modTime time.Time
	cached  *Snapshot
}

func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger}
}

func (f *FileStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	info, err := os.Stat(filepath.Join(f.dir, engine.SummaryFile))
	if err != nil {
		return nil, fmt.Errorf("no run found in %s: %w", f.dir, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil && info.ModTime().Equal(f.modTime) {
		return f.cached, nil
	}

	snap, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	f.cached, f.modTime = snap, info.ModTime()
	f.logger.Info().
		Str("run_id", snap.Summary.RunID).
		Int("encounter_blocks", len(snap.Blocks)).
		Msg("dataset snapshot loaded")
	return snap, nil
}

func (f *FileStore) load(ctx context.Context) (*Snapshot, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, engine.SummaryFile))
	if err != nil {
		return nil, fmt.Errorf("read run summary: %w", err)
	}
	var summary engine.Summary
	if err := json.Unmarshal(b, &summary); err != nil {
		return nil, fmt.Errorf("decode run summary: %w", err)
	}

	blocks, err := tabular.ReadParquet[engine.BlockRow](tabular.Path(f.dir, engine.TableBlocks, tabular.FormatParquet))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hours, err := tabular.ReadParquet[engine.HourRow](tabular.Path(f.dir, engine.TableHours, tabular.FormatParquet))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, err := tabular.ReadParquet[engine.EventRow](tabular.Path(f.dir, engine.TableEvents, tabular.FormatParquet))
	if err != nil {
		return nil, err
	}
	return newSnapshot(summary, blocks, hours, events), nil
}

// ResultStore serves a result held in memory, as after `run --serve`.
type ResultStore struct {
	snap *Snapshot
}

func NewResultStore(res *engine.Result) *ResultStore {
	blocks := append([]engine.BlockRow(nil), res.Blocks...)
	return &ResultStore{snap: newSnapshot(res.Summary, blocks, res.Hours, res.Events)}
}

func (r *ResultStore) Snapshot(context.Context) (*Snapshot, error) { return r.snap, nil }
