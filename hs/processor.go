package hs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

const processedKey = "healthsync/processed"

// Processor deduplicates raw activities and writes the remainder to the
// workout log. The set of processed IDs is persisted so dedup survives
// restarts.
type Processor struct {
	workouts  WorkoutLog
	kv        KeyValue
	logger    Logger
	source    string
	processed map[string]struct{}
}

// NewProcessor creates a processor and loads the persisted processed-ID set.
func NewProcessor(workouts WorkoutLog, kv KeyValue, logger Logger, source string) (*Processor, error) {
	p := &Processor{
		workouts:  workouts,
		kv:        kv,
		logger:    logger,
		source:    source,
		processed: make(map[string]struct{}),
	}
	if err := p.loadProcessed(); err != nil {
		return nil, err
	}
	return p, nil
}

// Process runs one dedup-transform-store pass over a raw batch. A record is
// marked processed only after the store call succeeds, so a store failure is
// retried on the next run. One bad record never aborts the batch.
func (p *Processor) Process(ctx context.Context, batch []Activity) SyncResult {
	var res SyncResult
	for _, a := range batch {
		if _, seen := p.processed[a.UUID]; a.UUID != "" && seen {
			res.Duplicates++
			continue
		}

		w, err := TransformActivity(a, p.source)
		if err != nil {
			if errors.Is(err, errShortDuration) {
				res.Dropped++
				p.logger.Debug("dropping short activity", "uuid", a.UUID)
				continue
			}
			res.Failed++
			p.logger.Warn("failed to transform activity", "uuid", a.UUID, "error", err)
			continue
		}

		if err := p.workouts.LogWorkout(ctx, w); err != nil {
			res.Failed++
			p.logger.Warn("failed to store workout", "uuid", a.UUID, "error", err)
			continue
		}

		p.processed[a.UUID] = struct{}{}
		res.Synced++
	}

	if res.Synced > 0 {
		if err := p.saveProcessed(); err != nil {
			p.logger.Warn("failed to persist processed ids", "error", err)
		}
	}
	return res
}

// Seen reports whether an activity ID has already been ingested.
func (p *Processor) Seen(uuid string) bool {
	_, ok := p.processed[uuid]
	return ok
}

func (p *Processor) loadProcessed() error {
	raw, ok, err := p.kv.Get(processedKey)
	if err != nil {
		return fmt.Errorf("failed to read processed ids: %w", err)
	}
	if !ok {
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return fmt.Errorf("failed to decode processed ids: %w", err)
	}
	for _, id := range ids {
		p.processed[id] = struct{}{}
	}
	return nil
}

func (p *Processor) saveProcessed() error {
	ids := make([]string, 0, len(p.processed))
	for id := range p.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode processed ids: %w", err)
	}
	return p.kv.Set(processedKey, string(data))
}
