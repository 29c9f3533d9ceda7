// Package processor orchestrates the pipeline: load raw activities, tag each
// one, persist processed activities with their tag links, and expose job
// lifecycle plus live progress.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"

	"github.com/vw-ai/lifetrace/internal/storage"
	"github.com/vw-ai/lifetrace/internal/tagger"
	"github.com/vw-ai/lifetrace/internal/taglog"
	"github.com/vw-ai/lifetrace/internal/taxonomy"
	"github.com/vw-ai/lifetrace/internal/types"
)

// Options scope one processing run. Empty date bounds process the whole
// table.
type Options struct {
	DateStart            string `json:"date_start"`
	DateEnd              string `json:"date_end"`
	RegenerateSystemTags bool   `json:"regenerate_system_tags"`
}

// Report is the synchronous result of one run.
type Report struct {
	Status   string   `json:"status"`
	Counters Counters `json:"counters"`
}

// Processor runs the tag-and-persist pipeline. A file lock serializes runs
// across processes sharing one database.
type Processor struct {
	store   storage.Storage
	tagger  *tagger.Tagger
	builder *taxonomy.Builder // nil disables regeneration
	jobs    *JobStore
	taglog  *taglog.Logger
	log     *slog.Logger
	lock    *flock.Flock
}

// New wires a processor. lockPath guards concurrent runs; empty disables the
// lock (tests).
func New(store storage.Storage, tg *tagger.Tagger, builder *taxonomy.Builder, tlog *taglog.Logger, lockPath string, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		store:   store,
		tagger:  tg,
		builder: builder,
		jobs:    NewJobStore(),
		taglog:  tlog,
		log:     log,
	}
	if lockPath != "" {
		p.lock = flock.New(lockPath)
	}
	return p
}

// Jobs exposes the job store to the API layer.
func (p *Processor) Jobs() *JobStore { return p.jobs }

// Start launches a processing job on a worker goroutine and returns the job
// immediately for polling. Cancellation is cooperative: the worker checks
// the job context between activities.
func (p *Processor) Start(parent context.Context, opts Options) Job {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	job := p.jobs.Create(NewJobID(), cancel)

	go func() {
		defer cancel()
		report, err := p.run(ctx, job.ID, opts)
		if err != nil {
			p.jobs.Fail(job.ID, err.Error())
			p.log.Error("processing job failed", "job", job.ID, "error", err)
			return
		}
		p.jobs.Complete(job.ID, &report.Counters)
	}()
	return job
}

// Process runs synchronously, tracking progress under a fresh job so the
// CLI path shares the job bookkeeping with the API path.
func (p *Processor) Process(ctx context.Context, opts Options) (*Report, error) {
	job := p.jobs.Create(NewJobID(), func() {})
	report, err := p.run(ctx, job.ID, opts)
	if err != nil {
		p.jobs.Fail(job.ID, err.Error())
		return nil, err
	}
	p.jobs.Complete(job.ID, &report.Counters)
	return report, nil
}

func (p *Processor) run(ctx context.Context, jobID string, opts Options) (*Report, error) {
	if p.lock != nil {
		locked, err := p.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire processing lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("another processing run holds the lock")
		}
		defer func() { _ = p.lock.Unlock() }()
	}

	raws, err := p.store.RawActivitiesInRange(ctx, opts.DateStart, opts.DateEnd)
	if err != nil {
		return nil, err
	}
	total := len(raws)
	if total == 0 {
		return &Report{Status: "no_data"}, nil
	}

	// Optional system-wide taxonomy regeneration before tagging.
	if opts.RegenerateSystemTags && p.builder != nil {
		_, tagCount, err := p.store.ListTags(ctx, types.TagFilter{Limit: 1})
		if err == nil && tagger.ShouldRegenerate(tagCount, total) {
			if _, err := p.builder.Build(ctx, opts.DateStart, opts.DateEnd); err != nil {
				p.log.Warn("taxonomy regeneration failed", "error", err)
			}
		}
	}

	// Reprocessing a range replaces its processed activities wholesale.
	if _, err := p.store.DeleteProcessedActivitiesInRange(ctx, opts.DateStart, opts.DateEnd); err != nil {
		return nil, err
	}

	var (
		processed int
		tagTotal  int
		uniqueTag = map[string]bool{}
	)

	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates := p.tagger.GenerateTags(ctx, raw)
		if err := p.persist(ctx, raw, candidates); err != nil {
			p.log.Warn("activity failed", "activity", raw.ID, "error", err)
			continue
		}
		processed++
		tagTotal += len(candidates)

		names := make([]string, len(candidates))
		confs := make([]float64, len(candidates))
		for j, c := range candidates {
			names[j] = c.Name
			confs[j] = c.Confidence
			uniqueTag[c.Name] = true
		}
		p.taglog.Log(taglog.Record{
			ActivityID:   raw.ID,
			ActivityText: raw.Details,
			Source:       raw.Source,
			Tags:         names,
			Confidences:  confs,
			NeedsReview:  p.tagger.NeedsReview(candidates),
		})

		p.jobs.Update(jobID, Snapshot{
			Status:          StatusRunning,
			ActivityIndex:   i + 1,
			TotalActivities: total,
			CurrentActivity: raw.Details,
			CurrentTags:     names,
			Progress:        (i + 1) * 100 / total,
		})
	}

	avg := 0.0
	if processed > 0 {
		avg = float64(tagTotal) / float64(processed)
	}
	return &Report{
		Status: "success",
		Counters: Counters{
			RawActivities:          total,
			ProcessedActivities:    processed,
			UniqueTags:             len(uniqueTag),
			AverageTagsPerActivity: avg,
		},
	}, nil
}

// persist writes one processed activity and its tag links in a single
// transaction. One processed activity per raw activity today.
func (p *Processor) persist(ctx context.Context, raw *types.RawActivity, candidates []tagger.Candidate) error {
	return p.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		pa := &types.ProcessedActivity{
			Date:                 raw.Date,
			Time:                 raw.Time,
			TotalDurationMinutes: raw.DurationMinutes,
			CombinedDetails:      raw.Details,
			RawActivityIDs:       []int64{raw.ID},
			Sources:              []string{raw.Source},
		}
		id, err := tx.CreateProcessedActivity(ctx, pa)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			tag, err := tx.GetOrCreateTag(ctx, c.Name, "Auto-generated tag: "+c.Name)
			if err != nil {
				return err
			}
			if err := tx.InsertActivityTag(ctx, &types.ActivityTag{
				ProcessedActivityID: id,
				TagID:               tag.ID,
				Confidence:          c.Confidence,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
