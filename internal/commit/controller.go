// Package commit moves the graph from an approved future back to a single
// present: it exposes the pending change set to whoever writes files, then
// either rebuilds the graph from disk or folds futures in place.
package commit

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/ingest"
	"github.com/dusk-indust/parseltongue/internal/logging"
)

// Controller owns the destructive end of the temporal lifecycle.
type Controller struct {
	handle   *graph.Handle
	ingester *ingest.Ingester
	logger   logrus.FieldLogger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) { c.logger = logging.OrDiscard(l) }
}

// WithIngester sets the ingester used by Rebuild. It must write through
// the same handle.
func WithIngester(in *ingest.Ingester) Option {
	return func(c *Controller) { c.ingester = in }
}

// NewController returns a controller for the store behind h.
func NewController(h *graph.Handle, opts ...Option) *Controller {
	c := &Controller{handle: h, logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	if c.ingester == nil {
		c.ingester = ingest.NewIngester(h, ingest.WithLogger(c.logger))
	}
	return c
}

// PendingChange is one entity with a pending future action, in the shape
// a diff/apply tool needs. Lines is nil for creates.
type PendingChange struct {
	Key         entity.Key        `json:"key"`
	Action      entity.Action     `json:"action"`
	FilePath    string            `json:"filePath"`
	Lines       *entity.LineRange `json:"lines,omitempty"`
	FutureCode  *string           `json:"futureCode,omitempty"`
	CurrentCode *string           `json:"currentCode,omitempty"`
}

// PendingChanges lists every pending entity sorted by file path, then
// start line. Creates sort first within a file.
func (c *Controller) PendingChanges(ctx context.Context) ([]PendingChange, error) {
	all, err := c.handle.Store.ListEntities(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []PendingChange
	for i := range all {
		e := &all[i]
		if !e.Temporal.Pending() {
			continue
		}
		pc := PendingChange{
			Key:         e.Key,
			Action:      e.Temporal.Action(),
			FilePath:    e.FilePath,
			FutureCode:  e.FutureCode,
			CurrentCode: e.CurrentCode,
		}
		if e.Temporal.Action() != entity.ActionCreate && e.Lines != nil {
			l := *e.Lines
			pc.Lines = &l
		}
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		li, lj := startLine(out[i]), startLine(out[j])
		if li != lj {
			return li < lj
		}
		return out[i].Key.Less(out[j].Key)
	})
	return out, nil
}

func startLine(pc PendingChange) int {
	if pc.Lines == nil {
		return 0
	}
	return pc.Lines.Start
}

// Reset destroys every entity, edge and temporal marker. There is no
// backup; callers are expected to have written approved changes to disk.
func (c *Controller) Reset(ctx context.Context) error {
	err := c.handle.Exclusive(ctx, func(s graph.Store) error {
		return s.Reset(ctx)
	})
	if err != nil {
		c.logger.WithError(err).Error("reset failed")
		return err
	}
	c.logger.Warn("graph reset; all entities and edges discarded")
	return nil
}

// Rebuild resets the graph and re-ingests from src. Facts are gathered
// before the writer lock is taken; the reset and the writes share one
// critical section.
func (c *Controller) Rebuild(ctx context.Context, src ingest.Source) (*ingest.Report, error) {
	entities, edges, err := src.Facts(ctx)
	if err != nil {
		return nil, err
	}
	report, err := c.ingester.Replace(ctx, entities, edges)
	if err != nil {
		c.logger.WithError(err).Error("rebuild failed")
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"entities": report.Entities,
		"edges":    report.Edges,
	}).Info("graph rebuilt")
	return report, nil
}

// FoldReport lists what Fold collapsed.
type FoldReport struct {
	Edited   []entity.Key  `json:"edited,omitempty"`
	Created  []entity.Key  `json:"created,omitempty"`
	Deleted  []entity.Key  `json:"deleted,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Total is the number of entities folded.
func (r *FoldReport) Total() int { return len(r.Edited) + len(r.Created) + len(r.Deleted) }

// Fold collapses every pending future into the present without touching
// disk: edits and creates take their future code as current code, deletes
// remove the entity and its edges. All folded entities end unchanged.
// Created entities keep their content-hash keys until the next Rebuild.
func (c *Controller) Fold(ctx context.Context) (*FoldReport, error) {
	start := time.Now()
	report := &FoldReport{}
	err := c.handle.Exclusive(ctx, func(s graph.Store) error {
		all, err := s.ListEntities(ctx, 0)
		if err != nil {
			return err
		}
		var batch graph.Batch
		for i := range all {
			e := all[i]
			switch e.Temporal.Action() {
			case entity.ActionEdit, entity.ActionCreate:
				if e.Temporal.Action() == entity.ActionEdit {
					report.Edited = append(report.Edited, e.Key)
				} else {
					report.Created = append(report.Created, e.Key)
				}
				e.CurrentCode = e.FutureCode
				e.FutureCode = nil
				e.Temporal = entity.Unchanged()
				batch.Upserts = append(batch.Upserts, e)
			case entity.ActionDelete:
				report.Deleted = append(report.Deleted, e.Key)
				batch.Deletes = append(batch.Deletes, e.Key)
			}
		}
		if batch.Empty() {
			return nil
		}
		return s.CommitBatch(ctx, batch)
	})
	report.Duration = time.Since(start)
	if err != nil {
		c.logger.WithError(err).Error("fold failed")
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"edited":  len(report.Edited),
		"created": len(report.Created),
		"deleted": len(report.Deleted),
	}).Info("pending changes folded")
	return report, nil
}
