// Package collection maintains the per-parent ordered asset collections:
// dense 1..N positions for primaries and complete derivative families.
package collection

import (
	"context"
	"log/slog"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/commands"
	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
	"github.com/jo-hoe/gallerystore/internal/backend/gate"
	"github.com/jo-hoe/gallerystore/internal/backend/objectstore"
)

// Operation names used in errors, logs and metrics.
const (
	OpReorder  = "reorder"
	OpDelete   = "delete"
	OpIngest   = "ingest"
	OpVerify   = "verify"
	OpList     = "list"
	OpContent  = "content"
	OpBackfill = "backfill_high_res_links"
)

// Hooks receives operation level observability events.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
	IncWarning(name, kind string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}
func (noopHooks) IncWarning(string, string)                      {}

// Deriver is the media pipeline collaborator.
type Deriver interface {
	Derive(ctx context.Context, raw []byte) (*commands.Derivatives, error)
}

// Options configures a Service.
type Options struct {
	// AdjacencyFallback pairs high-res rows without an explicit link to a
	// primary by ID adjacency.
	AdjacencyFallback bool
	Hooks             Hooks
}

// Service runs the collection operations against one store and object store.
type Service struct {
	store     database.DatabaseService
	blobs     objectstore.Store
	gate      gate.Gate
	media     Deriver
	adjacency bool
	hooks     Hooks
}

// NewService wires a Service. A nil gate defaults to an in-process gate and
// nil hooks discard events.
func NewService(store database.DatabaseService, blobs objectstore.Store, g gate.Gate, media Deriver, opts Options) *Service {
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	if g == nil {
		g = gate.NewLocalGate()
	}
	return &Service{
		store:     store,
		blobs:     blobs,
		gate:      g,
		media:     media,
		adjacency: opts.AdjacencyFallback,
		hooks:     hooks,
	}
}

func (s *Service) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = string(failure.CodeOf(err))
		if status == "" {
			status = string(failure.CodeInternal)
		}
	}
	s.hooks.ObserveOperation(op, status, time.Since(start))
}

// requireInvariants aborts the surrounding unit when the parent's snapshot,
// including the unit's own pending writes, violates an ordering invariant.
func (s *Service) requireInvariants(uow database.UnitOfWork, op string, parentID int64) error {
	report, err := verifyUnit(uow, parentID, s.adjacency)
	if err != nil {
		return err
	}
	if !report.OK {
		slog.Error("invariant check failed, aborting unit",
			"operation", op,
			"parent_id", parentID,
			"violations", len(report.Violations))
		return failure.Invariant(op, report.Violations)
	}
	return nil
}
