package collection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
)

// Link is an explicit high-res to primary pairing written by the backfill.
type Link struct {
	HighResID int64 `json:"highResId"`
	PrimaryID int64 `json:"primaryId"`
}

// BackfillResult lists the links written and the high-res rows left unpaired.
type BackfillResult struct {
	ParentID int64   `json:"parentId"`
	Linked   []Link  `json:"linked"`
	Skipped  []int64 `json:"skipped,omitempty"`
}

// BackfillHighResLinks stores the adjacency pairing of every unlinked
// high-res row of a parent as an explicit link. Rows without a reciprocal
// pairing are reported as skipped and left untouched; the unit still aborts
// when the parent then fails the invariant check.
func (s *Service) BackfillHighResLinks(ctx context.Context, parentID int64) (result BackfillResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpBackfill, start, err) }()

	if parentID <= 0 {
		return BackfillResult{}, failure.New(failure.CodeValidation, OpBackfill,
			fmt.Sprintf("parent id must be positive, got %d", parentID))
	}

	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		result = BackfillResult{ParentID: parentID, Linked: []Link{}}
		if err := uow.LockParent(parentID); err != nil {
			return err
		}
		snapshot, err := uow.ListByParent(parentID)
		if err != nil {
			return err
		}

		byID := make(map[int64]database.Asset, len(snapshot))
		claimed := make(map[int64]bool)
		for _, a := range snapshot {
			byID[a.ID] = a
			if a.Kind == database.KindHighRes && a.HighResOf != nil {
				claimed[*a.HighResOf] = true
			}
		}

		for _, h := range snapshot {
			if h.Kind != database.KindHighRes || h.HighResOf != nil {
				continue
			}
			p, ok := adjacentPrimary(byID, h)
			if ok {
				back, paired := adjacentHighRes(byID, p)
				ok = paired && back.ID == h.ID && !claimed[p.ID]
			}
			if !ok {
				result.Skipped = append(result.Skipped, h.ID)
				continue
			}
			affected, err := uow.SetHighResOf(h.ID, p.ID)
			if err != nil {
				return err
			}
			if affected != 1 {
				return failure.RowCount(OpBackfill, 1, affected, fmt.Sprintf("link high-res %d to primary %d", h.ID, p.ID))
			}
			claimed[p.ID] = true
			result.Linked = append(result.Linked, Link{HighResID: h.ID, PrimaryID: p.ID})
		}

		// Skipped rows still rely on adjacency, so the check tolerates them.
		report, err := verifyUnit(uow, parentID, true)
		if err != nil {
			return err
		}
		if !report.OK {
			return failure.Invariant(OpBackfill, report.Violations)
		}
		return nil
	})
	if err != nil {
		slog.Warn("high-res link backfill aborted", "parent_id", parentID, "error", err)
		return BackfillResult{}, failure.Map(OpBackfill, err)
	}

	for _, id := range result.Skipped {
		slog.Warn("high-res row left without explicit link", "parent_id", parentID, "high_res_id", id)
		s.hooks.IncWarning(OpBackfill, "unpaired_high_res")
	}
	slog.Info("backfilled high-res links",
		"parent_id", parentID,
		"linked", len(result.Linked),
		"skipped", len(result.Skipped))
	return result, nil
}
