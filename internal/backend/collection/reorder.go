package collection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
)

// ReorderResult holds the parent's primaries in their new order.
type ReorderResult struct {
	UpdatedCount int              `json:"updatedCount"`
	Assets       []database.Asset `json:"assets"`
}

// Reorder makes orderedIDs the position order of the parent's primaries:
// orderedIDs[i] gets position i+1. The list must name every primary of the
// parent exactly once.
func (s *Service) Reorder(ctx context.Context, parentID int64, orderedIDs []int64) (result ReorderResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpReorder, start, err) }()

	if err := validateOrderInput(parentID, orderedIDs); err != nil {
		return ReorderResult{}, err
	}

	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		if err := uow.LockParent(parentID); err != nil {
			return err
		}

		owned, err := uow.CountPrimaries(parentID, orderedIDs)
		if err != nil {
			return err
		}
		if owned != int64(len(orderedIDs)) {
			return classifyOrderIDs(uow, parentID, orderedIDs)
		}

		current, err := uow.ListPrimaries(parentID)
		if err != nil {
			return err
		}
		if len(current) != len(orderedIDs) {
			e := failure.New(failure.CodeValidation, OpReorder,
				fmt.Sprintf("order lists %d of the %d primaries of parent %d", len(orderedIDs), len(current), parentID))
			e.Expected, e.Actual = int64(len(current)), int64(len(orderedIDs))
			return e
		}

		for i, id := range orderedIDs {
			affected, err := uow.SetPosition(parentID, id, int64(i+1))
			if err != nil {
				return err
			}
			if affected != 1 {
				return failure.RowCount(OpReorder, 1, affected, fmt.Sprintf("set position %d of asset %d", i+1, id))
			}
		}

		if err := s.requireInvariants(uow, OpReorder, parentID); err != nil {
			return err
		}

		assets, err := uow.ListPrimaries(parentID)
		if err != nil {
			return err
		}
		result = ReorderResult{UpdatedCount: len(orderedIDs), Assets: assets}
		return nil
	})
	if err != nil {
		slog.Warn("reorder aborted", "parent_id", parentID, "error", err)
		return ReorderResult{}, failure.Map(OpReorder, err)
	}

	slog.Info("reordered collection", "parent_id", parentID, "updated", result.UpdatedCount)
	return result, nil
}

func validateOrderInput(parentID int64, orderedIDs []int64) error {
	if parentID <= 0 {
		return failure.New(failure.CodeValidation, OpReorder, fmt.Sprintf("parent id must be positive, got %d", parentID))
	}
	if len(orderedIDs) == 0 {
		return failure.New(failure.CodeValidation, OpReorder, "order must contain at least one asset id")
	}

	var issues []failure.IDIssue
	seen := make(map[int64]bool, len(orderedIDs))
	for i, id := range orderedIDs {
		if id <= 0 {
			issues = append(issues, failure.IDIssue{ID: id, Problem: failure.ProblemNotPositive,
				Detail: fmt.Sprintf("index %d", i)})
			continue
		}
		if seen[id] {
			issues = append(issues, failure.IDIssue{ID: id, Problem: failure.ProblemDuplicate,
				Detail: fmt.Sprintf("index %d", i)})
			continue
		}
		seen[id] = true
	}
	if len(issues) == 0 {
		return nil
	}

	e := failure.New(failure.CodeValidation, OpReorder, describeIssues(issues))
	e.IDs = issues
	return e
}

// classifyOrderIDs explains why some IDs are not primaries of the parent.
// Any foreign ID makes the whole request an ownership failure.
func classifyOrderIDs(uow database.UnitOfWork, parentID int64, orderedIDs []int64) error {
	found, err := uow.GetAssets(orderedIDs)
	if err != nil {
		return err
	}
	byID := make(map[int64]database.Asset, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}

	code := failure.CodeValidation
	var issues []failure.IDIssue
	for _, id := range orderedIDs {
		a, ok := byID[id]
		switch {
		case !ok:
			issues = append(issues, failure.IDIssue{ID: id, Problem: failure.ProblemNotFound})
		case a.ParentID != parentID:
			code = failure.CodeOwnership
			issues = append(issues, failure.IDIssue{ID: id, Problem: failure.ProblemWrongOwner,
				Detail: fmt.Sprintf("belongs to parent %d", a.ParentID)})
		case a.Kind != database.KindPrimary:
			issues = append(issues, failure.IDIssue{ID: id, Problem: failure.ProblemWrongKind,
				Detail: fmt.Sprintf("is a %s", a.Kind)})
		}
	}

	e := failure.New(code, OpReorder, describeIssues(issues))
	e.IDs = issues
	e.Expected = int64(len(orderedIDs))
	e.Actual = int64(len(orderedIDs) - len(issues))
	return e
}

func describeIssues(issues []failure.IDIssue) string {
	msg := fmt.Sprintf("%d rejected asset id(s):", len(issues))
	for _, is := range issues {
		msg += fmt.Sprintf(" %d=%s", is.ID, is.Problem)
	}
	return msg
}
