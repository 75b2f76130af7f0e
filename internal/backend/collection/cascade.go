package collection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
	"github.com/jo-hoe/gallerystore/internal/backend/objectstore"
	"golang.org/x/sync/errgroup"
)

const blobDeleteConcurrency = 4

// DeleteResult lists the rows and stored objects removed by Delete.
type DeleteResult struct {
	ParentID            int64    `json:"parentId"`
	DeletedRowIDs       []int64  `json:"deletedRowIds"`
	DeletedStoragePaths []string `json:"deletedStoragePaths"`
	Renormalized        int      `json:"renormalized"`
	Warnings            []string `json:"warnings,omitempty"`
}

// Delete removes the family of assetID in one unit and renormalizes the
// surviving primaries to 1..M. A satellite ID deletes the family of its
// primary. Stored objects are removed after commit; failures there become
// warnings.
func (s *Service) Delete(ctx context.Context, assetID int64) (result DeleteResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpDelete, start, err) }()

	if assetID <= 0 {
		return DeleteResult{}, failure.New(failure.CodeValidation, OpDelete,
			fmt.Sprintf("asset id must be positive, got %d", assetID))
	}

	var paths []string
	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		result, paths = DeleteResult{}, nil

		target, err := uow.GetAsset(assetID)
		if err != nil {
			return err
		}
		if err := uow.LockParent(target.ParentID); err != nil {
			return err
		}
		snapshot, err := uow.ListByParent(target.ParentID)
		if err != nil {
			return err
		}
		// A concurrent delete may have removed the family before the lock.
		locked, ok := findAsset(snapshot, assetID)
		if !ok {
			return fmt.Errorf("%w: id %d", database.ErrNotFound, assetID)
		}
		target = &locked
		family := s.resolveFamily(snapshot, locked)

		removedPrimary := false
		for _, member := range family {
			affected, err := uow.DeleteAsset(member.ID)
			if err != nil {
				return err
			}
			switch {
			case affected > 1:
				return failure.RowCount(OpDelete, 1, affected, fmt.Sprintf("delete asset %d", member.ID))
			case affected == 1:
				result.DeletedRowIDs = append(result.DeletedRowIDs, member.ID)
				if member.StoragePath != "" {
					paths = append(paths, member.StoragePath)
				}
				if member.Kind == database.KindPrimary {
					removedPrimary = true
				}
			}
		}
		if len(result.DeletedRowIDs) == 0 {
			return failure.RowCount(OpDelete, int64(len(family)), 0, fmt.Sprintf("delete family of asset %d", assetID))
		}

		if removedPrimary {
			survivors, err := uow.ListPrimaries(target.ParentID)
			if err != nil {
				return err
			}
			for i, p := range survivors {
				affected, err := uow.SetPosition(target.ParentID, p.ID, int64(i+1))
				if err != nil {
					return err
				}
				if affected != 1 {
					return failure.RowCount(OpDelete, 1, affected, fmt.Sprintf("renormalize asset %d to position %d", p.ID, i+1))
				}
			}
			result.Renormalized = len(survivors)
		}

		if err := s.requireInvariants(uow, OpDelete, target.ParentID); err != nil {
			return err
		}
		result.ParentID = target.ParentID
		return nil
	})
	if err != nil {
		slog.Warn("delete aborted", "asset_id", assetID, "error", err)
		return DeleteResult{}, failure.Map(OpDelete, err)
	}

	result.DeletedStoragePaths, result.Warnings = s.deleteBlobs(ctx, OpDelete, paths)
	slog.Info("deleted asset family",
		"asset_id", assetID,
		"parent_id", result.ParentID,
		"rows", len(result.DeletedRowIDs),
		"renormalized", result.Renormalized,
		"warnings", len(result.Warnings))
	return result, nil
}

// resolveFamily returns the rows that live and die with target, satellites
// first. A satellite without a resolvable primary is returned alone.
func (s *Service) resolveFamily(snapshot []database.Asset, target database.Asset) []database.Asset {
	byID := make(map[int64]database.Asset, len(snapshot))
	for _, a := range snapshot {
		byID[a.ID] = a
	}

	primary, ok := s.owningPrimary(byID, snapshot, target)
	if !ok {
		slog.Warn("satellite has no owning primary; deleting it alone",
			"asset_id", target.ID,
			"kind", target.Kind,
			"parent_id", target.ParentID)
		return []database.Asset{target}
	}

	var family []database.Asset
	if primary.ThumbnailID != nil {
		if t, ok := byID[*primary.ThumbnailID]; ok && t.Kind == database.KindThumbnail {
			family = append(family, t)
		}
	}

	linked := false
	for _, a := range snapshot {
		if a.Kind == database.KindHighRes && a.HighResOf != nil && *a.HighResOf == primary.ID {
			family = append(family, a)
			linked = true
		}
	}
	if !linked && s.adjacency {
		if h, ok := adjacentHighRes(byID, primary); ok {
			slog.Warn("paired high-res by id adjacency",
				"primary_id", primary.ID,
				"high_res_id", h.ID,
				"parent_id", primary.ParentID)
			s.hooks.IncWarning(OpDelete, "adjacency_pairing")
			family = append(family, h)
		}
	}

	contains := func(id int64) bool {
		for _, m := range family {
			if m.ID == id {
				return true
			}
		}
		return id == primary.ID
	}
	if !contains(target.ID) {
		family = append(family, target)
	}
	return append(family, primary)
}

func findAsset(snapshot []database.Asset, id int64) (database.Asset, bool) {
	for _, a := range snapshot {
		if a.ID == id {
			return a, true
		}
	}
	return database.Asset{}, false
}

func (s *Service) owningPrimary(byID map[int64]database.Asset, snapshot []database.Asset, target database.Asset) (database.Asset, bool) {
	switch target.Kind {
	case database.KindPrimary:
		return target, true
	case database.KindThumbnail:
		for _, a := range snapshot {
			if a.Kind == database.KindPrimary && a.ThumbnailID != nil && *a.ThumbnailID == target.ID {
				return a, true
			}
		}
	case database.KindHighRes:
		if target.HighResOf != nil {
			return isPrimary(byID, *target.HighResOf, target.ParentID)
		}
		if s.adjacency {
			if p, ok := adjacentPrimary(byID, target); ok {
				// only when the primary would pair back with this row
				if h, ok := adjacentHighRes(byID, p); ok && h.ID == target.ID {
					return p, true
				}
			}
		}
	}
	return database.Asset{}, false
}

// deleteBlobs removes stored objects in parallel. It returns the paths that
// are gone (deleted or already missing) and one warning per failure.
func (s *Service) deleteBlobs(ctx context.Context, op string, paths []string) ([]string, []string) {
	if len(paths) == 0 || s.blobs == nil {
		return []string{}, nil
	}

	var mu sync.Mutex
	deleted := make([]string, 0, len(paths))
	var warnings []string

	g := new(errgroup.Group)
	g.SetLimit(blobDeleteConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			res, err := s.blobs.Delete(context.WithoutCancel(ctx), p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("failed to delete stored object", "operation", op, "path", p, "error", err)
				s.hooks.IncWarning(op, "storage_delete")
				warnings = append(warnings, fmt.Sprintf("storage delete %s: %v", p, err))
				return nil
			}
			if res == objectstore.NotFound {
				slog.Debug("stored object already gone", "path", p)
			}
			deleted = append(deleted, p)
			return nil
		})
	}
	_ = g.Wait()
	return deleted, warnings
}
