package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
	"github.com/jo-hoe/gallerystore/internal/backend/objectstore"
)

// List returns the parent's families in position order.
func (s *Service) List(ctx context.Context, parentID int64) (families []Family, err error) {
	start := time.Now()
	defer func() { s.observe(OpList, start, err) }()

	if parentID <= 0 {
		return nil, failure.New(failure.CodeValidation, OpList, fmt.Sprintf("parent id must be positive, got %d", parentID))
	}

	var snapshot []database.Asset
	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		snapshot, err = uow.ListByParent(parentID)
		return err
	})
	if err != nil {
		return nil, failure.Map(OpList, err)
	}
	return s.families(snapshot), nil
}

func (s *Service) families(snapshot []database.Asset) []Family {
	byID := make(map[int64]database.Asset, len(snapshot))
	linked := make(map[int64]database.Asset)
	for _, a := range snapshot {
		byID[a.ID] = a
		if a.Kind == database.KindHighRes && a.HighResOf != nil {
			if _, dup := linked[*a.HighResOf]; !dup {
				linked[*a.HighResOf] = a
			}
		}
	}

	families := make([]Family, 0, len(snapshot))
	for _, a := range snapshot {
		if a.Kind != database.KindPrimary {
			continue
		}
		f := Family{Primary: a}
		if a.ThumbnailID != nil {
			if t, ok := byID[*a.ThumbnailID]; ok && t.Kind == database.KindThumbnail {
				f.Thumbnail = &t
			}
		}
		if h, ok := linked[a.ID]; ok {
			f.HighRes = &h
		} else if s.adjacency {
			if h, ok := adjacentHighRes(byID, a); ok {
				f.HighRes = &h
			}
		}
		families = append(families, f)
	}
	return families
}

// Content returns the stored bytes of one asset and their content type.
func (s *Service) Content(ctx context.Context, assetID int64) (data []byte, contentType string, err error) {
	start := time.Now()
	defer func() { s.observe(OpContent, start, err) }()

	if assetID <= 0 {
		return nil, "", failure.New(failure.CodeValidation, OpContent, fmt.Sprintf("asset id must be positive, got %d", assetID))
	}

	var asset *database.Asset
	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		asset, err = uow.GetAsset(assetID)
		return err
	})
	if err != nil {
		return nil, "", failure.Map(OpContent, err)
	}

	data, err = s.blobs.Get(ctx, asset.StoragePath)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, "", failure.New(failure.CodeNotFound, OpContent,
			fmt.Sprintf("stored object of asset %d is missing", assetID))
	}
	if err != nil {
		return nil, "", failure.Map(OpContent, err)
	}
	return data, asset.ContentType, nil
}
