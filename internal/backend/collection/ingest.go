package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/gallerystore/internal/backend/commands"
	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
	"github.com/jo-hoe/gallerystore/internal/backend/gate"
	"golang.org/x/sync/errgroup"
)

// Upload is one raw file handed to Ingest.
type Upload struct {
	Name string
	Data []byte
}

// Family is a primary with its satellites.
type Family struct {
	Primary   database.Asset  `json:"primary"`
	Thumbnail *database.Asset `json:"thumbnail,omitempty"`
	HighRes   *database.Asset `json:"highRes,omitempty"`
}

// FileError reports why one uploaded file was not stored.
type FileError struct {
	Index   int          `json:"index"`
	Name    string       `json:"name"`
	Code    failure.Code `json:"code"`
	Message string       `json:"error"`
}

// IngestResult lists the stored families and the per-file failures.
type IngestResult struct {
	Created       []Family    `json:"created"`
	PerFileErrors []FileError `json:"perFileErrors"`
	Warnings      []string    `json:"warnings,omitempty"`
}

// insertOutcome tags the result of one attempt at writing a family.
type insertOutcome int

const (
	insertOK insertOutcome = iota
	insertConflict
	insertFatal
)

// storedFamily holds the object paths of one upload's renditions.
type storedFamily struct {
	primary   string
	thumbnail string
	highRes   string
}

func (f storedFamily) paths() []string {
	var out []string
	for _, p := range []string{f.highRes, f.primary, f.thumbnail} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Ingest adds one family per file. Files are independent: a failing file
// leaves no rows behind and does not affect its siblings.
func (s *Service) Ingest(ctx context.Context, parentID int64, files []Upload) (IngestResult, error) {
	if parentID <= 0 {
		return IngestResult{}, failure.New(failure.CodeValidation, OpIngest,
			fmt.Sprintf("parent id must be positive, got %d", parentID))
	}
	if len(files) == 0 {
		return IngestResult{}, failure.New(failure.CodeValidation, OpIngest, "at least one file is required")
	}

	result := IngestResult{Created: []Family{}, PerFileErrors: []FileError{}}
	for i, f := range files {
		family, warnings, err := s.ingestFile(ctx, parentID, f)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			fe := FileError{Index: i, Name: f.Name, Code: failure.CodeOf(err), Message: err.Error()}
			result.PerFileErrors = append(result.PerFileErrors, fe)
			slog.Warn("file ingestion failed",
				"parent_id", parentID,
				"index", i,
				"name", f.Name,
				"code", fe.Code,
				"error", err)
			continue
		}
		result.Created = append(result.Created, family)
	}

	slog.Info("ingestion finished",
		"parent_id", parentID,
		"files", len(files),
		"created", len(result.Created),
		"failed", len(result.PerFileErrors))
	return result, nil
}

func (s *Service) ingestFile(ctx context.Context, parentID int64, f Upload) (family Family, warnings []string, err error) {
	start := time.Now()
	defer func() { s.observe(OpIngest, start, err) }()

	release, err := s.gate.TryAcquire(ctx, parentID)
	if errors.Is(err, gate.ErrBusy) {
		s.hooks.IncConflict(OpIngest)
		return Family{}, nil, failure.New(failure.CodeBusy, OpIngest,
			fmt.Sprintf("parent %d is busy with another ingestion, retry later", parentID))
	}
	if err != nil {
		return Family{}, nil, failure.Wrap(failure.CodeRetryable, OpIngest, err)
	}
	defer release()

	if len(f.Data) == 0 {
		return Family{}, nil, failure.New(failure.CodeValidation, OpIngest, fmt.Sprintf("file %q is empty", f.Name))
	}
	derived, err := s.media.Derive(ctx, f.Data)
	if err != nil {
		return Family{}, nil, failure.Wrap(failure.CodeValidation, OpIngest, fmt.Errorf("file %q: %w", f.Name, err))
	}

	stored, err := s.storeRenditions(ctx, parentID, derived)
	if err != nil {
		_, warnings = s.deleteBlobs(ctx, OpIngest, stored.paths())
		return Family{}, warnings, failure.Wrap(failure.CodeRetryable, OpIngest, err)
	}

	family, err = s.insertFamily(ctx, parentID, derived, stored)
	if err != nil {
		_, warnings = s.deleteBlobs(ctx, OpIngest, stored.paths())
		return Family{}, warnings, err
	}
	return family, nil, nil
}

func objectPath(parentID int64, kind database.Kind) string {
	return fmt.Sprintf("parents/%d/%s/%s.png", parentID, kind, uuid.NewString())
}

// storeRenditions uploads all renditions in parallel. On failure the returned
// storedFamily lists what was uploaded so the caller can remove it.
func (s *Service) storeRenditions(ctx context.Context, parentID int64, d *commands.Derivatives) (storedFamily, error) {
	var mu sync.Mutex
	var stored storedFamily

	put := func(ctx context.Context, kind database.Kind, data []byte, dst *string) error {
		path, err := s.blobs.Put(ctx, objectPath(parentID, kind), data)
		if err != nil {
			return fmt.Errorf("upload %s rendition: %w", kind, err)
		}
		mu.Lock()
		*dst = path
		mu.Unlock()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return put(gctx, database.KindPrimary, d.Primary.Data, &stored.primary) })
	g.Go(func() error { return put(gctx, database.KindThumbnail, d.Thumbnail.Data, &stored.thumbnail) })
	if d.HighRes != nil {
		g.Go(func() error { return put(gctx, database.KindHighRes, d.HighRes.Data, &stored.highRes) })
	}
	err := g.Wait()
	return stored, err
}

// insertFamily writes the family, resynchronizing the ID sequence and
// retrying exactly once when the first attempt hits an ID collision.
func (s *Service) insertFamily(ctx context.Context, parentID int64, d *commands.Derivatives, stored storedFamily) (Family, error) {
	family, outcome, err := s.tryInsertFamily(ctx, parentID, d, stored, false)
	if outcome == insertConflict {
		slog.Warn("asset id sequence is behind the table; resynchronizing and retrying",
			"parent_id", parentID,
			"error", err)
		s.hooks.IncRetry(OpIngest)
		family, outcome, err = s.tryInsertFamily(ctx, parentID, d, stored, true)
		if outcome == insertConflict {
			return Family{}, failure.Wrap(failure.CodeIDDesync, OpIngest,
				fmt.Errorf("id collision persisted after resync: %w", err))
		}
	}
	if outcome != insertOK {
		return Family{}, failure.Map(OpIngest, err)
	}

	slog.Info("ingested family",
		"parent_id", parentID,
		"primary_id", family.Primary.ID,
		"position", family.Primary.PositionValue(),
		"high_res", family.HighRes != nil)
	return family, nil
}

func (s *Service) tryInsertFamily(ctx context.Context, parentID int64, d *commands.Derivatives, stored storedFamily, resync bool) (family Family, outcome insertOutcome, err error) {
	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		family = Family{}
		if resync {
			current, err := uow.ResyncIDSequence()
			if err != nil {
				return err
			}
			slog.Info("asset id sequence resynchronized", "max_id", current)
		}
		if err := uow.LockParent(parentID); err != nil {
			return err
		}
		maxPosition, err := uow.MaxPosition(parentID)
		if err != nil {
			return err
		}

		var highRes *database.Asset
		if d.HighRes != nil {
			highRes = renditionAsset(parentID, database.KindHighRes, *d.HighRes, stored.highRes)
			if err := uow.InsertAsset(highRes); err != nil {
				return err
			}
		}

		primary := renditionAsset(parentID, database.KindPrimary, d.Primary, stored.primary)
		position := maxPosition + 1
		primary.Position = &position
		if err := uow.InsertAsset(primary); err != nil {
			return err
		}

		thumbnail := renditionAsset(parentID, database.KindThumbnail, d.Thumbnail, stored.thumbnail)
		if err := uow.InsertAsset(thumbnail); err != nil {
			return err
		}

		affected, err := uow.SetThumbnail(primary.ID, thumbnail.ID)
		if err != nil {
			return err
		}
		if affected != 1 {
			return failure.RowCount(OpIngest, 1, affected, fmt.Sprintf("link thumbnail %d to primary %d", thumbnail.ID, primary.ID))
		}
		primary.ThumbnailID = &thumbnail.ID

		if highRes != nil {
			affected, err := uow.SetHighResOf(highRes.ID, primary.ID)
			if err != nil {
				return err
			}
			if affected != 1 {
				return failure.RowCount(OpIngest, 1, affected, fmt.Sprintf("link high-res %d to primary %d", highRes.ID, primary.ID))
			}
			highRes.HighResOf = &primary.ID
		}

		if err := s.requireInvariants(uow, OpIngest, parentID); err != nil {
			return err
		}
		family = Family{Primary: *primary, Thumbnail: thumbnail, HighRes: highRes}
		return nil
	})
	switch {
	case err == nil:
		return family, insertOK, nil
	case errors.Is(err, database.ErrIDCollision):
		return Family{}, insertConflict, err
	default:
		return Family{}, insertFatal, err
	}
}

func renditionAsset(parentID int64, kind database.Kind, r commands.Rendition, path string) *database.Asset {
	contentType := r.ContentType
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	return &database.Asset{
		ParentID:    parentID,
		Kind:        kind,
		Width:       r.Width,
		Height:      r.Height,
		ByteSize:    r.Size(),
		ContentType: contentType,
		StoragePath: path,
	}
}
