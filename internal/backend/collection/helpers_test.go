package collection

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/commands"
	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/objectstore"
	"github.com/stretchr/testify/require"
)

type recordingHooks struct {
	mu        sync.Mutex
	outcomes  map[string][]string
	conflicts map[string]int
	retries   map[string]int
	warnings  map[string]int
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{
		outcomes:  make(map[string][]string),
		conflicts: make(map[string]int),
		retries:   make(map[string]int),
		warnings:  make(map[string]int),
	}
}

func (h *recordingHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes[name] = append(h.outcomes[name], status)
}

func (h *recordingHooks) IncConflict(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts[name]++
}

func (h *recordingHooks) IncRetry(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries[name]++
}

func (h *recordingHooks) IncWarning(name, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.warnings[name+"/"+kind]++
}

// stubDeriver returns fixed renditions. The payload "bad" is rejected and
// "large" yields a high-res rendition.
type stubDeriver struct {
	entered chan struct{}
	unblock chan struct{}
}

func (d *stubDeriver) Derive(ctx context.Context, raw []byte) (*commands.Derivatives, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.unblock != nil {
		select {
		case <-d.unblock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if bytes.Equal(raw, []byte("bad")) {
		return nil, errors.New("unsupported image format")
	}
	out := &commands.Derivatives{
		Primary:      commands.Rendition{Data: []byte("primary"), Width: 1600, Height: 1200, ContentType: "image/png"},
		Thumbnail:    commands.Rendition{Data: []byte("thumb"), Width: 200, Height: 150, ContentType: "image/png"},
		SourceFormat: "png",
		SourceWidth:  1600,
		SourceHeight: 1200,
	}
	if bytes.Equal(raw, []byte("large")) {
		out.HighRes = &commands.Rendition{Data: []byte("highres"), Width: 4000, Height: 3000, ContentType: "image/png"}
		out.SourceWidth, out.SourceHeight = 4000, 3000
	}
	return out, nil
}

// flakyStore fails selected operations on top of a MemoryStore.
type flakyStore struct {
	*objectstore.MemoryStore
	failPut    bool
	failDelete bool
}

func (f *flakyStore) Put(ctx context.Context, p string, data []byte) (string, error) {
	if f.failPut {
		return "", errors.New("bucket unavailable")
	}
	return f.MemoryStore.Put(ctx, p, data)
}

func (f *flakyStore) Delete(ctx context.Context, p string) (objectstore.DeleteResult, error) {
	if f.failDelete {
		return objectstore.Deleted, errors.New("bucket unavailable")
	}
	return f.MemoryStore.Delete(ctx, p)
}

type testEnv struct {
	svc   *Service
	db    database.DatabaseService
	blobs *flakyStore
	hooks *recordingHooks
}

func newTestEnv(t *testing.T, adjacency bool, media Deriver) *testEnv {
	t.Helper()

	db, err := database.NewDatabase("sqlite", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newTestEnvOn(db, adjacency, media)
}

func newTestEnvOn(db database.DatabaseService, adjacency bool, media Deriver) *testEnv {
	if media == nil {
		media = &stubDeriver{}
	}
	env := &testEnv{
		db:    db,
		blobs: &flakyStore{MemoryStore: objectstore.NewMemoryStore()},
		hooks: newRecordingHooks(),
	}
	env.svc = NewService(db, env.blobs, nil, media, Options{AdjacencyFallback: adjacency, Hooks: env.hooks})
	return env
}

type seedOptions struct {
	highRes bool
	// legacy leaves the high-res row without an explicit link.
	legacy bool
}

// seed writes one family directly through the store, appending it at the
// end of the parent's collection.
func (e *testEnv) seed(t *testing.T, parentID int64, opts seedOptions) Family {
	t.Helper()
	ctx := context.Background()

	put := func(kind database.Kind) string {
		p, err := e.blobs.MemoryStore.Put(ctx, objectPath(parentID, kind), []byte(kind))
		require.NoError(t, err)
		return p
	}

	var family Family
	err := e.db.InTx(ctx, func(uow database.UnitOfWork) error {
		maxPos, err := uow.MaxPosition(parentID)
		if err != nil {
			return err
		}
		var highRes *database.Asset
		if opts.highRes {
			highRes = &database.Asset{ParentID: parentID, Kind: database.KindHighRes, StoragePath: put(database.KindHighRes)}
			if err := uow.InsertAsset(highRes); err != nil {
				return err
			}
		}
		position := maxPos + 1
		primary := &database.Asset{ParentID: parentID, Kind: database.KindPrimary, Position: &position,
			StoragePath: put(database.KindPrimary)}
		if err := uow.InsertAsset(primary); err != nil {
			return err
		}
		thumb := &database.Asset{ParentID: parentID, Kind: database.KindThumbnail, StoragePath: put(database.KindThumbnail)}
		if err := uow.InsertAsset(thumb); err != nil {
			return err
		}
		if _, err := uow.SetThumbnail(primary.ID, thumb.ID); err != nil {
			return err
		}
		primary.ThumbnailID = &thumb.ID
		if highRes != nil && !opts.legacy {
			if _, err := uow.SetHighResOf(highRes.ID, primary.ID); err != nil {
				return err
			}
			highRes.HighResOf = &primary.ID
		}
		family = Family{Primary: *primary, Thumbnail: thumb, HighRes: highRes}
		return nil
	})
	require.NoError(t, err)
	return family
}

// positions maps primary IDs to their stored position.
func (e *testEnv) positions(t *testing.T, parentID int64) map[int64]int64 {
	t.Helper()
	out := make(map[int64]int64)
	err := e.db.InTx(context.Background(), func(uow database.UnitOfWork) error {
		primaries, err := uow.ListPrimaries(parentID)
		if err != nil {
			return err
		}
		for _, p := range primaries {
			out[p.ID] = p.PositionValue()
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func (e *testEnv) rows(t *testing.T, parentID int64) []database.Asset {
	t.Helper()
	var assets []database.Asset
	err := e.db.InTx(context.Background(), func(uow database.UnitOfWork) error {
		var err error
		assets, err = uow.ListByParent(parentID)
		return err
	})
	require.NoError(t, err)
	return assets
}
