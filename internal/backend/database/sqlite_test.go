package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jo-hoe/gallerystore/internal/backend/failure"
)

func newTestDB(t *testing.T) DatabaseService {
	t.Helper()

	ds, err := NewDatabase("sqlite", ":memory:", 0)
	if err != nil {
		t.Fatalf("NewDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func insertFamily(t *testing.T, ds DatabaseService, parentID int64) (primary, thumb Asset) {
	t.Helper()
	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		maxPos, err := uow.MaxPosition(parentID)
		if err != nil {
			return err
		}
		primary = Asset{ParentID: parentID, Kind: KindPrimary, Position: int64Ptr(maxPos + 1), StoragePath: "p"}
		if err := uow.InsertAsset(&primary); err != nil {
			return err
		}
		thumb = Asset{ParentID: parentID, Kind: KindThumbnail, StoragePath: "t"}
		if err := uow.InsertAsset(&thumb); err != nil {
			return err
		}
		_, err = uow.SetThumbnail(primary.ID, thumb.ID)
		primary.ThumbnailID = int64Ptr(thumb.ID)
		return err
	})
	if err != nil {
		t.Fatalf("insertFamily error: %v", err)
	}
	return primary, thumb
}

func TestSQLite_DoesDatabaseExist(t *testing.T) {
	ds := newTestDB(t)
	if !ds.DoesDatabaseExist() {
		t.Fatalf("expected DoesDatabaseExist to return true")
	}
	if ds.Type() != "sqlite" {
		t.Fatalf("expected type sqlite, got %q", ds.Type())
	}
}

func TestSQLite_CreateDatabaseIsIdempotent(t *testing.T) {
	ds := newTestDB(t)
	insertFamily(t, ds, 1)
	if _, err := ds.CreateDatabase(); err != nil {
		t.Fatalf("second CreateDatabase error: %v", err)
	}
	p, _ := insertFamily(t, ds, 1)
	if p.ID != 3 {
		t.Fatalf("expected sequence to survive schema re-apply, got id %d", p.ID)
	}
}

func TestSQLite_InsertAllocatesSequentialIDs(t *testing.T) {
	ds := newTestDB(t)

	p1, t1 := insertFamily(t, ds, 10)
	p2, t2 := insertFamily(t, ds, 10)

	got := []int64{p1.ID, t1.ID, p2.ID, t2.ID}
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("expected id %d at index %d, got %d", i+1, i, id)
		}
	}
}

func TestSQLite_ListByParent_Ordering(t *testing.T) {
	ds := newTestDB(t)

	first, _ := insertFamily(t, ds, 1)
	second, _ := insertFamily(t, ds, 1)
	insertFamily(t, ds, 2)

	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		if n, err := uow.SetPosition(1, first.ID, 2); err != nil || n != 1 {
			t.Fatalf("SetPosition(first) = %d, %v", n, err)
		}
		if n, err := uow.SetPosition(1, second.ID, 1); err != nil || n != 1 {
			t.Fatalf("SetPosition(second) = %d, %v", n, err)
		}

		assets, err := uow.ListByParent(1)
		if err != nil {
			return err
		}
		if len(assets) != 4 {
			t.Fatalf("expected 4 rows for parent 1, got %d", len(assets))
		}
		if assets[0].ID != second.ID || assets[1].ID != first.ID {
			t.Fatalf("expected primaries ordered by position, got %d then %d", assets[0].ID, assets[1].ID)
		}
		if assets[2].Kind != KindThumbnail || assets[3].Kind != KindThumbnail {
			t.Fatalf("expected satellites after primaries, got %s and %s", assets[2].Kind, assets[3].Kind)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}
}

func TestSQLite_SetPosition_WrongParentAffectsNothing(t *testing.T) {
	ds := newTestDB(t)
	p, thumb := insertFamily(t, ds, 1)

	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		n, err := uow.SetPosition(2, p.ID, 1)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Fatalf("expected 0 rows for foreign parent, got %d", n)
		}
		n, err = uow.SetPosition(1, thumb.ID, 1)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Fatalf("expected 0 rows for thumbnail, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}
}

func TestSQLite_InTx_RollsBackOnError(t *testing.T) {
	ds := newTestDB(t)
	p, _ := insertFamily(t, ds, 1)

	boom := errors.New("boom")
	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		if _, err := uow.DeleteAsset(p.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = ds.InTx(context.Background(), func(uow UnitOfWork) error {
		a, err := uow.GetAsset(p.ID)
		if err != nil {
			return err
		}
		if a.Kind != KindPrimary {
			t.Fatalf("expected primary to survive rollback, got %s", a.Kind)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}
}

func TestSQLite_GetAsset_NotFound(t *testing.T) {
	ds := newTestDB(t)
	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		_, err := uow.GetAsset(999)
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !failure.IsCode(failure.Map("get", err), failure.CodeNotFound) {
		t.Fatalf("expected not_found classification, got %v", failure.Map("get", err))
	}
}

func TestSQLite_IDCollisionAndResync(t *testing.T) {
	ds := newTestDB(t)
	insertFamily(t, ds, 1)

	if _, err := ds.DB().Exec("UPDATE asset_id_sequence SET value = 0 WHERE name = 'assets'"); err != nil {
		t.Fatalf("failed to rewind sequence: %v", err)
	}

	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		return uow.InsertAsset(&Asset{ParentID: 1, Kind: KindHighRes})
	})
	if !errors.Is(err, ErrIDCollision) {
		t.Fatalf("expected ErrIDCollision, got %v", err)
	}
	if !failure.IsCode(failure.Map("ingest", err), failure.CodeIDDesync) {
		t.Fatalf("expected id_desync classification")
	}

	err = ds.InTx(context.Background(), func(uow UnitOfWork) error {
		current, err := uow.ResyncIDSequence()
		if err != nil {
			return err
		}
		if current != 2 {
			t.Fatalf("expected resync to max id 2, got %d", current)
		}
		a := &Asset{ParentID: 1, Kind: KindHighRes}
		if err := uow.InsertAsset(a); err != nil {
			return err
		}
		if a.ID != 3 {
			t.Fatalf("expected id 3 after resync, got %d", a.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx after resync error: %v", err)
	}
}

func TestSQLite_FindLinks(t *testing.T) {
	ds := newTestDB(t)
	p, thumb := insertFamily(t, ds, 1)

	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		hr := &Asset{ParentID: 1, Kind: KindHighRes}
		if err := uow.InsertAsset(hr); err != nil {
			return err
		}
		if n, err := uow.SetHighResOf(hr.ID, p.ID); err != nil || n != 1 {
			t.Fatalf("SetHighResOf = %d, %v", n, err)
		}

		owner, err := uow.FindPrimaryByThumbnail(thumb.ID)
		if err != nil {
			return err
		}
		if owner == nil || owner.ID != p.ID {
			t.Fatalf("expected primary %d for thumbnail, got %+v", p.ID, owner)
		}
		found, err := uow.FindHighResByPrimary(p.ID)
		if err != nil {
			return err
		}
		if found == nil || found.ID != hr.ID {
			t.Fatalf("expected high-res %d, got %+v", hr.ID, found)
		}
		none, err := uow.FindHighResByPrimary(thumb.ID)
		if err != nil {
			return err
		}
		if none != nil {
			t.Fatalf("expected no high-res for thumbnail, got %+v", none)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}
}

func TestSQLite_CountPrimariesAndListParents(t *testing.T) {
	ds := newTestDB(t)
	p1, t1 := insertFamily(t, ds, 3)
	p2, _ := insertFamily(t, ds, 7)

	err := ds.InTx(context.Background(), func(uow UnitOfWork) error {
		n, err := uow.CountPrimaries(3, []int64{p1.ID, t1.ID, p2.ID})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("expected 1 owned primary, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx error: %v", err)
	}

	parents, err := ds.ListParents(context.Background())
	if err != nil {
		t.Fatalf("ListParents error: %v", err)
	}
	if len(parents) != 2 || parents[0] != 3 || parents[1] != 7 {
		t.Fatalf("expected parents [3 7], got %v", parents)
	}
}

func TestNewDatabase_Unsupported(t *testing.T) {
	if _, err := NewDatabase("oracle", "", 0); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestRebindDollar(t *testing.T) {
	got := rebindDollar("UPDATE assets SET position = ? WHERE id = ? AND parent_id = ?")
	want := "UPDATE assets SET position = $1 WHERE id = $2 AND parent_id = $3"
	if got != want {
		t.Fatalf("rebindDollar = %q, want %q", got, want)
	}
}
