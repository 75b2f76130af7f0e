package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const assetColumns = "id, parent_id, kind, position, thumbnail_id, high_res_of, width, height, byte_size, content_type, storage_path"

type unitOfWork struct {
	ctx     context.Context
	tx      *sql.Tx
	dialect dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (Asset, error) {
	var a Asset
	var kind string
	var position, thumbnailID, highResOf sql.NullInt64
	if err := row.Scan(&a.ID, &a.ParentID, &kind, &position, &thumbnailID, &highResOf,
		&a.Width, &a.Height, &a.ByteSize, &a.ContentType, &a.StoragePath); err != nil {
		return Asset{}, err
	}
	a.Kind = Kind(kind)
	if position.Valid {
		a.Position = int64Ptr(position.Int64)
	}
	if thumbnailID.Valid {
		a.ThumbnailID = int64Ptr(thumbnailID.Int64)
	}
	if highResOf.Valid {
		a.HighResOf = int64Ptr(highResOf.Int64)
	}
	return a, nil
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (u *unitOfWork) Context() context.Context { return u.ctx }

func (u *unitOfWork) query(query string, args ...any) ([]Asset, error) {
	rows, err := u.tx.QueryContext(u.ctx, u.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// queryOne returns nil without error when no row matches.
func (u *unitOfWork) queryOne(query string, args ...any) (*Asset, error) {
	a, err := scanAsset(u.tx.QueryRowContext(u.ctx, u.dialect.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (u *unitOfWork) exec(query string, args ...any) (int64, error) {
	res, err := u.tx.ExecContext(u.ctx, u.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (u *unitOfWork) LockParent(parentID int64) error {
	return u.dialect.lockParent(u.ctx, u.tx, parentID)
}

func (u *unitOfWork) ListByParent(parentID int64) ([]Asset, error) {
	return u.query(`SELECT `+assetColumns+` FROM assets WHERE parent_id = ?
		ORDER BY CASE WHEN kind = 'primary' THEN 0 ELSE 1 END,
			CASE WHEN position IS NULL THEN 1 ELSE 0 END, position, id`, parentID)
}

func (u *unitOfWork) ListPrimaries(parentID int64) ([]Asset, error) {
	return u.query(`SELECT `+assetColumns+` FROM assets WHERE parent_id = ? AND kind = 'primary'
		ORDER BY CASE WHEN position IS NULL THEN 1 ELSE 0 END, position, id`, parentID)
}

func (u *unitOfWork) GetAsset(id int64) (*Asset, error) {
	a, err := u.queryOne(`SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return a, nil
}

func (u *unitOfWork) GetAssets(ids []int64) ([]Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return u.query(`SELECT `+assetColumns+` FROM assets WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		int64Args(ids)...)
}

func (u *unitOfWork) CountPrimaries(parentID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{parentID}, int64Args(ids)...)
	var n int64
	err := u.tx.QueryRowContext(u.ctx, u.dialect.rebind(
		`SELECT COUNT(*) FROM assets WHERE parent_id = ? AND kind = 'primary' AND id IN (`+placeholders(len(ids))+`)`),
		args...).Scan(&n)
	return n, err
}

func (u *unitOfWork) MaxPosition(parentID int64) (int64, error) {
	var n int64
	err := u.tx.QueryRowContext(u.ctx, u.dialect.rebind(
		`SELECT COALESCE(MAX(position), 0) FROM assets WHERE parent_id = ? AND kind = 'primary'`),
		parentID).Scan(&n)
	return n, err
}

// FindPrimaryByThumbnail returns nil when no primary references the thumbnail.
func (u *unitOfWork) FindPrimaryByThumbnail(thumbnailID int64) (*Asset, error) {
	return u.queryOne(`SELECT `+assetColumns+` FROM assets
		WHERE kind = 'primary' AND thumbnail_id = ? ORDER BY id LIMIT 1`, thumbnailID)
}

// FindHighResByPrimary returns nil when the primary has no linked high-res row.
func (u *unitOfWork) FindHighResByPrimary(primaryID int64) (*Asset, error) {
	return u.queryOne(`SELECT `+assetColumns+` FROM assets
		WHERE kind = 'highres' AND high_res_of = ? ORDER BY id LIMIT 1`, primaryID)
}

func (u *unitOfWork) InsertAsset(asset *Asset) error {
	if asset == nil {
		return errors.New("asset is nil")
	}
	if !asset.Kind.Valid() {
		return fmt.Errorf("invalid asset kind %q", asset.Kind)
	}

	var id int64
	if err := u.tx.QueryRowContext(u.ctx, u.dialect.nextIDQuery()).Scan(&id); err != nil {
		return fmt.Errorf("failed to allocate asset id: %w", err)
	}

	_, err := u.tx.ExecContext(u.ctx, u.dialect.rebind(`INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, asset.ParentID, string(asset.Kind), nullable(asset.Position), nullable(asset.ThumbnailID),
		nullable(asset.HighResOf), asset.Width, asset.Height, asset.ByteSize, asset.ContentType, asset.StoragePath)
	if err != nil {
		if u.dialect.isIDCollision(err) {
			return fmt.Errorf("%w: generated id %d already exists: %v", ErrIDCollision, id, err)
		}
		return err
	}
	asset.ID = id
	return nil
}

// ResyncIDSequence moves the generator to the current max(id) and returns it.
func (u *unitOfWork) ResyncIDSequence() (int64, error) {
	var current int64
	if err := u.tx.QueryRowContext(u.ctx, u.dialect.resyncQuery()).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to resync asset id sequence: %w", err)
	}
	return current, nil
}

func (u *unitOfWork) SetPosition(parentID, id, position int64) (int64, error) {
	return u.exec(`UPDATE assets SET position = ? WHERE id = ? AND parent_id = ? AND kind = 'primary'`,
		position, id, parentID)
}

func (u *unitOfWork) SetThumbnail(primaryID, thumbnailID int64) (int64, error) {
	return u.exec(`UPDATE assets SET thumbnail_id = ? WHERE id = ? AND kind = 'primary'`, thumbnailID, primaryID)
}

func (u *unitOfWork) SetHighResOf(highResID, primaryID int64) (int64, error) {
	return u.exec(`UPDATE assets SET high_res_of = ? WHERE id = ? AND kind = 'highres'`, primaryID, highResID)
}

func (u *unitOfWork) DeleteAsset(id int64) (int64, error) {
	return u.exec(`DELETE FROM assets WHERE id = ?`, id)
}
