package database

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when a looked-up asset does not exist.
	ErrNotFound = errors.New("asset not found")
	// ErrIDCollision is returned when the ID generator handed out an ID that
	// is already taken, i.e. the generator fell behind the table.
	ErrIDCollision = errors.New("asset id collision")
)

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error
	DB() *sql.DB
	Type() string

	// InTx runs fn inside one transaction bounded by the statement timeout.
	// The transaction commits only when fn returns nil.
	InTx(ctx context.Context, fn func(uow UnitOfWork) error) error
	// ListParents returns every parent ID that owns at least one asset.
	ListParents(ctx context.Context) ([]int64, error)
}

// UnitOfWork exposes the statements available inside one transaction.
// All reads observe the pending writes of the same unit.
type UnitOfWork interface {
	Context() context.Context

	// LockParent serializes writers of one parent for the rest of the unit.
	LockParent(parentID int64) error

	// ListByParent returns all rows of a parent, primaries first by position
	// (nulls last) then id, followed by satellites by id.
	ListByParent(parentID int64) ([]Asset, error)
	// ListPrimaries returns the primaries of a parent by position (nulls last) then id.
	ListPrimaries(parentID int64) ([]Asset, error)
	GetAsset(id int64) (*Asset, error)
	GetAssets(ids []int64) ([]Asset, error)
	// CountPrimaries counts how many of ids are primaries owned by parentID.
	CountPrimaries(parentID int64, ids []int64) (int64, error)
	MaxPosition(parentID int64) (int64, error)
	FindPrimaryByThumbnail(thumbnailID int64) (*Asset, error)
	FindHighResByPrimary(primaryID int64) (*Asset, error)

	// InsertAsset allocates an ID from the generator and stores the row.
	// A collision with an existing ID is reported as ErrIDCollision.
	InsertAsset(asset *Asset) error
	ResyncIDSequence() (int64, error)

	SetPosition(parentID, id, position int64) (int64, error)
	SetThumbnail(primaryID, thumbnailID int64) (int64, error)
	SetHighResOf(highResID, primaryID int64) (int64, error)
	DeleteAsset(id int64) (int64, error)
}
