package database

// Kind distinguishes the ordered Primary asset from its satellites.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindThumbnail Kind = "thumbnail"
	KindHighRes   Kind = "highres"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPrimary, KindThumbnail, KindHighRes:
		return true
	}
	return false
}

// Asset is one stored derivative file reference.
type Asset struct {
	ID       int64 `db:"id" json:"id"`
	ParentID int64 `db:"parent_id" json:"parentId"`
	Kind     Kind  `db:"kind" json:"kind"`
	// Position is only meaningful for primaries.
	Position *int64 `db:"position" json:"position,omitempty"`
	// ThumbnailID links a primary to its thumbnail.
	ThumbnailID *int64 `db:"thumbnail_id" json:"thumbnailId,omitempty"`
	// HighResOf links a high-res derivative back to its primary.
	HighResOf   *int64 `db:"high_res_of" json:"highResOf,omitempty"`
	Width       int    `db:"width" json:"width"`
	Height      int    `db:"height" json:"height"`
	ByteSize    int64  `db:"byte_size" json:"byteSize"`
	ContentType string `db:"content_type" json:"contentType"`
	StoragePath string `db:"storage_path" json:"storagePath"`
}

// PositionValue returns the position or 0 when unset.
func (a Asset) PositionValue() int64 {
	if a.Position == nil {
		return 0
	}
	return *a.Position
}

func int64Ptr(v int64) *int64 { return &v }
