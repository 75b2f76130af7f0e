package collection

import "github.com/jo-hoe/gallerystore/internal/backend/database"

// Legacy rows carry no high_res_of link. Ingestion inserts the high-res row
// right before its primary, so the pair is recovered from ID adjacency: the
// primary g owns g-1, or g+1 when g+2 is not itself a primary that would
// claim g+1 as its own g-1.

func isLegacyHighRes(byID map[int64]database.Asset, id, parentID int64) (database.Asset, bool) {
	a, ok := byID[id]
	return a, ok && a.Kind == database.KindHighRes && a.HighResOf == nil && a.ParentID == parentID
}

func isPrimary(byID map[int64]database.Asset, id, parentID int64) (database.Asset, bool) {
	a, ok := byID[id]
	return a, ok && a.Kind == database.KindPrimary && a.ParentID == parentID
}

func adjacentHighRes(byID map[int64]database.Asset, primary database.Asset) (database.Asset, bool) {
	if h, ok := isLegacyHighRes(byID, primary.ID-1, primary.ParentID); ok {
		return h, true
	}
	if h, ok := isLegacyHighRes(byID, primary.ID+1, primary.ParentID); ok {
		if _, next := isPrimary(byID, primary.ID+2, primary.ParentID); !next {
			return h, true
		}
	}
	return database.Asset{}, false
}

// adjacentPrimary is the inverse of adjacentHighRes.
func adjacentPrimary(byID map[int64]database.Asset, highRes database.Asset) (database.Asset, bool) {
	if p, ok := isPrimary(byID, highRes.ID+1, highRes.ParentID); ok {
		return p, true
	}
	if p, ok := isPrimary(byID, highRes.ID-1, highRes.ParentID); ok {
		return p, true
	}
	return database.Asset{}, false
}
