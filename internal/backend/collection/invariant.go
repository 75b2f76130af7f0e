package collection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
)

const (
	ruleDensePositions   = "dense_positions"
	rulePositionAssigned = "position_assigned"
	ruleThumbnailLink    = "thumbnail_link"
	ruleHighResPair      = "high_res_pair"
)

// Report is the outcome of checking one parent's collection.
type Report struct {
	ParentID     int64               `json:"parentId"`
	OK           bool                `json:"ok"`
	PrimaryCount int                 `json:"primaryCount"`
	MinPosition  int64               `json:"minPosition"`
	MaxPosition  int64               `json:"maxPosition"`
	Duplicates   []int64             `json:"duplicatePositions,omitempty"`
	Violations   []failure.Violation `json:"violations,omitempty"`
}

// Check evaluates the ordering invariants over a snapshot of every row of one
// parent. It has no side effects.
func Check(parentID int64, assets []database.Asset, adjacency bool) Report {
	report := Report{ParentID: parentID}
	byID := make(map[int64]database.Asset, len(assets))
	var primaries, thumbnails, highRes []database.Asset
	for _, a := range assets {
		if a.ParentID != parentID {
			continue
		}
		byID[a.ID] = a
		switch a.Kind {
		case database.KindPrimary:
			primaries = append(primaries, a)
		case database.KindThumbnail:
			thumbnails = append(thumbnails, a)
		case database.KindHighRes:
			highRes = append(highRes, a)
		}
	}
	report.PrimaryCount = len(primaries)

	checkPositions(&report, primaries)
	checkThumbnails(&report, byID, primaries, thumbnails)
	checkHighRes(&report, byID, highRes, adjacency)

	report.OK = len(report.Violations) == 0
	return report
}

func checkPositions(report *Report, primaries []database.Asset) {
	seen := make(map[int64]int, len(primaries))
	var positioned int64
	for _, p := range primaries {
		if p.Position == nil {
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 2,
				Rule:      rulePositionAssigned,
				Detail:    fmt.Sprintf("primary %d has no position", p.ID),
				Values:    map[string]int64{"id": p.ID},
			})
			continue
		}
		pos := *p.Position
		if positioned == 0 || pos < report.MinPosition {
			report.MinPosition = pos
		}
		if positioned == 0 || pos > report.MaxPosition {
			report.MaxPosition = pos
		}
		positioned++
		seen[pos]++
		if seen[pos] == 2 {
			report.Duplicates = append(report.Duplicates, pos)
		}
	}
	if positioned == 0 {
		return
	}
	sort.Slice(report.Duplicates, func(i, j int) bool { return report.Duplicates[i] < report.Duplicates[j] })

	if report.MinPosition != 1 || report.MaxPosition != positioned || len(report.Duplicates) > 0 {
		report.Violations = append(report.Violations, failure.Violation{
			Invariant: 1,
			Rule:      ruleDensePositions,
			Detail: fmt.Sprintf("positions span %d..%d over %d primaries with duplicates %v",
				report.MinPosition, report.MaxPosition, positioned, report.Duplicates),
			Values: map[string]int64{
				"min":        report.MinPosition,
				"max":        report.MaxPosition,
				"count":      positioned,
				"duplicates": int64(len(report.Duplicates)),
			},
		})
	}
}

func checkThumbnails(report *Report, byID map[int64]database.Asset, primaries, thumbnails []database.Asset) {
	referencedBy := make(map[int64][]int64, len(thumbnails))
	for _, p := range primaries {
		if p.ThumbnailID == nil {
			continue
		}
		t, ok := byID[*p.ThumbnailID]
		if !ok || t.Kind != database.KindThumbnail {
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 3,
				Rule:      ruleThumbnailLink,
				Detail:    fmt.Sprintf("primary %d references %d, which is not a thumbnail of this parent", p.ID, *p.ThumbnailID),
				Values:    map[string]int64{"primary": p.ID, "thumbnail": *p.ThumbnailID},
			})
			continue
		}
		referencedBy[t.ID] = append(referencedBy[t.ID], p.ID)
	}
	for _, t := range thumbnails {
		refs := referencedBy[t.ID]
		switch {
		case len(refs) == 0:
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 3,
				Rule:      ruleThumbnailLink,
				Detail:    fmt.Sprintf("thumbnail %d is not referenced by a primary of this parent", t.ID),
				Values:    map[string]int64{"thumbnail": t.ID},
			})
		case len(refs) > 1:
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 3,
				Rule:      ruleThumbnailLink,
				Detail:    fmt.Sprintf("thumbnail %d is shared by primaries %v", t.ID, refs),
				Values:    map[string]int64{"thumbnail": t.ID, "references": int64(len(refs))},
			})
		}
	}
}

func checkHighRes(report *Report, byID map[int64]database.Asset, highRes []database.Asset, adjacency bool) {
	claims := make(map[int64][]int64)
	for _, h := range highRes {
		if h.HighResOf != nil {
			p, ok := byID[*h.HighResOf]
			if !ok || p.Kind != database.KindPrimary {
				report.Violations = append(report.Violations, failure.Violation{
					Invariant: 4,
					Rule:      ruleHighResPair,
					Detail:    fmt.Sprintf("high-res %d is linked to %d, which is not a primary of this parent", h.ID, *h.HighResOf),
					Values:    map[string]int64{"highRes": h.ID, "primary": *h.HighResOf},
				})
				continue
			}
			claims[p.ID] = append(claims[p.ID], h.ID)
			continue
		}
		if !adjacency {
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 4,
				Rule:      ruleHighResPair,
				Detail:    fmt.Sprintf("high-res %d has no explicit primary link", h.ID),
				Values:    map[string]int64{"highRes": h.ID},
			})
			continue
		}
		p, ok := adjacentPrimary(byID, h)
		if !ok {
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 4,
				Rule:      ruleHighResPair,
				Detail:    fmt.Sprintf("high-res %d has no link and no adjacent primary", h.ID),
				Values:    map[string]int64{"highRes": h.ID},
			})
			continue
		}
		claims[p.ID] = append(claims[p.ID], h.ID)
	}

	primaryIDs := make([]int64, 0, len(claims))
	for id := range claims {
		primaryIDs = append(primaryIDs, id)
	}
	sort.Slice(primaryIDs, func(i, j int) bool { return primaryIDs[i] < primaryIDs[j] })
	for _, id := range primaryIDs {
		if hs := claims[id]; len(hs) > 1 {
			report.Violations = append(report.Violations, failure.Violation{
				Invariant: 4,
				Rule:      ruleHighResPair,
				Detail:    fmt.Sprintf("primary %d is paired with high-res rows %v", id, hs),
				Values:    map[string]int64{"primary": id, "pairs": int64(len(hs))},
			})
		}
	}
}

func verifyUnit(uow database.UnitOfWork, parentID int64, adjacency bool) (Report, error) {
	assets, err := uow.ListByParent(parentID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read parent %d: %w", parentID, err)
	}
	return Check(parentID, assets, adjacency), nil
}

// Verify checks one parent in its own read-only unit. Violations are reported
// in the Report, not as an error.
func (s *Service) Verify(ctx context.Context, parentID int64) (report Report, err error) {
	start := time.Now()
	defer func() { s.observe(OpVerify, start, err) }()

	err = s.store.InTx(ctx, func(uow database.UnitOfWork) error {
		report, err = verifyUnit(uow, parentID, s.adjacency)
		return err
	})
	if err != nil {
		return Report{}, failure.Map(OpVerify, err)
	}
	return report, nil
}

// VerifyAll checks every parent that owns at least one asset.
func (s *Service) VerifyAll(ctx context.Context) ([]Report, error) {
	parents, err := s.store.ListParents(ctx)
	if err != nil {
		return nil, failure.Map(OpVerify, err)
	}
	reports := make([]Report, 0, len(parents))
	for _, parentID := range parents {
		report, err := s.Verify(ctx, parentID)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
