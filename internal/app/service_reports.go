package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"sentinel/api/internal/scope"
	"sentinel/api/internal/store"
)

// RollupRow aggregates completed entries for one matter path under one
// client. Total and not-invoiced amounts are computed independently,
// entry by entry; one is never scaled from the other.
type RollupRow struct {
	ClientName         string  `json:"client_name"`
	MatterPath         string  `json:"matter_path"`
	TotalSeconds       float64 `json:"total_seconds"`
	NotInvoicedSeconds float64 `json:"not_invoiced_seconds"`
	TotalAmount        float64 `json:"total_amount"`
	NotInvoicedAmount  float64 `json:"not_invoiced_amount"`
	RateSource         string  `json:"rate_source"`
}

// rateCache memoizes cascade runs per (booking user, matter) within one
// report.
type rateCache map[[2]int64]RateResolution

func (s *Service) cachedRate(ctx context.Context, cache rateCache, userID, matterID int64) (RateResolution, error) {
	key := [2]int64{userID, matterID}
	if r, ok := cache[key]; ok {
		return r, nil
	}
	r, err := s.ResolveRate(ctx, userID, matterID)
	if err != nil {
		return RateResolution{}, err
	}
	cache[key] = r
	return r, nil
}

// Rollup aggregates the actor's completed entries per matter path,
// optionally bounded by a start-time range. Running entries never
// count.
func (s *Service) Rollup(ctx context.Context, a scope.Actor, from, to *time.Time) ([]RollupRow, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, a, store.EntryFilter{
		From: from, To: to, CompletedOnly: true,
	})
	if err != nil {
		return nil, err
	}

	rates := make(rateCache)
	chains := make(map[int64][]store.Matter)
	rows := make(map[int64]*RollupRow)
	for _, e := range entries {
		chain, ok := chains[e.MatterID]
		if !ok {
			chain, err = s.store.AncestorChain(ctx, e.MatterID)
			if err != nil {
				return nil, err
			}
			chains[e.MatterID] = chain
		}

		res, err := s.cachedRate(ctx, rates, e.OwnerID, e.MatterID)
		if err != nil {
			return nil, err
		}

		row, ok := rows[e.MatterID]
		if !ok {
			row = &RollupRow{
				ClientName: chain[0].Name,
				MatterPath: joinNames(chain),
				RateSource: res.Source,
			}
			rows[e.MatterID] = row
		}
		row.TotalSeconds += e.DurationSeconds
		row.TotalAmount += res.Amount(e.DurationSeconds)
		if !e.Invoiced {
			row.NotInvoicedSeconds += e.DurationSeconds
			row.NotInvoicedAmount += res.Amount(e.DurationSeconds)
		}
	}

	out := make([]RollupRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientName != out[j].ClientName {
			return out[i].ClientName < out[j].ClientName
		}
		return out[i].MatterPath < out[j].MatterPath
	})
	return out, nil
}

// ExportRecord is one flattened entry as handed to timesheet export.
type ExportRecord struct {
	ID              int64   `json:"id"`
	MatterID        int64   `json:"matter_id"`
	MatterPath      string  `json:"matter_path"`
	Description     string  `json:"description"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Invoiced        bool    `json:"invoiced"`
	Rate            float64 `json:"rate"`
	RateSource      string  `json:"rate_source"`
	Amount          float64 `json:"amount"`
}

// expandMatterSelection resolves the selected matters (optionally with
// their full descendant closure) into the id set entries are filtered
// by. Unknown or out-of-scope ids fail as not found.
func (s *Service) expandMatterSelection(ctx context.Context, a scope.Actor, matterIDs []int64, includeDescendants bool) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range matterIDs {
		if _, err := s.store.GetMatter(ctx, a, id); err != nil {
			return nil, mapStoreErr(err, "matter")
		}
		add(id)
		if includeDescendants {
			desc, err := s.Descendants(ctx, a, id)
			if err != nil {
				return nil, err
			}
			for _, d := range desc {
				add(d.ID)
			}
		}
	}
	return out, nil
}

// ExportRecords flattens the selected matters' completed entries into
// per-entry records with resolved paths, rates and amounts.
func (s *Service) ExportRecords(ctx context.Context, a scope.Actor, matterIDs []int64, includeDescendants bool, from, to *time.Time) ([]ExportRecord, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	ids, err := s.expandMatterSelection(ctx, a, matterIDs, includeDescendants)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []ExportRecord{}, nil
	}
	entries, err := s.store.ListEntries(ctx, a, store.EntryFilter{
		MatterIDs: ids, From: from, To: to, CompletedOnly: true,
	})
	if err != nil {
		return nil, err
	}

	rates := make(rateCache)
	paths := make(map[int64]string)
	records := make([]ExportRecord, 0, len(entries))
	for _, e := range entries {
		path, ok := paths[e.MatterID]
		if !ok {
			chain, err := s.store.AncestorChain(ctx, e.MatterID)
			if err != nil {
				return nil, err
			}
			path = joinNames(chain)
			paths[e.MatterID] = path
		}
		res, err := s.cachedRate(ctx, rates, e.OwnerID, e.MatterID)
		if err != nil {
			return nil, err
		}

		rec := ExportRecord{
			ID:              e.ID,
			MatterID:        e.MatterID,
			MatterPath:      path,
			Description:     e.Description,
			StartTime:       e.StartTime.Format(time.RFC3339),
			DurationSeconds: e.DurationSeconds,
			Invoiced:        e.Invoiced,
			Rate:            res.Rate,
			RateSource:      res.Source,
			Amount:          res.Amount(e.DurationSeconds),
		}
		if e.EndTime != nil {
			rec.EndTime = e.EndTime.Format(time.RFC3339)
		}
		records = append(records, rec)
	}
	return records, nil
}

// PreviewRow is one legible "this task took N hours" line: sibling
// entries sharing matter, description and activity group, summed.
type PreviewRow struct {
	MatterID        int64   `json:"matter_id"`
	MatterPath      string  `json:"matter_path"`
	Description     string  `json:"description"`
	Segments        int     `json:"segments"`
	DurationSeconds float64 `json:"duration_seconds"`
	Amount          float64 `json:"amount"`
}

// PreviewRows groups the selected matters' completed entries by
// (matter, description, activity group). Grouping keys on the first
// segment's id, so a continuation never forms a group of its own.
func (s *Service) PreviewRows(ctx context.Context, a scope.Actor, matterIDs []int64, includeDescendants bool, from, to *time.Time) ([]PreviewRow, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	ids, err := s.expandMatterSelection(ctx, a, matterIDs, includeDescendants)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []PreviewRow{}, nil
	}
	entries, err := s.store.ListEntries(ctx, a, store.EntryFilter{
		MatterIDs: ids, From: from, To: to, CompletedOnly: true,
	})
	if err != nil {
		return nil, err
	}

	type key struct {
		matterID int64
		desc     string
		group    int64
	}
	rates := make(rateCache)
	paths := make(map[int64]string)
	rows := make(map[key]*PreviewRow)
	var order []key
	for _, e := range entries {
		k := key{matterID: e.MatterID, desc: e.Description, group: e.ActivityRoot()}
		row, ok := rows[k]
		if !ok {
			path, ok := paths[e.MatterID]
			if !ok {
				chain, err := s.store.AncestorChain(ctx, e.MatterID)
				if err != nil {
					return nil, err
				}
				path = joinNames(chain)
				paths[e.MatterID] = path
			}
			row = &PreviewRow{MatterID: e.MatterID, MatterPath: path, Description: e.Description}
			rows[k] = row
			order = append(order, k)
		}
		res, err := s.cachedRate(ctx, rates, e.OwnerID, e.MatterID)
		if err != nil {
			return nil, err
		}
		row.Segments++
		row.DurationSeconds += e.DurationSeconds
		row.Amount += res.Amount(e.DurationSeconds)
	}

	out := make([]PreviewRow, 0, len(order))
	for _, k := range order {
		out = append(out, *rows[k])
	}
	return out, nil
}

// FormatHMS renders seconds as HH:MM:SS for report display.
func FormatHMS(seconds float64) string {
	total := int64(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
