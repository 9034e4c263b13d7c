// Package backup implements versioned full snapshots of the data store
// and their destructive restore.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sentinel/api/internal/store"
)

// Version is the snapshot format written by Export. Version 1 carried
// users, matters and time entries; version 2 added shares and per-user
// matter rates. Import accepts both.
const Version = 2

type Snapshot struct {
	Version         int                    `json:"version"`
	ExportedAt      time.Time              `json:"exported_at"`
	Users           []UserRecord           `json:"users"`
	Matters         []MatterRecord         `json:"matters"`
	MatterShares    []MatterShareRecord    `json:"matter_shares,omitempty"`
	UserMatterRates []UserMatterRateRecord `json:"user_matter_rates,omitempty"`
	TimeEntries     []TimeEntryRecord      `json:"time_entries"`
}

type UserRecord struct {
	ID                int64    `json:"id"`
	Username          string   `json:"username"`
	PasswordHash      string   `json:"password_hash,omitempty"`
	IsAdmin           bool     `json:"is_admin"`
	DefaultHourlyRate *float64 `json:"default_hourly_rate_euro,omitempty"`
}

type MatterRecord struct {
	ID         int64    `json:"id"`
	OwnerID    int64    `json:"owner_id"`
	Code       string   `json:"matter_code"`
	Name       string   `json:"name"`
	ParentID   *int64   `json:"parent_id,omitempty"`
	HourlyRate *float64 `json:"hourly_rate_euro,omitempty"`
}

type MatterShareRecord struct {
	MatterID int64 `json:"matter_id"`
	UserID   int64 `json:"user_id"`
}

type UserMatterRateRecord struct {
	UserID     int64   `json:"user_id"`
	MatterID   int64   `json:"matter_id"`
	HourlyRate float64 `json:"hourly_rate_euro"`
}

type TimeEntryRecord struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	MatterID        int64      `json:"matter_id"`
	Description     string     `json:"description"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Invoiced        bool       `json:"invoiced"`
	ActivityGroupID *int64     `json:"activity_group_id,omitempty"`
}

type DataStore interface {
	ListUsers(ctx context.Context) ([]store.User, error)
	ListAllMatters(ctx context.Context) ([]store.Matter, error)
	ListAllShares(ctx context.Context) ([]store.MatterShare, error)
	ListAllRates(ctx context.Context) ([]store.UserMatterRate, error)
	ListAllEntries(ctx context.Context) ([]store.TimeEntry, error)
	ReplaceAll(ctx context.Context, users []store.User, matters []store.Matter, shares []store.MatterShare, rates []store.UserMatterRate, entries []store.TimeEntry) error
}

type Service struct {
	store    DataStore
	uploader *Uploader
	now      func() time.Time
}

func NewService(st DataStore, uploader *Uploader) *Service {
	return &Service{store: st, uploader: uploader, now: time.Now}
}

// Export captures the whole store as one snapshot.
func (s *Service) Export(ctx context.Context) (Snapshot, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export users: %w", err)
	}
	matters, err := s.store.ListAllMatters(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export matters: %w", err)
	}
	shares, err := s.store.ListAllShares(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export shares: %w", err)
	}
	rates, err := s.store.ListAllRates(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export rates: %w", err)
	}
	entries, err := s.store.ListAllEntries(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("export entries: %w", err)
	}

	snap := Snapshot{Version: Version, ExportedAt: s.now().UTC()}
	for _, u := range users {
		snap.Users = append(snap.Users, UserRecord{
			ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash,
			IsAdmin: u.IsAdmin, DefaultHourlyRate: u.DefaultHourlyRate,
		})
	}
	for _, m := range matters {
		snap.Matters = append(snap.Matters, MatterRecord{
			ID: m.ID, OwnerID: m.OwnerID, Code: m.Code, Name: m.Name,
			ParentID: m.ParentID, HourlyRate: m.HourlyRate,
		})
	}
	for _, sh := range shares {
		snap.MatterShares = append(snap.MatterShares, MatterShareRecord(sh))
	}
	for _, r := range rates {
		snap.UserMatterRates = append(snap.UserMatterRates, UserMatterRateRecord(r))
	}
	for _, e := range entries {
		snap.TimeEntries = append(snap.TimeEntries, TimeEntryRecord{
			ID: e.ID, OwnerID: e.OwnerID, MatterID: e.MatterID,
			Description: e.Description, StartTime: e.StartTime, EndTime: e.EndTime,
			DurationSeconds: e.DurationSeconds, Invoiced: e.Invoiced,
			ActivityGroupID: e.ActivityGroupID,
		})
	}
	return snap, nil
}

// ExportAndUpload writes the snapshot to object storage when an
// uploader is configured, returning the stored object name.
func (s *Service) ExportAndUpload(ctx context.Context) (Snapshot, string, error) {
	snap, err := s.Export(ctx)
	if err != nil {
		return Snapshot{}, "", err
	}
	if s.uploader == nil {
		return snap, "", nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Snapshot{}, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	name := fmt.Sprintf("sentinel-backup-%s.json", snap.ExportedAt.Format("20060102-150405"))
	if err := s.uploader.Upload(ctx, name, data); err != nil {
		return Snapshot{}, "", err
	}
	return snap, name, nil
}

// Import destructively replaces the entire store with the snapshot's
// contents: everything is deleted, rows are inserted in dependency
// order with their original identifiers, and the store resynchronizes
// its id sequences.
func (s *Service) Import(ctx context.Context, snap Snapshot) error {
	if snap.Version < 1 || snap.Version > Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	users := make([]store.User, 0, len(snap.Users))
	for _, u := range snap.Users {
		users = append(users, store.User{
			ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash,
			IsAdmin: u.IsAdmin, DefaultHourlyRate: u.DefaultHourlyRate,
		})
	}
	matters := make([]store.Matter, 0, len(snap.Matters))
	for _, m := range snap.Matters {
		matters = append(matters, store.Matter{
			ID: m.ID, OwnerID: m.OwnerID, Code: m.Code, Name: m.Name,
			ParentID: m.ParentID, HourlyRate: m.HourlyRate,
		})
	}
	shares := make([]store.MatterShare, 0, len(snap.MatterShares))
	for _, sh := range snap.MatterShares {
		shares = append(shares, store.MatterShare(sh))
	}
	rates := make([]store.UserMatterRate, 0, len(snap.UserMatterRates))
	for _, r := range snap.UserMatterRates {
		rates = append(rates, store.UserMatterRate(r))
	}
	entries := make([]store.TimeEntry, 0, len(snap.TimeEntries))
	for _, e := range snap.TimeEntries {
		entries = append(entries, store.TimeEntry{
			ID: e.ID, OwnerID: e.OwnerID, MatterID: e.MatterID,
			Description: e.Description, StartTime: e.StartTime, EndTime: e.EndTime,
			DurationSeconds: e.DurationSeconds, Invoiced: e.Invoiced,
			ActivityGroupID: e.ActivityGroupID,
		})
	}

	matters, err := sortParentsFirst(matters)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceAll(ctx, users, matters, shares, rates, entries); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	return nil
}

// sortParentsFirst orders matters so every parent precedes its
// children; a move can leave a child with a lower id than its parent,
// and insertion order must follow the tree, not the ids.
func sortParentsFirst(matters []store.Matter) ([]store.Matter, error) {
	placed := make(map[int64]bool, len(matters))
	out := make([]store.Matter, 0, len(matters))
	pending := matters
	for len(pending) > 0 {
		var next []store.Matter
		for _, m := range pending {
			if m.ParentID == nil || placed[*m.ParentID] {
				placed[m.ID] = true
				out = append(out, m)
			} else {
				next = append(next, m)
			}
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("snapshot matters contain a parent cycle or dangling parent")
		}
		pending = next
	}
	return out, nil
}
