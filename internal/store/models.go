package store

import "time"

type User struct {
	ID       int64
	Username string
	// PasswordHash is opaque credential material owned by the auth
	// boundary; empty when unset (OAuth-style accounts).
	PasswordHash      string
	IsAdmin           bool
	DefaultHourlyRate *float64
}

// Matter is a node in the per-owner forest. A matter with no parent is
// a client; time is only ever booked against non-root matters.
type Matter struct {
	ID         int64
	OwnerID    int64
	Code       string
	Name       string
	ParentID   *int64
	HourlyRate *float64
}

func (m Matter) IsClient() bool {
	return m.ParentID == nil
}

// MatterShare grants a non-owning user access to one matter. It never
// propagates to descendants.
type MatterShare struct {
	MatterID int64
	UserID   int64
}

// UserMatterRate overrides the hourly rate for one (user, matter) pair,
// used when a shared matter bills differently for the grantee.
type UserMatterRate struct {
	UserID     int64
	MatterID   int64
	HourlyRate float64
}

type TimeEntry struct {
	ID              int64
	OwnerID         int64
	MatterID        int64
	Description     string
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds float64
	Invoiced        bool
	ActivityGroupID *int64
}

// Running reports whether the entry is still open. At most one entry
// per owner is running at any moment.
func (e TimeEntry) Running() bool {
	return e.EndTime == nil
}

// ActivityRoot returns the id of the first segment of the entry's
// logical activity: the group id for continued segments, the entry's
// own id for first segments. Grouping always keys on this, so a
// continuation can never be mistaken for a group root.
func (e TimeEntry) ActivityRoot() int64 {
	if e.ActivityGroupID != nil {
		return *e.ActivityGroupID
	}
	return e.ID
}

// EntryFilter bounds time-entry listings. The zero value selects every
// entry within the actor's scope.
type EntryFilter struct {
	MatterIDs     []int64
	OwnerID       int64 // 0 = any owner within scope
	From          *time.Time
	To            *time.Time // exclusive, applied to start_time
	CompletedOnly bool
}
