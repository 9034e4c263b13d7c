package app

import (
	"context"
	"math"
	"time"

	"sentinel/api/internal/scope"
	"sentinel/api/internal/store"
)

// trioTolerance bounds the drift allowed when start, end and duration
// are all supplied: the pair must agree to the microsecond or the call
// is rejected, never corrected.
const trioTolerance = 1e-6

// StartTimer opens a running entry on a non-root matter. Any entry the
// caller still has running is stopped first, keeping at most one open
// entry per owner.
func (s *Service) StartTimer(ctx context.Context, a scope.Actor, matterID int64, description string) (store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return store.TimeEntry{}, err
	}
	m, err := s.store.GetMatter(ctx, a, matterID)
	if err != nil {
		return store.TimeEntry{}, mapStoreErr(err, "matter")
	}
	if m.IsClient() {
		return store.TimeEntry{}, errValidation("time cannot be booked on a client")
	}

	if _, err := s.StopTimer(ctx, a); err != nil {
		return store.TimeEntry{}, err
	}

	e, err := s.store.InsertEntry(ctx, a, store.TimeEntry{
		OwnerID:     a.UserID,
		MatterID:    matterID,
		Description: description,
		StartTime:   s.now().UTC(),
	})
	if err != nil {
		return store.TimeEntry{}, mapStoreErr(err, "matter")
	}
	TimersRunning.Inc()
	s.indexEntry(ctx, e)
	return e, nil
}

// StopTimer closes the caller's running entry, if any, and returns it.
// A nil entry with a nil error means nothing was running. An entry
// stopped in the same instant it was started is discarded rather than
// kept at zero duration.
func (s *Service) StopTimer(ctx context.Context, a scope.Actor) (*store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	running, err := s.store.RunningEntry(ctx, a)
	if err != nil {
		return nil, err
	}
	if running == nil {
		return nil, nil
	}

	end := s.now().UTC()
	running.EndTime = &end
	running.DurationSeconds = end.Sub(running.StartTime).Seconds()
	if running.DurationSeconds <= 0 {
		if err := s.store.DeleteEntry(ctx, a, running.ID); err != nil {
			return nil, mapStoreErr(err, "time entry")
		}
		TimersRunning.Dec()
		s.removeEntryIndex(ctx, running.ID)
		return nil, nil
	}
	if err := s.store.UpdateEntry(ctx, a, *running); err != nil {
		return nil, mapStoreErr(err, "time entry")
	}
	TimersRunning.Dec()
	return running, nil
}

// ContinueEntry starts a new running entry copying matter and
// description from a prior one, linked to the first segment of the
// chain so every continuation shares one activity group id.
func (s *Service) ContinueEntry(ctx context.Context, a scope.Actor, priorID int64) (store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return store.TimeEntry{}, err
	}
	prior, err := s.store.GetEntry(ctx, a, priorID)
	if err != nil {
		return store.TimeEntry{}, mapStoreErr(err, "time entry")
	}

	if _, err := s.StopTimer(ctx, a); err != nil {
		return store.TimeEntry{}, err
	}

	group := prior.ActivityRoot()
	e, err := s.store.InsertEntry(ctx, a, store.TimeEntry{
		OwnerID:         a.UserID,
		MatterID:        prior.MatterID,
		Description:     prior.Description,
		StartTime:       s.now().UTC(),
		ActivityGroupID: &group,
	})
	if err != nil {
		return store.TimeEntry{}, mapStoreErr(err, "time entry")
	}
	TimersRunning.Inc()
	s.indexEntry(ctx, e)
	return e, nil
}

// RunningEntry returns the caller's open entry, nil when none.
func (s *Service) RunningEntry(ctx context.Context, a scope.Actor) (*store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	return s.store.RunningEntry(ctx, a)
}

type EntryTimeInput struct {
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationSeconds *float64   `json:"duration_seconds" validate:"omitempty,gt=0"`
}

type CreateEntryInput struct {
	MatterID    int64  `json:"matter_id" validate:"required"`
	Description string `json:"description" validate:"max=2000"`
	Invoiced    bool   `json:"invoiced"`
	EntryTimeInput
}

// deriveTrio applies the two-of-three rule: exactly two of {start, end,
// duration} yield the third; all three must be mutually consistent;
// fewer than two is ambiguous. Negative or zero results are rejected
// here, before any write.
func deriveTrio(in EntryTimeInput) (time.Time, time.Time, float64, error) {
	start, end, dur := in.StartTime, in.EndTime, in.DurationSeconds
	switch {
	case start != nil && end != nil && dur != nil:
		if end.Before(*start) {
			return time.Time{}, time.Time{}, 0, errValidation("end time precedes start time")
		}
		if math.Abs(end.Sub(*start).Seconds()-*dur) > trioTolerance {
			return time.Time{}, time.Time{}, 0, errValidation("start, end and duration are inconsistent")
		}
		return *start, *end, *dur, nil
	case start != nil && end != nil:
		d := end.Sub(*start).Seconds()
		if d <= 0 {
			return time.Time{}, time.Time{}, 0, errValidation("end time must be after start time")
		}
		return *start, *end, d, nil
	case start != nil && dur != nil:
		if *dur <= 0 {
			return time.Time{}, time.Time{}, 0, errValidation("duration must be positive")
		}
		return *start, start.Add(secondsDuration(*dur)), *dur, nil
	case end != nil && dur != nil:
		if *dur <= 0 {
			return time.Time{}, time.Time{}, 0, errValidation("duration must be positive")
		}
		return end.Add(-secondsDuration(*dur)), *end, *dur, nil
	default:
		return time.Time{}, time.Time{}, 0, errValidation("supply two of start time, end time and duration")
	}
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CreateEntry books time manually on a non-root matter.
func (s *Service) CreateEntry(ctx context.Context, a scope.Actor, in CreateEntryInput) (store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return store.TimeEntry{}, err
	}
	m, err := s.store.GetMatter(ctx, a, in.MatterID)
	if err != nil {
		return store.TimeEntry{}, mapStoreErr(err, "matter")
	}
	if m.IsClient() {
		return store.TimeEntry{}, errValidation("time cannot be booked on a client")
	}

	start, end, dur, err := deriveTrio(in.EntryTimeInput)
	if err != nil {
		return store.TimeEntry{}, err
	}

	e, err := s.store.InsertEntry(ctx, a, store.TimeEntry{
		OwnerID:         a.UserID,
		MatterID:        in.MatterID,
		Description:     in.Description,
		StartTime:       start.UTC(),
		EndTime:         ptrTime(end.UTC()),
		DurationSeconds: dur,
		Invoiced:        in.Invoiced,
	})
	if err != nil {
		return store.TimeEntry{}, mapStoreErr(err, "matter")
	}
	s.indexEntry(ctx, e)
	return e, nil
}

type UpdateEntryInput struct {
	Description *string `json:"description" validate:"omitempty,max=2000"`
	EntryTimeInput
}

// UpdateEntry edits a completed entry. Supplied time fields are merged
// with the stored ones and re-derived; an edit that drives the duration
// to zero or below deletes the entry instead, returning nil.
func (s *Service) UpdateEntry(ctx context.Context, a scope.Actor, id int64, in UpdateEntryInput) (*store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	e, err := s.store.GetEntry(ctx, a, id)
	if err != nil {
		return nil, mapStoreErr(err, "time entry")
	}
	if e.Running() {
		return nil, errValidation("cannot edit a running entry; stop it first")
	}

	if in.Description != nil {
		e.Description = *in.Description
	}

	if in.StartTime != nil || in.EndTime != nil || in.DurationSeconds != nil {
		start := e.StartTime
		if in.StartTime != nil {
			start = *in.StartTime
		}
		end := *e.EndTime
		if in.EndTime != nil {
			end = *in.EndTime
		}

		var dur float64
		switch {
		case in.DurationSeconds != nil:
			if *in.DurationSeconds < 0 {
				return nil, errValidation("duration must not be negative")
			}
			dur = *in.DurationSeconds
			switch {
			case in.StartTime != nil && in.EndTime != nil:
				// All three supplied must agree; no silent correction.
				if end.Before(start) || math.Abs(end.Sub(start).Seconds()-dur) > trioTolerance {
					return nil, errValidation("start, end and duration are inconsistent")
				}
			case in.EndTime != nil:
				start = end.Add(-secondsDuration(dur))
			default:
				end = start.Add(secondsDuration(dur))
			}
		default:
			dur = end.Sub(start).Seconds()
		}

		e.StartTime = start.UTC()
		e.EndTime = ptrTime(end.UTC())
		e.DurationSeconds = dur
	}

	// An edit that collapses the duration deletes the entry rather than
	// persisting a non-positive one.
	if e.DurationSeconds <= 0 {
		if err := s.store.DeleteEntry(ctx, a, e.ID); err != nil {
			return nil, mapStoreErr(err, "time entry")
		}
		s.removeEntryIndex(ctx, e.ID)
		return nil, nil
	}
	if err := s.store.UpdateEntry(ctx, a, e); err != nil {
		return nil, mapStoreErr(err, "time entry")
	}
	s.indexEntry(ctx, e)
	return &e, nil
}

// DeleteEntry removes one of the caller's entries.
func (s *Service) DeleteEntry(ctx context.Context, a scope.Actor, id int64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, a, id); err != nil {
		return mapStoreErr(err, "time entry")
	}
	s.removeEntryIndex(ctx, id)
	return nil
}

// SetInvoiced flags or unflags an entry as billed.
func (s *Service) SetInvoiced(ctx context.Context, a scope.Actor, id int64, invoiced bool) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if err := s.store.SetEntryInvoiced(ctx, a, id, invoiced); err != nil {
		return mapStoreErr(err, "time entry")
	}
	return nil
}

// ListEntries returns the caller's entries within the filter; shares do
// not widen entry visibility.
func (s *Service) ListEntries(ctx context.Context, a scope.Actor, f store.EntryFilter) ([]store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, a, f)
}

func ptrTime(t time.Time) *time.Time { return &t }
