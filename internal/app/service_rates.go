package app

import (
	"context"

	"sentinel/api/internal/scope"
)

// Rate provenance tags, most specific tier first.
const (
	RateSourceUserMatter  = "user_matter"
	RateSourceMatter      = "matter"
	RateSourceUpperMatter = "upper_matter"
	RateSourceUser        = "user"
)

// RateResolution is an hourly rate plus the cascade tier that supplied
// it. The tag is presentation metadata only; nothing branches on it.
type RateResolution struct {
	Rate   float64 `json:"rate"`
	Source string  `json:"rate_source"`
}

// Amount prices a duration at the resolved rate.
func (r RateResolution) Amount(durationSeconds float64) float64 {
	return durationSeconds / 3600 * r.Rate
}

// ResolveRate runs the cascade for one (booking user, matter) pair:
// per-user-matter override, then the matter's own rate, then the
// nearest ancestor with a rate, then the user's default. A fully unset
// cascade resolves to zero with source "user"; absence is a
// zero-amount outcome, not an error.
func (s *Service) ResolveRate(ctx context.Context, userID, matterID int64) (RateResolution, error) {
	if override, err := s.store.GetUserMatterRate(ctx, userID, matterID); err != nil {
		return RateResolution{}, err
	} else if override != nil {
		return RateResolution{Rate: *override, Source: RateSourceUserMatter}, nil
	}

	chain, err := s.store.AncestorChain(ctx, matterID)
	if err != nil {
		return RateResolution{}, mapStoreErr(err, "matter")
	}
	self := chain[len(chain)-1]
	if self.HourlyRate != nil {
		return RateResolution{Rate: *self.HourlyRate, Source: RateSourceMatter}, nil
	}
	for i := len(chain) - 2; i >= 0; i-- {
		if chain[i].HourlyRate != nil {
			return RateResolution{Rate: *chain[i].HourlyRate, Source: RateSourceUpperMatter}, nil
		}
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return RateResolution{}, mapStoreErr(err, "user")
	}
	if u.DefaultHourlyRate != nil {
		return RateResolution{Rate: *u.DefaultHourlyRate, Source: RateSourceUser}, nil
	}
	return RateResolution{Rate: 0, Source: RateSourceUser}, nil
}

// SetMatterRate sets or clears a matter's own rate override.
func (s *Service) SetMatterRate(ctx context.Context, a scope.Actor, matterID int64, rate *float64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if rate != nil && *rate < 0 {
		return errValidation("rate must not be negative")
	}
	if err := s.store.SetMatterRate(ctx, a, matterID, rate); err != nil {
		return mapStoreErr(err, "matter")
	}
	return nil
}

// SetUserMatterRate sets the per-(user, matter) override, typically by
// the matter's owner for a share grantee billing differently.
func (s *Service) SetUserMatterRate(ctx context.Context, a scope.Actor, userID, matterID int64, rate float64) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if rate < 0 {
		return errValidation("rate must not be negative")
	}
	if _, err := s.store.GetMatter(ctx, a, matterID); err != nil {
		return mapStoreErr(err, "matter")
	}
	if err := s.store.SetUserMatterRate(ctx, a, userID, matterID, rate); err != nil {
		return mapStoreErr(err, "matter")
	}
	return nil
}
