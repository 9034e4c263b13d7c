package store

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	userCols   = "id, username, COALESCE(password_hash, ''), is_admin, default_hourly_rate_euro"
	matterCols = "id, owner_id, matter_code, name, parent_id, hourly_rate_euro"
	entryCols  = "id, owner_id, matter_id, description, start_time, end_time, duration_seconds, invoiced, activity_group_id"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var u User
	var rate sql.NullFloat64
	if err := r.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &rate); err != nil {
		return User{}, err
	}
	if rate.Valid {
		v := rate.Float64
		u.DefaultHourlyRate = &v
	}
	return u, nil
}

func scanMatter(r rowScanner) (Matter, error) {
	var m Matter
	var parent sql.NullInt64
	var rate sql.NullFloat64
	if err := r.Scan(&m.ID, &m.OwnerID, &m.Code, &m.Name, &parent, &rate); err != nil {
		return Matter{}, err
	}
	if parent.Valid {
		v := parent.Int64
		m.ParentID = &v
	}
	if rate.Valid {
		v := rate.Float64
		m.HourlyRate = &v
	}
	return m, nil
}

func scanEntry(r rowScanner) (TimeEntry, error) {
	var e TimeEntry
	var end sql.NullTime
	var group sql.NullInt64
	if err := r.Scan(&e.ID, &e.OwnerID, &e.MatterID, &e.Description, &e.StartTime, &end, &e.DurationSeconds, &e.Invoiced, &group); err != nil {
		return TimeEntry{}, err
	}
	if end.Valid {
		v := end.Time
		e.EndTime = &v
	}
	if group.Valid {
		v := group.Int64
		e.ActivityGroupID = &v
	}
	return e, nil
}

// ancestorChain walks parent links from the given matter up to its
// root, returning [root .. matter]. The walk is an explicit loop with a
// visited-set guard: the move/merge validators keep the forest
// cycle-free, but a violated invariant must surface as an error, never
// as an unbounded loop.
func ancestorChain(ctx context.Context, fetch func(context.Context, int64) (Matter, error), id int64) ([]Matter, error) {
	var chain []Matter
	visited := make(map[int64]bool)
	cur := id
	for {
		if visited[cur] {
			return nil, fmt.Errorf("matter %d: cycle detected in parent chain", id)
		}
		visited[cur] = true

		m, err := fetch(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append([]Matter{m}, chain...)
		if m.ParentID == nil {
			return chain, nil
		}
		cur = *m.ParentID
	}
}
