package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"sentinel/api/internal/scope"
)

// PostgresStore is the policy-native enforcement of the scope rules.
// Queries here carry no ownership predicates at all: each operation
// runs in a transaction whose app.user_id / app.is_admin settings feed
// the row-security policies installed by ApplySecurityPolicies, and the
// database decides what each statement may touch. A row hidden by
// policy behaves exactly like a missing row, so callers see the same
// sql.ErrNoRows the filter-first backend produces.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withActor runs fn inside a transaction scoped to the given actor. The
// set_config calls are transaction-local, so nothing leaks into the
// pooled connection afterwards.
func (s *PostgresStore) withActor(ctx context.Context, a scope.Actor, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := setActor(ctx, tx, a); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func setActor(ctx context.Context, tx *sql.Tx, a scope.Actor) error {
	uid, admin := scope.SessionVars(a)
	_, err := tx.ExecContext(ctx,
		`SELECT set_config('app.user_id', $1, true), set_config('app.is_admin', $2, true)`,
		uid, admin)
	if err != nil {
		return fmt.Errorf("set actor: %w", err)
	}
	return nil
}

// mapPolicyErr folds a WITH CHECK rejection into sql.ErrNoRows so an
// insert/update outside the actor's scope fails the same way on both
// backends.
func mapPolicyErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42501" {
		return sql.ErrNoRows
	}
	return err
}

// --- users (system scope; the service layer gates who may call these) ---

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO users (username, password_hash, is_admin, default_hourly_rate_euro)
			VALUES ($1, NULLIF($2, ''), $3, $4)
			RETURNING id
		`, u.Username, u.PasswordHash, u.IsAdmin, u.DefaultHourlyRate).Scan(&u.ID)
	})
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		var err error
		u, err = scanUser(tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
		return err
	})
	return u, err
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		var err error
		u, err = scanUser(tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
		return err
	})
	return u, err
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	var items []User
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY username ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = make([]User, 0)
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			items = append(items, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("delete user: %w", err)
	}
	return err
}

func (s *PostgresStore) SetUserDefaultRate(ctx context.Context, id int64, rate *float64) error {
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET default_hourly_rate_euro = $1 WHERE id = $2`, rate, id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("set user default rate: %w", err)
	}
	return err
}

// --- matters ---

func (s *PostgresStore) InsertMatter(ctx context.Context, a scope.Actor, m Matter) (Matter, error) {
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO matters (owner_id, matter_code, name, parent_id, hourly_rate_euro)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, m.OwnerID, m.Code, m.Name, m.ParentID, m.HourlyRate).Scan(&m.ID)
	})
	if err != nil {
		if mapped := mapPolicyErr(err); mapped == sql.ErrNoRows {
			return Matter{}, sql.ErrNoRows
		}
		return Matter{}, fmt.Errorf("insert matter: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMatter(ctx context.Context, a scope.Actor, id int64) (Matter, error) {
	var m Matter
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		var err error
		m, err = scanMatter(tx.QueryRowContext(ctx, `SELECT `+matterCols+` FROM matters WHERE id = $1`, id))
		return err
	})
	return m, err
}

func (s *PostgresStore) ListMatters(ctx context.Context, a scope.Actor) ([]Matter, error) {
	var items []Matter
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+matterCols+` FROM matters ORDER BY matter_code ASC`)
		if err != nil {
			return err
		}
		items, err = collectMatters(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list matters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMattersOwnedBy(ctx context.Context, ownerID int64) ([]Matter, error) {
	var items []Matter
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+matterCols+` FROM matters WHERE owner_id = $1 ORDER BY matter_code ASC`, ownerID)
		if err != nil {
			return err
		}
		items, err = collectMatters(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list matters by owner: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AncestorChain(ctx context.Context, id int64) ([]Matter, error) {
	var chain []Matter
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		var err error
		chain, err = ancestorChain(ctx, func(ctx context.Context, id int64) (Matter, error) {
			return scanMatter(tx.QueryRowContext(ctx, `SELECT `+matterCols+` FROM matters WHERE id = $1`, id))
		}, id)
		return err
	})
	return chain, err
}

func (s *PostgresStore) MatterCodeExists(ctx context.Context, ownerID int64, code string) (bool, error) {
	var exists bool
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM matters WHERE owner_id = $1 AND matter_code = $2)`,
			ownerID, code).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check matter code: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateMatterParent(ctx context.Context, a scope.Actor, id int64, parentID *int64) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE matters SET parent_id = $1 WHERE id = $2`, parentID, id)
		if err != nil {
			return fmt.Errorf("update matter parent: %w", mapPolicyErr(err))
		}
		return requireAffected(res)
	})
}

func (s *PostgresStore) SetMatterRate(ctx context.Context, a scope.Actor, id int64, rate *float64) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE matters SET hourly_rate_euro = $1 WHERE id = $2`, rate, id)
		if err != nil {
			return fmt.Errorf("set matter rate: %w", err)
		}
		return requireAffected(res)
	})
}

// MergeMatters verifies the actor may mutate both matters, then
// switches the transaction to the system context for the reassignment:
// entries booked on the source by share grantees belong to other users
// and would be invisible to the merging owner's policies.
func (s *PostgresStore) MergeMatters(ctx context.Context, a scope.Actor, sourceID, targetID int64) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		for _, id := range []int64{sourceID, targetID} {
			var got int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM matters WHERE id = $1 AND (app_is_admin() OR owner_id = app_user_id())`,
				id).Scan(&got)
			if err != nil {
				return err
			}
		}

		if err := setActor(ctx, tx, scope.System); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE time_entries SET matter_id = $1 WHERE matter_id = $2`, targetID, sourceID); err != nil {
			return fmt.Errorf("merge reassign entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE matters SET parent_id = $1 WHERE parent_id = $2`, targetID, sourceID); err != nil {
			return fmt.Errorf("merge reparent children: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM matter_shares WHERE matter_id = $1`, sourceID); err != nil {
			return fmt.Errorf("merge drop shares: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_matter_rates WHERE matter_id = $1`, sourceID); err != nil {
			return fmt.Errorf("merge drop rates: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM matters WHERE id = $1`, sourceID); err != nil {
			return fmt.Errorf("merge delete source: %w", err)
		}
		return nil
	})
}

// --- shares ---

func (s *PostgresStore) InsertShare(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO matter_shares (matter_id, user_id) VALUES ($1, $2)
			ON CONFLICT (matter_id, user_id) DO NOTHING
		`, matterID, userID)
		return err
	})
	if err != nil {
		if mapped := mapPolicyErr(err); mapped == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteShare(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		// Parity with the filter-first backend: removing a share on a
		// matter the actor does not own is a not-found, not a no-op.
		var got int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM matters WHERE id = $1 AND (app_is_admin() OR owner_id = app_user_id())`,
			matterID).Scan(&got)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM matter_shares WHERE matter_id = $1 AND user_id = $2`, matterID, userID); err != nil {
			return fmt.Errorf("delete share: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListShares(ctx context.Context, a scope.Actor, matterID int64) ([]MatterShare, error) {
	var items []MatterShare
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT matter_id, user_id FROM matter_shares WHERE matter_id = $1 ORDER BY user_id ASC`, matterID)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = make([]MatterShare, 0)
		for rows.Next() {
			var sh MatterShare
			if err := rows.Scan(&sh.MatterID, &sh.UserID); err != nil {
				return err
			}
			items = append(items, sh)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return items, nil
}

// --- per-user matter rates ---

func (s *PostgresStore) GetUserMatterRate(ctx context.Context, userID, matterID int64) (*float64, error) {
	var out *float64
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		var rate float64
		err := tx.QueryRowContext(ctx,
			`SELECT hourly_rate_euro FROM user_matter_rates WHERE user_id = $1 AND matter_id = $2`,
			userID, matterID).Scan(&rate)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		out = &rate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get user matter rate: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetUserMatterRate(ctx context.Context, a scope.Actor, userID, matterID int64, rate float64) error {
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_matter_rates (user_id, matter_id, hourly_rate_euro) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, matter_id) DO UPDATE SET hourly_rate_euro = excluded.hourly_rate_euro
		`, userID, matterID, rate)
		return err
	})
	if err != nil {
		if mapped := mapPolicyErr(err); mapped == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("set user matter rate: %w", err)
	}
	return nil
}

// --- time entries ---

func (s *PostgresStore) InsertEntry(ctx context.Context, a scope.Actor, e TimeEntry) (TimeEntry, error) {
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO time_entries (owner_id, matter_id, description, start_time, end_time, duration_seconds, invoiced, activity_group_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, e.OwnerID, e.MatterID, e.Description, e.StartTime, e.EndTime, e.DurationSeconds, e.Invoiced, e.ActivityGroupID).Scan(&e.ID)
	})
	if err != nil {
		if mapped := mapPolicyErr(err); mapped == sql.ErrNoRows {
			return TimeEntry{}, sql.ErrNoRows
		}
		return TimeEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, a scope.Actor, id int64) (TimeEntry, error) {
	var e TimeEntry
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		var err error
		e, err = scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryCols+` FROM time_entries WHERE id = $1`, id))
		return err
	})
	return e, err
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, a scope.Actor, e TimeEntry) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE time_entries SET description = $1, start_time = $2, end_time = $3, duration_seconds = $4
			WHERE id = $5
		`, e.Description, e.StartTime, e.EndTime, e.DurationSeconds, e.ID)
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		return requireAffected(res)
	})
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, a scope.Actor, id int64) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM time_entries WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		return requireAffected(res)
	})
}

func (s *PostgresStore) RunningEntry(ctx context.Context, a scope.Actor) (*TimeEntry, error) {
	var out *TimeEntry
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		e, err := scanEntry(tx.QueryRowContext(ctx, `
			SELECT `+entryCols+` FROM time_entries
			WHERE owner_id = $1 AND end_time IS NULL
			ORDER BY start_time DESC LIMIT 1
		`, a.UserID))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		out = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("running entry: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, a scope.Actor, f EntryFilter) ([]TimeEntry, error) {
	where := []string{"1=1"}
	args := []any{}
	next := func() string { return fmt.Sprintf("$%d", len(args)) }

	if f.OwnerID != 0 {
		args = append(args, f.OwnerID)
		where = append(where, "owner_id = "+next())
	}
	if len(f.MatterIDs) > 0 {
		ph := make([]string, 0, len(f.MatterIDs))
		for _, id := range f.MatterIDs {
			args = append(args, id)
			ph = append(ph, next())
		}
		where = append(where, "matter_id IN ("+strings.Join(ph, ", ")+")")
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, "start_time >= "+next())
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, "start_time < "+next())
	}
	if f.CompletedOnly {
		where = append(where, "end_time IS NOT NULL")
	}

	var items []TimeEntry
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+entryCols+` FROM time_entries WHERE `+strings.Join(where, " AND ")+` ORDER BY start_time ASC, id ASC`,
			args...)
		if err != nil {
			return err
		}
		items, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetEntryInvoiced(ctx context.Context, a scope.Actor, id int64, invoiced bool) error {
	return s.withActor(ctx, a, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE time_entries SET invoiced = $1 WHERE id = $2`, invoiced, id)
		if err != nil {
			return fmt.Errorf("set entry invoiced: %w", err)
		}
		return requireAffected(res)
	})
}

// --- search fallback ---

func (s *PostgresStore) SearchMatters(ctx context.Context, a scope.Actor, query string, limit int) ([]Matter, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	var items []Matter
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+matterCols+` FROM matters
			WHERE name ILIKE $1 OR matter_code ILIKE $1
			ORDER BY matter_code ASC LIMIT $2
		`, pattern, limit)
		if err != nil {
			return err
		}
		items, err = collectMatters(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search matters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SearchEntries(ctx context.Context, a scope.Actor, query string, limit int) ([]TimeEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	var items []TimeEntry
	err := s.withActor(ctx, a, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+entryCols+` FROM time_entries
			WHERE description ILIKE $1
			ORDER BY start_time DESC LIMIT $2
		`, pattern, limit)
		if err != nil {
			return err
		}
		items, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	return items, nil
}

// --- backup (system scope; the service layer gates who may call these) ---

func (s *PostgresStore) ListAllMatters(ctx context.Context) ([]Matter, error) {
	var items []Matter
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+matterCols+` FROM matters ORDER BY id ASC`)
		if err != nil {
			return err
		}
		items, err = collectMatters(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list all matters: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAllShares(ctx context.Context) ([]MatterShare, error) {
	var items []MatterShare
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT matter_id, user_id FROM matter_shares ORDER BY matter_id ASC, user_id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = make([]MatterShare, 0)
		for rows.Next() {
			var sh MatterShare
			if err := rows.Scan(&sh.MatterID, &sh.UserID); err != nil {
				return err
			}
			items = append(items, sh)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list all shares: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAllRates(ctx context.Context) ([]UserMatterRate, error) {
	var items []UserMatterRate
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT user_id, matter_id, hourly_rate_euro FROM user_matter_rates ORDER BY user_id ASC, matter_id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = make([]UserMatterRate, 0)
		for rows.Next() {
			var r UserMatterRate
			if err := rows.Scan(&r.UserID, &r.MatterID, &r.HourlyRate); err != nil {
				return err
			}
			items = append(items, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list all rates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAllEntries(ctx context.Context) ([]TimeEntry, error) {
	var items []TimeEntry
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+entryCols+` FROM time_entries ORDER BY id ASC`)
		if err != nil {
			return err
		}
		items, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list all entries: %w", err)
	}
	return items, nil
}

// ReplaceAll wipes every table and reinserts the snapshot's rows with
// their original identifiers, then moves each serial sequence past the
// highest imported id so subsequent inserts do not collide.
func (s *PostgresStore) ReplaceAll(ctx context.Context, users []User, matters []Matter, shares []MatterShare, rates []UserMatterRate, entries []TimeEntry) error {
	err := s.withActor(ctx, scope.System, func(tx *sql.Tx) error {
		for _, table := range []string{"time_entries", "user_matter_rates", "matter_shares", "matters", "users"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("import wipe %s: %w", table, err)
			}
		}

		for _, u := range users {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, username, password_hash, is_admin, default_hourly_rate_euro)
				VALUES ($1, $2, NULLIF($3, ''), $4, $5)
			`, u.ID, u.Username, u.PasswordHash, u.IsAdmin, u.DefaultHourlyRate); err != nil {
				return fmt.Errorf("import user %d: %w", u.ID, err)
			}
		}
		for _, m := range matters {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO matters (id, owner_id, matter_code, name, parent_id, hourly_rate_euro)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, m.ID, m.OwnerID, m.Code, m.Name, m.ParentID, m.HourlyRate); err != nil {
				return fmt.Errorf("import matter %d: %w", m.ID, err)
			}
		}
		for _, sh := range shares {
			if _, err := tx.ExecContext(ctx, `INSERT INTO matter_shares (matter_id, user_id) VALUES ($1, $2)`, sh.MatterID, sh.UserID); err != nil {
				return fmt.Errorf("import share: %w", err)
			}
		}
		for _, r := range rates {
			if _, err := tx.ExecContext(ctx, `INSERT INTO user_matter_rates (user_id, matter_id, hourly_rate_euro) VALUES ($1, $2, $3)`, r.UserID, r.MatterID, r.HourlyRate); err != nil {
				return fmt.Errorf("import rate: %w", err)
			}
		}
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO time_entries (id, owner_id, matter_id, description, start_time, end_time, duration_seconds, invoiced, activity_group_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, e.ID, e.OwnerID, e.MatterID, e.Description, e.StartTime, e.EndTime, e.DurationSeconds, e.Invoiced, e.ActivityGroupID); err != nil {
				return fmt.Errorf("import entry %d: %w", e.ID, err)
			}
		}

		for _, table := range []string{"users", "matters", "time_entries"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)`,
				table, table)); err != nil {
				return fmt.Errorf("import resync %s sequence: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace all: %w", err)
	}
	return nil
}
