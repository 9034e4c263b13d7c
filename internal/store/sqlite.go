package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sentinel/api/internal/scope"
)

// sqliteSchema mirrors db/migrations for the embedded back-end. SQLite
// has no policy engine, so only the tables are declared here; scoping
// happens in every query below.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		default_hourly_rate_euro REAL
	)`,
	`CREATE TABLE IF NOT EXISTS matters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES users(id),
		matter_code TEXT NOT NULL,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES matters(id),
		hourly_rate_euro REAL,
		UNIQUE(owner_id, matter_code)
	)`,
	`CREATE TABLE IF NOT EXISTS matter_shares (
		matter_id INTEGER NOT NULL REFERENCES matters(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (matter_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_matter_rates (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		matter_id INTEGER NOT NULL REFERENCES matters(id) ON DELETE CASCADE,
		hourly_rate_euro REAL NOT NULL,
		PRIMARY KEY (user_id, matter_id)
	)`,
	`CREATE TABLE IF NOT EXISTS time_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES users(id),
		matter_id INTEGER NOT NULL REFERENCES matters(id),
		description TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		duration_seconds REAL NOT NULL DEFAULT 0,
		invoiced BOOLEAN NOT NULL DEFAULT 0,
		activity_group_id INTEGER REFERENCES time_entries(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matters_parent ON matters(parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_matters_owner ON matters(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_matter ON time_entries(matter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_start ON time_entries(start_time)`,
}

// SQLiteStore is the filter-first enforcement of the scope rules: every
// read and write carries the scope package's WHERE fragments, so no
// query can reach a row outside the acting user's visibility. Rows
// filtered out surface as sql.ErrNoRows, indistinguishable from genuine
// absence.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users (system scope; the service layer gates who may call these) ---

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u User) (User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, default_hourly_rate_euro)
		VALUES (?, NULLIF(?, ''), ?, ?)
	`, u.Username, u.PasswordHash, u.IsAdmin, u.DefaultHourlyRate)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("insert user id: %w", err)
	}
	u.ID = id
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetUserDefaultRate(ctx context.Context, id int64, rate *float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET default_hourly_rate_euro = ? WHERE id = ?`, rate, id)
	if err != nil {
		return fmt.Errorf("set user default rate: %w", err)
	}
	return requireAffected(res)
}

// --- matters ---

func (s *SQLiteStore) InsertMatter(ctx context.Context, a scope.Actor, m Matter) (Matter, error) {
	if !scope.WritableRow(m.OwnerID, a) {
		return Matter{}, sql.ErrNoRows
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO matters (owner_id, matter_code, name, parent_id, hourly_rate_euro)
		VALUES (?, ?, ?, ?, ?)
	`, m.OwnerID, m.Code, m.Name, m.ParentID, m.HourlyRate)
	if err != nil {
		return Matter{}, fmt.Errorf("insert matter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Matter{}, fmt.Errorf("insert matter id: %w", err)
	}
	m.ID = id
	return m, nil
}

func (s *SQLiteStore) GetMatter(ctx context.Context, a scope.Actor, id int64) (Matter, error) {
	clause, args := scope.MatterFilter("matters", a)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matterCols+` FROM matters WHERE id = ? AND `+clause,
		append([]any{id}, args...)...)
	return scanMatter(row)
}

func (s *SQLiteStore) ListMatters(ctx context.Context, a scope.Actor) ([]Matter, error) {
	clause, args := scope.MatterFilter("matters", a)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matterCols+` FROM matters WHERE `+clause+` ORDER BY matter_code ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list matters: %w", err)
	}
	return collectMatters(rows)
}

func (s *SQLiteStore) ListMattersOwnedBy(ctx context.Context, ownerID int64) ([]Matter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matterCols+` FROM matters WHERE owner_id = ? ORDER BY matter_code ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list matters by owner: %w", err)
	}
	return collectMatters(rows)
}

func (s *SQLiteStore) AncestorChain(ctx context.Context, id int64) ([]Matter, error) {
	return ancestorChain(ctx, func(ctx context.Context, id int64) (Matter, error) {
		row := s.db.QueryRowContext(ctx, `SELECT `+matterCols+` FROM matters WHERE id = ?`, id)
		return scanMatter(row)
	}, id)
}

func (s *SQLiteStore) MatterCodeExists(ctx context.Context, ownerID int64, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM matters WHERE owner_id = ? AND matter_code = ?)`,
		ownerID, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check matter code: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) UpdateMatterParent(ctx context.Context, a scope.Actor, id int64, parentID *int64) error {
	clause, args := scope.OwnerFilter("matters", a)
	res, err := s.db.ExecContext(ctx,
		`UPDATE matters SET parent_id = ? WHERE id = ? AND `+clause,
		append([]any{parentID, id}, args...)...)
	if err != nil {
		return fmt.Errorf("update matter parent: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetMatterRate(ctx context.Context, a scope.Actor, id int64, rate *float64) error {
	clause, args := scope.OwnerFilter("matters", a)
	res, err := s.db.ExecContext(ctx,
		`UPDATE matters SET hourly_rate_euro = ? WHERE id = ? AND `+clause,
		append([]any{rate, id}, args...)...)
	if err != nil {
		return fmt.Errorf("set matter rate: %w", err)
	}
	return requireAffected(res)
}

// MergeMatters reassigns every time entry under source to target,
// reparents source's children to target, then deletes source, all in
// one transaction. Structural validation (self-merge, descendant
// target) happens in the service before this is called; ownership is
// re-checked here inside the transaction.
func (s *SQLiteStore) MergeMatters(ctx context.Context, a scope.Actor, sourceID, targetID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback()

	clause, args := scope.OwnerFilter("matters", a)
	for _, id := range []int64{sourceID, targetID} {
		var got int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM matters WHERE id = ? AND `+clause,
			append([]any{id}, args...)...).Scan(&got)
		if err != nil {
			return err
		}
	}

	// Entries booked by share grantees move with the matter, so the
	// reassignment is deliberately unscoped.
	if _, err := tx.ExecContext(ctx, `UPDATE time_entries SET matter_id = ? WHERE matter_id = ?`, targetID, sourceID); err != nil {
		return fmt.Errorf("merge reassign entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE matters SET parent_id = ? WHERE parent_id = ?`, targetID, sourceID); err != nil {
		return fmt.Errorf("merge reparent children: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matter_shares WHERE matter_id = ?`, sourceID); err != nil {
		return fmt.Errorf("merge drop shares: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_matter_rates WHERE matter_id = ?`, sourceID); err != nil {
		return fmt.Errorf("merge drop rates: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matters WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("merge delete source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// --- shares ---

func (s *SQLiteStore) InsertShare(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	if err := s.requireMatterOwner(ctx, a, matterID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matter_shares (matter_id, user_id) VALUES (?, ?)
		ON CONFLICT (matter_id, user_id) DO NOTHING
	`, matterID, userID)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteShare(ctx context.Context, a scope.Actor, matterID, userID int64) error {
	if err := s.requireMatterOwner(ctx, a, matterID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM matter_shares WHERE matter_id = ? AND user_id = ?`, matterID, userID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListShares(ctx context.Context, a scope.Actor, matterID int64) ([]MatterShare, error) {
	clause, args := scope.ShareFilter("matter_shares", a)
	rows, err := s.db.QueryContext(ctx,
		`SELECT matter_id, user_id FROM matter_shares WHERE matter_id = ? AND `+clause+` ORDER BY user_id ASC`,
		append([]any{matterID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	items := make([]MatterShare, 0)
	for rows.Next() {
		var sh MatterShare
		if err := rows.Scan(&sh.MatterID, &sh.UserID); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) requireMatterOwner(ctx context.Context, a scope.Actor, matterID int64) error {
	clause, args := scope.OwnerFilter("matters", a)
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM matters WHERE id = ? AND `+clause,
		append([]any{matterID}, args...)...).Scan(&id)
	return err
}

// --- per-user matter rates ---

func (s *SQLiteStore) GetUserMatterRate(ctx context.Context, userID, matterID int64) (*float64, error) {
	var rate float64
	err := s.db.QueryRowContext(ctx,
		`SELECT hourly_rate_euro FROM user_matter_rates WHERE user_id = ? AND matter_id = ?`,
		userID, matterID).Scan(&rate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user matter rate: %w", err)
	}
	return &rate, nil
}

func (s *SQLiteStore) SetUserMatterRate(ctx context.Context, a scope.Actor, userID, matterID int64, rate float64) error {
	if !a.IsAdmin && a.UserID != userID {
		if err := s.requireMatterOwner(ctx, a, matterID); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_matter_rates (user_id, matter_id, hourly_rate_euro) VALUES (?, ?, ?)
		ON CONFLICT (user_id, matter_id) DO UPDATE SET hourly_rate_euro = excluded.hourly_rate_euro
	`, userID, matterID, rate)
	if err != nil {
		return fmt.Errorf("set user matter rate: %w", err)
	}
	return nil
}

// --- time entries ---

func (s *SQLiteStore) InsertEntry(ctx context.Context, a scope.Actor, e TimeEntry) (TimeEntry, error) {
	if !scope.WritableRow(e.OwnerID, a) {
		return TimeEntry{}, sql.ErrNoRows
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO time_entries (owner_id, matter_id, description, start_time, end_time, duration_seconds, invoiced, activity_group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.OwnerID, e.MatterID, e.Description, e.StartTime, e.EndTime, e.DurationSeconds, e.Invoiced, e.ActivityGroupID)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TimeEntry{}, fmt.Errorf("insert entry id: %w", err)
	}
	e.ID = id
	return e, nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, a scope.Actor, id int64) (TimeEntry, error) {
	clause, args := scope.OwnerFilter("time_entries", a)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM time_entries WHERE id = ? AND `+clause,
		append([]any{id}, args...)...)
	return scanEntry(row)
}

func (s *SQLiteStore) UpdateEntry(ctx context.Context, a scope.Actor, e TimeEntry) error {
	clause, args := scope.OwnerFilter("time_entries", a)
	res, err := s.db.ExecContext(ctx,
		`UPDATE time_entries SET description = ?, start_time = ?, end_time = ?, duration_seconds = ? WHERE id = ? AND `+clause,
		append([]any{e.Description, e.StartTime, e.EndTime, e.DurationSeconds, e.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, a scope.Actor, id int64) error {
	clause, args := scope.OwnerFilter("time_entries", a)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM time_entries WHERE id = ? AND `+clause,
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return requireAffected(res)
}

// RunningEntry returns the caller's own open entry, if any. Admins stop
// their own timers like anyone else, so this filters by the actor's
// user id rather than the read scope.
func (s *SQLiteStore) RunningEntry(ctx context.Context, a scope.Actor) (*TimeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryCols+` FROM time_entries
		WHERE owner_id = ? AND end_time IS NULL
		ORDER BY start_time DESC LIMIT 1
	`, a.UserID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("running entry: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, a scope.Actor, f EntryFilter) ([]TimeEntry, error) {
	clause, args := scope.OwnerFilter("time_entries", a)
	where := []string{clause}
	if f.OwnerID != 0 {
		where = append(where, "time_entries.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if len(f.MatterIDs) > 0 {
		where = append(where, "time_entries.matter_id IN ("+placeholders(len(f.MatterIDs))+")")
		for _, id := range f.MatterIDs {
			args = append(args, id)
		}
	}
	if f.From != nil {
		where = append(where, "time_entries.start_time >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, "time_entries.start_time < ?")
		args = append(args, *f.To)
	}
	if f.CompletedOnly {
		where = append(where, "time_entries.end_time IS NOT NULL")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM time_entries WHERE `+strings.Join(where, " AND ")+` ORDER BY start_time ASC, id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return collectEntries(rows)
}

func (s *SQLiteStore) SetEntryInvoiced(ctx context.Context, a scope.Actor, id int64, invoiced bool) error {
	clause, args := scope.OwnerFilter("time_entries", a)
	res, err := s.db.ExecContext(ctx,
		`UPDATE time_entries SET invoiced = ? WHERE id = ? AND `+clause,
		append([]any{invoiced, id}, args...)...)
	if err != nil {
		return fmt.Errorf("set entry invoiced: %w", err)
	}
	return requireAffected(res)
}

// --- search fallback ---

func (s *SQLiteStore) SearchMatters(ctx context.Context, a scope.Actor, query string, limit int) ([]Matter, error) {
	if limit <= 0 {
		limit = 20
	}
	clause, args := scope.MatterFilter("matters", a)
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matterCols+` FROM matters
		 WHERE (name LIKE ? OR matter_code LIKE ?) AND `+clause+`
		 ORDER BY matter_code ASC LIMIT ?`,
		append(append([]any{pattern, pattern}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("search matters: %w", err)
	}
	return collectMatters(rows)
}

func (s *SQLiteStore) SearchEntries(ctx context.Context, a scope.Actor, query string, limit int) ([]TimeEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	clause, args := scope.OwnerFilter("time_entries", a)
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM time_entries
		 WHERE description LIKE ? AND `+clause+`
		 ORDER BY start_time DESC LIMIT ?`,
		append(append([]any{pattern}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	return collectEntries(rows)
}

// --- backup (system scope; the service layer gates who may call these) ---

func (s *SQLiteStore) ListAllMatters(ctx context.Context) ([]Matter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matterCols+` FROM matters ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all matters: %w", err)
	}
	return collectMatters(rows)
}

func (s *SQLiteStore) ListAllShares(ctx context.Context) ([]MatterShare, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT matter_id, user_id FROM matter_shares ORDER BY matter_id ASC, user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all shares: %w", err)
	}
	defer rows.Close()

	items := make([]MatterShare, 0)
	for rows.Next() {
		var sh MatterShare
		if err := rows.Scan(&sh.MatterID, &sh.UserID); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, sh)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ListAllRates(ctx context.Context) ([]UserMatterRate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, matter_id, hourly_rate_euro FROM user_matter_rates ORDER BY user_id ASC, matter_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all rates: %w", err)
	}
	defer rows.Close()

	items := make([]UserMatterRate, 0)
	for rows.Next() {
		var r UserMatterRate
		if err := rows.Scan(&r.UserID, &r.MatterID, &r.HourlyRate); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ListAllEntries(ctx context.Context) ([]TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryCols+` FROM time_entries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all entries: %w", err)
	}
	return collectEntries(rows)
}

// ReplaceAll is the destructive-replace import: delete everything, then
// insert in dependency order with the snapshot's own identifiers.
// SQLite's AUTOINCREMENT bookkeeping follows explicit ids on its own,
// so no sequence resync is needed here.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, users []User, matters []Matter, shares []MatterShare, rates []UserMatterRate, entries []TimeEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"time_entries", "user_matter_rates", "matter_shares", "matters", "users"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("import wipe %s: %w", table, err)
		}
	}

	for _, u := range users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, username, password_hash, is_admin, default_hourly_rate_euro)
			VALUES (?, ?, NULLIF(?, ''), ?, ?)
		`, u.ID, u.Username, u.PasswordHash, u.IsAdmin, u.DefaultHourlyRate); err != nil {
			return fmt.Errorf("import user %d: %w", u.ID, err)
		}
	}
	for _, m := range matters {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO matters (id, owner_id, matter_code, name, parent_id, hourly_rate_euro)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, m.OwnerID, m.Code, m.Name, m.ParentID, m.HourlyRate); err != nil {
			return fmt.Errorf("import matter %d: %w", m.ID, err)
		}
	}
	for _, sh := range shares {
		if _, err := tx.ExecContext(ctx, `INSERT INTO matter_shares (matter_id, user_id) VALUES (?, ?)`, sh.MatterID, sh.UserID); err != nil {
			return fmt.Errorf("import share: %w", err)
		}
	}
	for _, r := range rates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_matter_rates (user_id, matter_id, hourly_rate_euro) VALUES (?, ?, ?)`, r.UserID, r.MatterID, r.HourlyRate); err != nil {
			return fmt.Errorf("import rate: %w", err)
		}
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO time_entries (id, owner_id, matter_id, description, start_time, end_time, duration_seconds, invoiced, activity_group_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.OwnerID, e.MatterID, e.Description, e.StartTime, e.EndTime, e.DurationSeconds, e.Invoiced, e.ActivityGroupID); err != nil {
			return fmt.Errorf("import entry %d: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// --- shared row collection ---

func collectMatters(rows *sql.Rows) ([]Matter, error) {
	defer rows.Close()
	items := make([]Matter, 0)
	for rows.Next() {
		m, err := scanMatter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan matter: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matters: %w", err)
	}
	return items, nil
}

func collectEntries(rows *sql.Rows) ([]TimeEntry, error) {
	defer rows.Close()
	items := make([]TimeEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return items, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
