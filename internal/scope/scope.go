// Package scope decides which rows an acting user may see or mutate.
//
// The ownership/share/admin rules are written once, as dialect-neutral
// SQL templates, and instantiated twice: as WHERE fragments appended to
// every query of the filter-first (SQLite) backend, and as declarative
// row-security policy DDL installed into the policy-native (Postgres)
// backend. Both instantiations must yield the same visible row set for
// the same actor and data; the conformance tests in internal/store hold
// them to that.
package scope

import (
	"fmt"
	"strconv"
)

// Actor is the acting-user context supplied by the authentication
// boundary on every call.
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// Valid reports whether an acting user was supplied at all. Operations
// that require a user context reject invalid actors before any query.
func (a Actor) Valid() bool {
	return a.UserID != 0
}

// System is the internal actor used for reads and mutations the engine
// performs on its own behalf: ancestor-chain walks for rate resolution
// and display paths, share-conflict detection against another owner's
// tree, and the merge half of merge-then-share. It is never derived
// from request input.
var System = Actor{UserID: -1, IsAdmin: true}

// VisibleMatter is the read predicate for matter rows.
func VisibleMatter(ownerID int64, sharedWithActor bool, a Actor) bool {
	return a.IsAdmin || ownerID == a.UserID || sharedWithActor
}

// WritableRow is the write predicate for owner-scoped rows (matters,
// time entries). Shares grant reads and time booking, never structural
// writes.
func WritableRow(ownerID int64, a Actor) bool {
	return a.IsAdmin || ownerID == a.UserID
}

// dialect supplies the backend-specific spellings used when a rule
// template is instantiated.
type dialect struct {
	user       string                    // expression for the acting user id
	admin      string                    // expression for the admin flag
	hasShare   func(alias string) string // share on alias.id held by the acting user
	ownsMatter func(alias string) string // acting user owns the matter alias.matter_id points at
}

var filterDialect = dialect{
	user:  "?",
	admin: "0",
	hasShare: func(alias string) string {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM matter_shares ms WHERE ms.matter_id = %s.id AND ms.user_id = ?)", alias)
	},
	ownsMatter: func(alias string) string {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM matters om WHERE om.id = %s.matter_id AND om.owner_id = ?)", alias)
	},
}

// The policy dialect leans on SECURITY DEFINER helpers so that policy
// evaluation does not recurse through the policies of the tables it
// consults (matters <-> matter_shares).
var policyDialect = dialect{
	user:  "app_user_id()",
	admin: "app_is_admin()",
	hasShare: func(alias string) string {
		return fmt.Sprintf("app_has_share(%s.id)", alias)
	},
	ownsMatter: func(alias string) string {
		return fmt.Sprintf("app_owns_matter(%s.matter_id)", alias)
	},
}

// Rule templates. Each predicate is written once and rendered per dialect.

func matterVisibleExpr(d dialect, alias string) string {
	return fmt.Sprintf("(%s OR %s.owner_id = %s OR %s)", d.admin, alias, d.user, d.hasShare(alias))
}

func ownerRowExpr(d dialect, alias string) string {
	return fmt.Sprintf("(%s OR %s.owner_id = %s)", d.admin, alias, d.user)
}

func shareRowExpr(d dialect, alias string) string {
	return fmt.Sprintf("(%s OR %s.user_id = %s OR %s)", d.admin, alias, d.user, d.ownsMatter(alias))
}

func rateRowExpr(d dialect, alias string) string {
	return fmt.Sprintf("(%s OR %s.user_id = %s OR %s)", d.admin, alias, d.user, d.ownsMatter(alias))
}

// MatterFilter returns a WHERE fragment (with `?` placeholders and
// matching args) restricting rows of the matters table, aliased as
// alias, to those the actor may read.
func MatterFilter(alias string, a Actor) (string, []any) {
	if a.IsAdmin {
		return "1=1", nil
	}
	return matterVisibleExpr(filterDialect, alias), []any{a.UserID, a.UserID}
}

// OwnerFilter restricts owner-scoped rows (time entries, and matters on
// the write path) to those the actor may mutate.
func OwnerFilter(alias string, a Actor) (string, []any) {
	if a.IsAdmin {
		return "1=1", nil
	}
	return ownerRowExpr(filterDialect, alias), []any{a.UserID}
}

// ShareFilter restricts matter_shares rows to those the actor may see:
// grants held by the actor, or grants on matters the actor owns.
func ShareFilter(alias string, a Actor) (string, []any) {
	if a.IsAdmin {
		return "1=1", nil
	}
	return shareRowExpr(filterDialect, alias), []any{a.UserID, a.UserID}
}

// RateFilter restricts user_matter_rates rows to the rate's user or the
// owner of the matter the rate applies to.
func RateFilter(alias string, a Actor) (string, []any) {
	if a.IsAdmin {
		return "1=1", nil
	}
	return rateRowExpr(filterDialect, alias), []any{a.UserID, a.UserID}
}

// SessionVars renders the actor as the (user id, admin flag) pair the
// policy-native backend installs via set_config at the start of every
// transaction.
func SessionVars(a Actor) (userID, isAdmin string) {
	return strconv.FormatInt(a.UserID, 10), strconv.FormatBool(a.IsAdmin)
}

// Policies returns the declarative row-security DDL for the Postgres
// backend, generated from the same rule templates as the filter
// fragments above. The statements are idempotent (drop-then-create) and
// are applied after schema migrations.
//
// The API must connect as a role that does not own these tables and has
// no BYPASSRLS, so the policies actually apply; migrations run as the
// owning role.
func Policies() []string {
	d := policyDialect
	ddl := []string{
		`CREATE OR REPLACE FUNCTION app_user_id() RETURNS bigint AS
  $$ SELECT COALESCE(NULLIF(current_setting('app.user_id', true), ''), '0')::bigint $$
  LANGUAGE sql STABLE`,
		`CREATE OR REPLACE FUNCTION app_is_admin() RETURNS boolean AS
  $$ SELECT COALESCE(NULLIF(current_setting('app.is_admin', true), ''), 'false')::boolean $$
  LANGUAGE sql STABLE`,
		`CREATE OR REPLACE FUNCTION app_owns_matter(mid bigint) RETURNS boolean AS
  $$ SELECT EXISTS (SELECT 1 FROM matters WHERE id = mid AND owner_id = app_user_id()) $$
  LANGUAGE sql STABLE SECURITY DEFINER`,
		`CREATE OR REPLACE FUNCTION app_has_share(mid bigint) RETURNS boolean AS
  $$ SELECT EXISTS (SELECT 1 FROM matter_shares WHERE matter_id = mid AND user_id = app_user_id()) $$
  LANGUAGE sql STABLE SECURITY DEFINER`,
	}

	for _, table := range []string{"users", "matters", "matter_shares", "user_matter_rates", "time_entries"} {
		ddl = append(ddl, fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table))
	}

	policy := func(name, table, clause, using, check string) {
		ddl = append(ddl, fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", name, table))
		stmt := fmt.Sprintf("CREATE POLICY %s ON %s FOR %s", name, table, clause)
		if using != "" {
			stmt += " USING " + using
		}
		if check != "" {
			stmt += " WITH CHECK " + check
		}
		ddl = append(ddl, stmt)
	}

	// Usernames are visible to every authenticated user (share targets
	// must be addressable); user writes stay with the admin.
	policy("users_select", "users", "SELECT", "(true)", "")
	policy("users_write", "users", "ALL", fmt.Sprintf("(%s)", d.admin), fmt.Sprintf("(%s)", d.admin))

	policy("matters_select", "matters", "SELECT", matterVisibleExpr(d, "matters"), "")
	policy("matters_insert", "matters", "INSERT", "", ownerRowExpr(d, "matters"))
	policy("matters_update", "matters", "UPDATE", ownerRowExpr(d, "matters"), ownerRowExpr(d, "matters"))
	policy("matters_delete", "matters", "DELETE", ownerRowExpr(d, "matters"), "")

	policy("shares_select", "matter_shares", "SELECT", shareRowExpr(d, "matter_shares"), "")
	shareWrite := fmt.Sprintf("(%s OR %s)", d.admin, d.ownsMatter("matter_shares"))
	policy("shares_insert", "matter_shares", "INSERT", "", shareWrite)
	policy("shares_delete", "matter_shares", "DELETE", shareWrite, "")

	policy("rates_select", "user_matter_rates", "SELECT", rateRowExpr(d, "user_matter_rates"), "")
	policy("rates_write", "user_matter_rates", "ALL", rateRowExpr(d, "user_matter_rates"), rateRowExpr(d, "user_matter_rates"))

	policy("entries_select", "time_entries", "SELECT", ownerRowExpr(d, "time_entries"), "")
	policy("entries_insert", "time_entries", "INSERT", "", ownerRowExpr(d, "time_entries"))
	policy("entries_update", "time_entries", "UPDATE", ownerRowExpr(d, "time_entries"), ownerRowExpr(d, "time_entries"))
	policy("entries_delete", "time_entries", "DELETE", ownerRowExpr(d, "time_entries"), "")

	return ddl
}
