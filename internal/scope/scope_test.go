package scope

import (
	"strings"
	"testing"
)

func TestActorValid(t *testing.T) {
	if (Actor{}).Valid() {
		t.Error("zero actor should be invalid")
	}
	if !(Actor{UserID: 7}).Valid() {
		t.Error("actor with user id should be valid")
	}
	if !System.Valid() {
		t.Error("system actor should be valid")
	}
}

func TestVisibleMatter(t *testing.T) {
	owner := Actor{UserID: 1}
	other := Actor{UserID: 2}
	admin := Actor{UserID: 3, IsAdmin: true}

	if !VisibleMatter(1, false, owner) {
		t.Error("owner should see own matter")
	}
	if VisibleMatter(1, false, other) {
		t.Error("non-owner without share should not see matter")
	}
	if !VisibleMatter(1, true, other) {
		t.Error("share grant should make matter visible")
	}
	if !VisibleMatter(1, false, admin) {
		t.Error("admin should see every matter")
	}
}

func TestWritableRowIgnoresShares(t *testing.T) {
	grantee := Actor{UserID: 2}
	if WritableRow(1, grantee) {
		t.Error("share never grants structural writes")
	}
	if !WritableRow(1, Actor{UserID: 1}) {
		t.Error("owner must be able to write")
	}
}

func TestMatterFilterArgs(t *testing.T) {
	clause, args := MatterFilter("m", Actor{UserID: 42})
	if !strings.Contains(clause, "m.owner_id = ?") {
		t.Fatalf("missing owner clause: %s", clause)
	}
	if !strings.Contains(clause, "matter_shares") {
		t.Fatalf("missing share clause: %s", clause)
	}
	if got := strings.Count(clause, "?"); got != len(args) {
		t.Fatalf("placeholder/arg mismatch: %d placeholders, %d args", got, len(args))
	}
	for _, a := range args {
		if a != int64(42) {
			t.Fatalf("unexpected arg %v", a)
		}
	}
}

func TestAdminFiltersAreUnrestricted(t *testing.T) {
	admin := Actor{UserID: 1, IsAdmin: true}
	for name, fn := range map[string]func(string, Actor) (string, []any){
		"matter": MatterFilter,
		"owner":  OwnerFilter,
		"share":  ShareFilter,
		"rate":   RateFilter,
	} {
		clause, args := fn("t", admin)
		if clause != "1=1" || args != nil {
			t.Errorf("%s filter should be unrestricted for admin, got %q", name, clause)
		}
	}
}

func TestFilterPlaceholdersMatchArgs(t *testing.T) {
	a := Actor{UserID: 9}
	for name, fn := range map[string]func(string, Actor) (string, []any){
		"matter": MatterFilter,
		"owner":  OwnerFilter,
		"share":  ShareFilter,
		"rate":   RateFilter,
	} {
		clause, args := fn("t", a)
		if got := strings.Count(clause, "?"); got != len(args) {
			t.Errorf("%s: %d placeholders but %d args: %s", name, got, len(args), clause)
		}
	}
}

func TestSessionVars(t *testing.T) {
	uid, admin := SessionVars(Actor{UserID: 5, IsAdmin: true})
	if uid != "5" || admin != "true" {
		t.Fatalf("got %s/%s", uid, admin)
	}
}

func TestPoliciesCoverEveryTable(t *testing.T) {
	ddl := strings.Join(Policies(), "\n")
	for _, table := range []string{"users", "matters", "matter_shares", "user_matter_rates", "time_entries"} {
		if !strings.Contains(ddl, "ALTER TABLE "+table+" ENABLE ROW LEVEL SECURITY") {
			t.Errorf("row security not enabled on %s", table)
		}
	}
	// The share clause must appear in the matters read policy so both
	// backends agree on shared-matter visibility.
	if !strings.Contains(ddl, "app_has_share(matters.id)") {
		t.Error("matters select policy lost the share clause")
	}
	// Entry visibility never includes shares.
	if strings.Contains(ddl, "app_has_share(time_entries") {
		t.Error("time entry policies must not consult shares")
	}
}

func TestPoliciesDropBeforeCreate(t *testing.T) {
	stmts := Policies()
	for i, s := range stmts {
		if !strings.HasPrefix(s, "CREATE POLICY") {
			continue
		}
		name := strings.Fields(s)[2]
		if i == 0 || !strings.HasPrefix(stmts[i-1], "DROP POLICY IF EXISTS "+name+" ") {
			t.Errorf("policy %s is not preceded by its drop", name)
		}
	}
}
