package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sentinel/api/internal/scope"
	"sentinel/api/internal/store"
)

// Service tests run against a real SQLite store in a temp dir; the
// fakes-vs-engine gap around row filtering is too easy to get wrong.

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	return NewService(store.NewSQLiteStore(db), WithClock(clock.Now)), clock
}

func seedUser(t *testing.T, svc *Service, admin scope.Actor, in CreateUserInput) scope.Actor {
	t.Helper()
	ctx := context.Background()
	var u store.User
	var err error
	if admin.Valid() {
		u, err = svc.CreateUser(ctx, admin, in)
	} else {
		u, err = svc.Bootstrap(ctx, in)
	}
	if err != nil {
		t.Fatalf("create user %s: %v", in.Username, err)
	}
	return scope.Actor{UserID: u.ID, IsAdmin: u.IsAdmin}
}

func seedMatter(t *testing.T, svc *Service, a scope.Actor, in CreateMatterInput) MatterNode {
	t.Helper()
	m, err := svc.CreateMatter(context.Background(), a, in)
	if err != nil {
		t.Fatalf("create matter %s: %v", in.Name, err)
	}
	return m
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if de.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, de.Code, de.Message)
	}
}

func TestBootstrapAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	admin := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "root", Password: "swordfish-1"})
	if !admin.IsAdmin {
		t.Fatal("bootstrapped user must be an admin")
	}
	if _, err := svc.Bootstrap(ctx, CreateUserInput{Username: "again", Password: "swordfish-1"}); err == nil {
		t.Fatal("second bootstrap should fail")
	}

	alice := seedUser(t, svc, admin, CreateUserInput{Username: "alice", Password: "correct-horse"})
	if alice.IsAdmin {
		t.Fatal("alice should not be an admin")
	}
	if _, err := svc.CreateUser(ctx, alice, CreateUserInput{Username: "eve", Password: "password123"}); err == nil {
		t.Fatal("non-admin must not create users")
	}
	if _, err := svc.CreateUser(ctx, admin, CreateUserInput{Username: "alice", Password: "password123"}); err == nil {
		t.Fatal("duplicate username must be rejected")
	}

	got, err := svc.Authenticate(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got != alice {
		t.Fatalf("authenticate returned %+v, want %+v", got, alice)
	}
	if _, err := svc.Authenticate(ctx, "alice", "wrong"); err == nil {
		t.Fatal("wrong password must fail")
	}
	if _, err := svc.Authenticate(ctx, "nobody", "wrong"); err == nil {
		t.Fatal("unknown user must fail")
	}
}

func TestSuggestCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})

	code, err := svc.SuggestCode(ctx, alice.UserID, "Acme Corp")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if code != "acme-corp" {
		t.Fatalf("expected acme-corp, got %s", code)
	}

	seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme Corp"})
	code, err = svc.SuggestCode(ctx, alice.UserID, "Acme Corp")
	if err != nil {
		t.Fatalf("suggest after collision: %v", err)
	}
	if code != "acme-corp-2" {
		t.Fatalf("expected acme-corp-2, got %s", code)
	}

	code, err = svc.SuggestCode(ctx, alice.UserID, "!!!")
	if err != nil {
		t.Fatalf("suggest degenerate: %v", err)
	}
	if code != "matter" {
		t.Fatalf("expected fallback code, got %s", code)
	}
}

func TestCreateMatterPaths(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})

	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme Corp"})
	if !acme.IsClient() {
		t.Fatal("parentless matter should be a client")
	}
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})
	if lit.Path != "Acme Corp > Litigation" {
		t.Fatalf("unexpected path %q", lit.Path)
	}

	if _, err := svc.CreateMatter(ctx, alice, CreateMatterInput{Name: "Other", Code: acme.Code}); err == nil {
		t.Fatal("duplicate code within one owner must be rejected")
	}

	nodes, err := svc.ListMatters(ctx, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Path != "Acme Corp" || nodes[1].Path != "Acme Corp > Litigation" {
		t.Fatalf("unexpected listing: %+v", nodes)
	}
}

func TestTimerLifecycle(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})
	drafting := seedMatter(t, svc, alice, CreateMatterInput{Name: "Drafting", ParentID: &acme.ID})

	if _, err := svc.StartTimer(ctx, alice, acme.ID, "oops"); err == nil {
		t.Fatal("booking time on a client must fail")
	}

	first, err := svc.StartTimer(ctx, alice, lit.ID, "review brief")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !first.Running() {
		t.Fatal("started entry should be running")
	}

	// Starting another timer closes the first.
	clock.advance(30 * time.Minute)
	second, err := svc.StartTimer(ctx, alice, drafting.ID, "draft motion")
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	running, err := svc.RunningEntry(ctx, alice)
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if running == nil || running.ID != second.ID {
		t.Fatalf("expected entry %d running, got %+v", second.ID, running)
	}
	closed, err := svc.store.GetEntry(ctx, alice, first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if closed.Running() || closed.DurationSeconds != 1800 {
		t.Fatalf("first entry should be closed at 1800s, got %+v", closed)
	}

	clock.advance(15 * time.Minute)
	stopped, err := svc.StopTimer(ctx, alice)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped == nil || stopped.DurationSeconds != 900 {
		t.Fatalf("expected 900s, got %+v", stopped)
	}
	if again, err := svc.StopTimer(ctx, alice); err != nil || again != nil {
		t.Fatalf("stop with nothing running should be a no-op, got %+v, %v", again, err)
	}
}

func TestStopDiscardsZeroDuration(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	started, err := svc.StartTimer(ctx, alice, lit.ID, "blink")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Clock has not advanced: the entry closes at zero duration and is
	// discarded instead of kept.
	stopped, err := svc.StopTimer(ctx, alice)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped != nil {
		t.Fatalf("zero-duration entry should be discarded, got %+v", stopped)
	}
	if _, err := svc.store.GetEntry(ctx, alice, started.ID); err == nil {
		t.Fatal("discarded entry should not exist")
	}
}

func TestContinueSharesActivityGroup(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	first, err := svc.StartTimer(ctx, alice, lit.ID, "review brief")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.advance(20 * time.Minute)
	if _, err := svc.StopTimer(ctx, alice); err != nil {
		t.Fatalf("stop: %v", err)
	}

	clock.advance(time.Hour)
	second, err := svc.ContinueEntry(ctx, alice, first.ID)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if second.ActivityGroupID == nil || *second.ActivityGroupID != first.ID {
		t.Fatalf("continuation should group under %d, got %+v", first.ID, second.ActivityGroupID)
	}
	if second.Description != first.Description || second.MatterID != first.MatterID {
		t.Fatal("continuation should copy matter and description")
	}

	// Continuing the continuation still anchors on the first segment.
	clock.advance(10 * time.Minute)
	if _, err := svc.StopTimer(ctx, alice); err != nil {
		t.Fatalf("stop: %v", err)
	}
	third, err := svc.ContinueEntry(ctx, alice, second.ID)
	if err != nil {
		t.Fatalf("continue again: %v", err)
	}
	if third.ActivityGroupID == nil || *third.ActivityGroupID != first.ID {
		t.Fatalf("chain should anchor on %d, got %+v", first.ID, third.ActivityGroupID)
	}
}

func TestCreateEntryDerivation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)

	t.Run("start and end derive duration", func(t *testing.T) {
		e, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID, Description: "research",
			EntryTimeInput: EntryTimeInput{StartTime: &start, EndTime: &end},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if e.DurationSeconds != 5400 {
			t.Fatalf("expected 5400s, got %v", e.DurationSeconds)
		}
	})

	t.Run("start and duration derive end", func(t *testing.T) {
		e, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID,
			EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(3600.0)},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if e.EndTime == nil || !e.EndTime.Equal(start.Add(time.Hour)) {
			t.Fatalf("expected end %v, got %v", start.Add(time.Hour), e.EndTime)
		}
	})

	t.Run("end and duration derive start", func(t *testing.T) {
		e, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID,
			EntryTimeInput: EntryTimeInput{EndTime: &end, DurationSeconds: ptr(1800.0)},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !e.StartTime.Equal(end.Add(-30 * time.Minute)) {
			t.Fatalf("expected start %v, got %v", end.Add(-30*time.Minute), e.StartTime)
		}
	})

	t.Run("inconsistent trio rejected", func(t *testing.T) {
		_, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID,
			EntryTimeInput: EntryTimeInput{StartTime: &start, EndTime: &end, DurationSeconds: ptr(60.0)},
		})
		wantCode(t, err, "VALIDATION_ERROR")
	})

	t.Run("single field is ambiguous", func(t *testing.T) {
		_, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID,
			EntryTimeInput: EntryTimeInput{StartTime: &start},
		})
		wantCode(t, err, "VALIDATION_ERROR")
	})

	t.Run("end before start rejected", func(t *testing.T) {
		before := start.Add(-time.Minute)
		_, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID,
			EntryTimeInput: EntryTimeInput{StartTime: &start, EndTime: &before},
		})
		wantCode(t, err, "VALIDATION_ERROR")
	})
}

func TestUpdateEntry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mk := func() store.TimeEntry {
		e, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID, Description: "research",
			EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(3600.0)},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return e
	}

	t.Run("new duration moves the end", func(t *testing.T) {
		e := mk()
		got, err := svc.UpdateEntry(ctx, alice, e.ID, UpdateEntryInput{
			EntryTimeInput: EntryTimeInput{DurationSeconds: ptr(1800.0)},
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.DurationSeconds != 1800 || !got.EndTime.Equal(start.Add(30*time.Minute)) {
			t.Fatalf("unexpected entry %+v", got)
		}
	})

	t.Run("zero duration deletes", func(t *testing.T) {
		e := mk()
		got, err := svc.UpdateEntry(ctx, alice, e.ID, UpdateEntryInput{
			EntryTimeInput: EntryTimeInput{DurationSeconds: ptr(0.0)},
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got != nil {
			t.Fatalf("zero-duration edit should delete, got %+v", got)
		}
		if _, err := svc.store.GetEntry(ctx, alice, e.ID); err == nil {
			t.Fatal("entry should be gone")
		}
	})

	t.Run("description only leaves times alone", func(t *testing.T) {
		e := mk()
		got, err := svc.UpdateEntry(ctx, alice, e.ID, UpdateEntryInput{Description: ptr("revised")})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Description != "revised" || got.DurationSeconds != 3600 {
			t.Fatalf("unexpected entry %+v", got)
		}
	})

	t.Run("running entry is not editable", func(t *testing.T) {
		running, err := svc.StartTimer(ctx, alice, lit.ID, "live")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err = svc.UpdateEntry(ctx, alice, running.ID, UpdateEntryInput{Description: ptr("nope")})
		wantCode(t, err, "VALIDATION_ERROR")
		if _, err := svc.StopTimer(ctx, alice); err != nil {
			t.Fatalf("stop: %v", err)
		}
	})
}

func TestResolveRateCascade(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	check := func(wantRate float64, wantSource string) {
		t.Helper()
		res, err := svc.ResolveRate(ctx, alice.UserID, lit.ID)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Rate != wantRate || res.Source != wantSource {
			t.Fatalf("expected %v/%s, got %v/%s", wantRate, wantSource, res.Rate, res.Source)
		}
	}

	// Nothing set anywhere: zero at the user tier.
	check(0, RateSourceUser)

	if err := svc.SetUserDefaultRate(ctx, alice, alice.UserID, ptr(80.0)); err != nil {
		t.Fatalf("set default: %v", err)
	}
	check(80, RateSourceUser)

	if err := svc.SetMatterRate(ctx, alice, acme.ID, ptr(150.0)); err != nil {
		t.Fatalf("set client rate: %v", err)
	}
	check(150, RateSourceUpperMatter)

	if err := svc.SetMatterRate(ctx, alice, lit.ID, ptr(180.0)); err != nil {
		t.Fatalf("set matter rate: %v", err)
	}
	check(180, RateSourceMatter)

	if err := svc.SetUserMatterRate(ctx, alice, alice.UserID, lit.ID, 95); err != nil {
		t.Fatalf("set override: %v", err)
	}
	check(95, RateSourceUserMatter)

	// An explicit zero default still resolves as the user tier.
	if err := svc.SetMatterRate(ctx, alice, lit.ID, nil); err != nil {
		t.Fatalf("clear matter rate: %v", err)
	}
	if err := svc.SetMatterRate(ctx, alice, acme.ID, nil); err != nil {
		t.Fatalf("clear client rate: %v", err)
	}
	if err := svc.SetUserDefaultRate(ctx, alice, alice.UserID, ptr(0.0)); err != nil {
		t.Fatalf("zero default: %v", err)
	}
	res, err := svc.ResolveRate(ctx, alice.UserID, acme.ID)
	if err != nil {
		t.Fatalf("resolve client: %v", err)
	}
	if res.Rate != 0 || res.Source != RateSourceUser {
		t.Fatalf("expected 0/user, got %+v", res)
	}

	if err := svc.SetMatterRate(ctx, alice, lit.ID, ptr(-1.0)); err == nil {
		t.Fatal("negative rate must be rejected")
	}
}

func TestMoveMatterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	admin := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "root", Password: "swordfish-1"})
	alice := seedUser(t, svc, admin, CreateUserInput{Username: "alice", Password: "correct-horse"})
	bob := seedUser(t, svc, admin, CreateUserInput{Username: "bob", Password: "hunter2hunter2"})

	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})
	appeal := seedMatter(t, svc, alice, CreateMatterInput{Name: "Appeal", ParentID: &lit.ID})
	globex := seedMatter(t, svc, bob, CreateMatterInput{Name: "Globex"})

	wantCode(t, svc.MoveMatter(ctx, alice, lit.ID, &lit.ID), "INVALID_TREE_OP")
	wantCode(t, svc.MoveMatter(ctx, alice, lit.ID, &appeal.ID), "INVALID_TREE_OP")
	// Bob's forest is invisible to alice, so the cross-owner case
	// surfaces as an unknown parent.
	wantCode(t, svc.MoveMatter(ctx, alice, lit.ID, &globex.ID), "NOT_FOUND")
	// The admin sees both forests; for them it is a structural error.
	wantCode(t, svc.MoveMatter(ctx, admin, lit.ID, &globex.ID), "INVALID_TREE_OP")

	// Promote a nested matter to a client.
	if err := svc.MoveMatter(ctx, alice, appeal.ID, nil); err != nil {
		t.Fatalf("promote: %v", err)
	}
	promoted, err := svc.GetMatter(ctx, alice, appeal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !promoted.IsClient() || promoted.Path != "Appeal" {
		t.Fatalf("expected promoted client, got %+v", promoted)
	}
}

func TestMergeMattersValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})

	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})
	appeal := seedMatter(t, svc, alice, CreateMatterInput{Name: "Appeal", ParentID: &lit.ID})
	drafting := seedMatter(t, svc, alice, CreateMatterInput{Name: "Drafting", ParentID: &acme.ID})

	wantCode(t, svc.MergeMatters(ctx, alice, lit.ID, lit.ID), "INVALID_TREE_OP")
	wantCode(t, svc.MergeMatters(ctx, alice, lit.ID, appeal.ID), "INVALID_TREE_OP")

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	e, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
		MatterID: lit.ID, Description: "research",
		EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(3600.0)},
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	if err := svc.MergeMatters(ctx, alice, lit.ID, drafting.ID); err != nil {
		t.Fatalf("merge: %v", err)
	}
	moved, err := svc.store.GetEntry(ctx, alice, e.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if moved.MatterID != drafting.ID {
		t.Fatalf("entry should follow the merge, got matter %d", moved.MatterID)
	}
	if _, err := svc.GetMatter(ctx, alice, lit.ID); err == nil {
		t.Fatal("merged source should be gone")
	}
	reparented, err := svc.GetMatter(ctx, alice, appeal.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if reparented.ParentID == nil || *reparented.ParentID != drafting.ID {
		t.Fatalf("child should move to the target, got %+v", reparented.ParentID)
	}
}

func TestShareConflictAndMergeThenShare(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	admin := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "root", Password: "swordfish-1"})
	alice := seedUser(t, svc, admin, CreateUserInput{Username: "alice", Password: "correct-horse"})
	bob := seedUser(t, svc, admin, CreateUserInput{Username: "bob", Password: "hunter2hunter2"})

	aAcme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	aLit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &aAcme.ID})

	wantCode(t, svc.ShareMatter(ctx, alice, aLit.ID, alice.UserID), "VALIDATION_ERROR")
	wantCode(t, svc.ShareMatter(ctx, alice, aLit.ID, 9999), "NOT_FOUND")

	// Bob independently tracked the same engagement under the same
	// names; the share collides on the display path.
	bAcme := seedMatter(t, svc, bob, CreateMatterInput{Name: "Acme"})
	bLit := seedMatter(t, svc, bob, CreateMatterInput{Name: "Litigation", ParentID: &bAcme.ID})
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	bobEntry, err := svc.CreateEntry(ctx, bob, CreateEntryInput{
		MatterID: bLit.ID, Description: "own notes",
		EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(1200.0)},
	})
	if err != nil {
		t.Fatalf("bob entry: %v", err)
	}

	err = svc.ShareMatter(ctx, alice, aLit.ID, bob.UserID)
	wantCode(t, err, "SHARE_PATH_CONFLICT")
	var de *DomainError
	errors.As(err, &de)
	details, ok := de.Details.(map[string]any)
	if !ok || details["matter_id"] != bLit.ID || details["path"] != "Acme > Litigation" {
		t.Fatalf("conflict should name the colliding matter, got %+v", de.Details)
	}

	if err := svc.MergeThenShare(ctx, alice, aLit.ID, bob.UserID); err != nil {
		t.Fatalf("merge then share: %v", err)
	}
	// Bob's duplicate is absorbed; his entry now sits on alice's matter,
	// which he can read through the share.
	if _, err := svc.GetMatter(ctx, bob, bLit.ID); err == nil {
		t.Fatal("bob's duplicate should be gone")
	}
	shared, err := svc.GetMatter(ctx, bob, aLit.ID)
	if err != nil {
		t.Fatalf("bob should see the shared matter: %v", err)
	}
	if shared.Path != "Acme > Litigation" {
		t.Fatalf("unexpected path %q", shared.Path)
	}
	moved, err := svc.store.GetEntry(ctx, bob, bobEntry.ID)
	if err != nil {
		t.Fatalf("bob entry after merge: %v", err)
	}
	if moved.MatterID != aLit.ID {
		t.Fatalf("entry should land on the shared matter, got %d", moved.MatterID)
	}

	// Sharing again now succeeds trivially (no collision left) and a
	// repeat grant is idempotent at the store.
	if err := svc.UnshareMatter(ctx, alice, aLit.ID, bob.UserID); err != nil {
		t.Fatalf("unshare: %v", err)
	}
	if _, err := svc.GetMatter(ctx, bob, aLit.ID); err == nil {
		t.Fatal("revoked share should hide the matter")
	}
}

func TestShareIsOwnerOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	admin := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "root", Password: "swordfish-1"})
	alice := seedUser(t, svc, admin, CreateUserInput{Username: "alice", Password: "correct-horse"})
	bob := seedUser(t, svc, admin, CreateUserInput{Username: "bob", Password: "hunter2hunter2"})
	carol := seedUser(t, svc, admin, CreateUserInput{Username: "carol", Password: "tertiary-pass"})

	aAcme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme"})
	aLit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &aAcme.ID})
	if err := svc.ShareMatter(ctx, alice, aLit.ID, bob.UserID); err != nil {
		t.Fatalf("share: %v", err)
	}

	// Carol owns a colliding path; a grantee re-sharing toward her must
	// fail as not-found without surfacing the collision.
	cAcme := seedMatter(t, svc, carol, CreateMatterInput{Name: "Acme"})
	seedMatter(t, svc, carol, CreateMatterInput{Name: "Litigation", ParentID: &cAcme.ID})

	err := svc.ShareMatter(ctx, bob, aLit.ID, carol.UserID)
	wantCode(t, err, "NOT_FOUND")
	var de *DomainError
	errors.As(err, &de)
	if de.Details != nil {
		t.Fatalf("grantee share attempt leaked details: %+v", de.Details)
	}
	shares, err := svc.store.ListShares(ctx, alice, aLit.ID)
	if err != nil {
		t.Fatalf("list shares: %v", err)
	}
	if len(shares) != 1 || shares[0].UserID != bob.UserID {
		t.Fatalf("shares changed: %+v", shares)
	}
}

func TestRollup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme", HourlyRate: ptr(100.0)})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	book := func(desc string, hours float64) store.TimeEntry {
		e, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
			MatterID: lit.ID, Description: desc,
			EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(hours * 3600)},
		})
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		return e
	}
	first := book("research", 2)
	book("drafting", 1)

	rows, err := svc.Rollup(ctx, alice, nil, nil)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if row.ClientName != "Acme" || row.MatterPath != "Acme > Litigation" {
		t.Fatalf("unexpected row identity %+v", row)
	}
	if row.TotalSeconds != 3*3600 || row.NotInvoicedSeconds != 3*3600 {
		t.Fatalf("unexpected seconds %+v", row)
	}
	if row.TotalAmount != 300 || row.NotInvoicedAmount != 300 {
		t.Fatalf("unexpected amounts %+v", row)
	}
	if row.RateSource != RateSourceUpperMatter {
		t.Fatalf("expected upper_matter source, got %s", row.RateSource)
	}

	// Invoicing one entry shrinks only the not-invoiced side.
	if err := svc.SetInvoiced(ctx, alice, first.ID, true); err != nil {
		t.Fatalf("invoice: %v", err)
	}
	rows, err = svc.Rollup(ctx, alice, nil, nil)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	row = rows[0]
	if row.TotalSeconds != 3*3600 || row.NotInvoicedSeconds != 3600 {
		t.Fatalf("unexpected seconds after invoicing %+v", row)
	}
	if row.TotalAmount != 300 || row.NotInvoicedAmount != 100 {
		t.Fatalf("unexpected amounts after invoicing %+v", row)
	}
	if row.NotInvoicedSeconds > row.TotalSeconds || row.NotInvoicedAmount > row.TotalAmount {
		t.Fatal("not-invoiced can never exceed total")
	}

	// A running entry never counts.
	if _, err := svc.StartTimer(ctx, alice, lit.ID, "live"); err != nil {
		t.Fatalf("start: %v", err)
	}
	again, err := svc.Rollup(ctx, alice, nil, nil)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if again[0].TotalSeconds != row.TotalSeconds {
		t.Fatal("running entry leaked into the rollup")
	}
}

func TestPreviewRowsGroupContinuations(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme", HourlyRate: ptr(100.0)})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	first, err := svc.StartTimer(ctx, alice, lit.ID, "review brief")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.advance(time.Hour)
	if _, err := svc.StopTimer(ctx, alice); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := svc.ContinueEntry(ctx, alice, first.ID); err != nil {
		t.Fatalf("continue: %v", err)
	}
	clock.advance(30 * time.Minute)
	if _, err := svc.StopTimer(ctx, alice); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Same description typed fresh is a separate task, not a segment.
	start := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	if _, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
		MatterID: lit.ID, Description: "review brief",
		EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(600.0)},
	}); err != nil {
		t.Fatalf("manual entry: %v", err)
	}

	rows, err := svc.PreviewRows(ctx, alice, []int64{acme.ID}, true, nil, nil)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	if rows[0].Segments != 2 || rows[0].DurationSeconds != 5400 {
		t.Fatalf("continuation group wrong: %+v", rows[0])
	}
	if rows[0].Amount != 150 {
		t.Fatalf("expected 150, got %v", rows[0].Amount)
	}
	if rows[1].Segments != 1 || rows[1].DurationSeconds != 600 {
		t.Fatalf("standalone row wrong: %+v", rows[1])
	}
}

func TestExportRecords(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme", HourlyRate: ptr(160.0)})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})
	other := seedMatter(t, svc, alice, CreateMatterInput{Name: "Drafting", ParentID: &acme.ID})

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
		MatterID: lit.ID, Description: "research",
		EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(5400.0)},
	}); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
		MatterID: other.ID, Description: "motion",
		EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(600.0)},
	}); err != nil {
		t.Fatalf("book: %v", err)
	}

	records, err := svc.ExportRecords(ctx, alice, []int64{lit.ID}, false, nil, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("selection should exclude the sibling, got %+v", records)
	}
	rec := records[0]
	if rec.MatterPath != "Acme > Litigation" || rec.StartTime != "2025-03-10T09:00:00Z" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Rate != 160 || rec.Amount != 240 {
		t.Fatalf("expected 160/240, got %v/%v", rec.Rate, rec.Amount)
	}

	// Selecting the client with descendants picks up both.
	records, err = svc.ExportRecords(ctx, alice, []int64{acme.ID}, true, nil, nil)
	if err != nil {
		t.Fatalf("export descendants: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both entries, got %+v", records)
	}

	if _, err := svc.ExportRecords(ctx, alice, []int64{424242}, false, nil, nil); err == nil {
		t.Fatal("unknown matter id must fail")
	}
}

func TestSearchFallsBackToStore(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, svc, scope.Actor{}, CreateUserInput{Username: "alice", Password: "correct-horse"})
	acme := seedMatter(t, svc, alice, CreateMatterInput{Name: "Acme Corp"})
	lit := seedMatter(t, svc, alice, CreateMatterInput{Name: "Litigation", ParentID: &acme.ID})

	// No indexer configured: both searches run against the store.
	nodes, err := svc.SearchMatters(ctx, alice, "litig", 0)
	if err != nil {
		t.Fatalf("search matters: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != lit.ID {
		t.Fatalf("unexpected matter hits %+v", nodes)
	}

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := svc.CreateEntry(ctx, alice, CreateEntryInput{
		MatterID: lit.ID, Description: "draft settlement proposal",
		EntryTimeInput: EntryTimeInput{StartTime: &start, DurationSeconds: ptr(3600.0)},
	}); err != nil {
		t.Fatalf("book: %v", err)
	}
	entries, err := svc.SearchEntries(ctx, alice, "settlement", 0)
	if err != nil {
		t.Fatalf("search entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Description != "draft settlement proposal" {
		t.Fatalf("unexpected entry hits %+v", entries)
	}
}

func ptr[T any](v T) *T { return &v }
