package app

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"sentinel/api/internal/scope"
	"sentinel/api/internal/store"
)

// PathSeparator joins matter names into display paths ("Acme > Litigation").
const PathSeparator = " > "

const fallbackCode = "matter"

type DataStore interface {
	Ping(ctx context.Context) error

	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	DeleteUser(ctx context.Context, id int64) error
	SetUserDefaultRate(ctx context.Context, id int64, rate *float64) error

	InsertMatter(ctx context.Context, a scope.Actor, m store.Matter) (store.Matter, error)
	GetMatter(ctx context.Context, a scope.Actor, id int64) (store.Matter, error)
	ListMatters(ctx context.Context, a scope.Actor) ([]store.Matter, error)
	ListMattersOwnedBy(ctx context.Context, ownerID int64) ([]store.Matter, error)
	AncestorChain(ctx context.Context, id int64) ([]store.Matter, error)
	MatterCodeExists(ctx context.Context, ownerID int64, code string) (bool, error)
	UpdateMatterParent(ctx context.Context, a scope.Actor, id int64, parentID *int64) error
	SetMatterRate(ctx context.Context, a scope.Actor, id int64, rate *float64) error
	MergeMatters(ctx context.Context, a scope.Actor, sourceID, targetID int64) error
	InsertShare(ctx context.Context, a scope.Actor, matterID, userID int64) error
	DeleteShare(ctx context.Context, a scope.Actor, matterID, userID int64) error
	ListShares(ctx context.Context, a scope.Actor, matterID int64) ([]store.MatterShare, error)
	GetUserMatterRate(ctx context.Context, userID, matterID int64) (*float64, error)
	SetUserMatterRate(ctx context.Context, a scope.Actor, userID, matterID int64, rate float64) error
	SearchMatters(ctx context.Context, a scope.Actor, query string, limit int) ([]store.Matter, error)

	InsertEntry(ctx context.Context, a scope.Actor, e store.TimeEntry) (store.TimeEntry, error)
	GetEntry(ctx context.Context, a scope.Actor, id int64) (store.TimeEntry, error)
	UpdateEntry(ctx context.Context, a scope.Actor, e store.TimeEntry) error
	DeleteEntry(ctx context.Context, a scope.Actor, id int64) error
	RunningEntry(ctx context.Context, a scope.Actor) (*store.TimeEntry, error)
	ListEntries(ctx context.Context, a scope.Actor, f store.EntryFilter) ([]store.TimeEntry, error)
	SearchEntries(ctx context.Context, a scope.Actor, query string, limit int) ([]store.TimeEntry, error)
	SetEntryInvoiced(ctx context.Context, a scope.Actor, id int64, invoiced bool) error

	ListAllMatters(ctx context.Context) ([]store.Matter, error)
	ListAllShares(ctx context.Context) ([]store.MatterShare, error)
	ListAllRates(ctx context.Context) ([]store.UserMatterRate, error)
	ListAllEntries(ctx context.Context) ([]store.TimeEntry, error)
	ReplaceAll(ctx context.Context, users []store.User, matters []store.Matter, shares []store.MatterShare, rates []store.UserMatterRate, entries []store.TimeEntry) error
}

// searchIndexer is the optional search backend; when absent or
// unhealthy the service falls back to the store's LIKE search.
type searchIndexer interface {
	Healthy() bool
	IndexMatter(ctx context.Context, id int64, ownerID int64, path, code string) error
	RemoveMatter(ctx context.Context, id int64) error
	Search(ctx context.Context, query string, limit int) ([]int64, error)
	IndexEntry(ctx context.Context, id int64, ownerID int64, description string) error
	RemoveEntry(ctx context.Context, id int64) error
	SearchEntries(ctx context.Context, query string, limit int) ([]int64, error)
}

type Service struct {
	store   DataStore
	indexer searchIndexer
	now     func() time.Time
}

type Option func(*Service)

func WithIndexer(idx searchIndexer) Option {
	return func(s *Service) { s.indexer = idx }
}

// WithClock overrides the time source; tests pin it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st DataStore, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func requireActor(a scope.Actor) error {
	if !a.Valid() {
		return errUnsetUser()
	}
	return nil
}

// MatterNode is a matter joined with its computed display path.
type MatterNode struct {
	store.Matter
	Path string `json:"path"`
}

type CreateMatterInput struct {
	Name       string   `json:"name" validate:"required,max=200"`
	Code       string   `json:"code" validate:"max=100"`
	ParentID   *int64   `json:"parent_id"`
	HourlyRate *float64 `json:"hourly_rate_euro" validate:"omitempty,gte=0"`
}

// CreateMatter creates a matter owned by the acting user, as a client
// when no parent is given. The code is suggested from the name when
// absent and must be unique within the owner's forest.
func (s *Service) CreateMatter(ctx context.Context, a scope.Actor, in CreateMatterInput) (MatterNode, error) {
	if err := requireActor(a); err != nil {
		return MatterNode{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return MatterNode{}, errValidation("name is required")
	}

	ownerID := a.UserID
	if in.ParentID != nil {
		parent, err := s.store.GetMatter(ctx, a, *in.ParentID)
		if err != nil {
			return MatterNode{}, mapStoreErr(err, "parent matter")
		}
		if !scope.WritableRow(parent.OwnerID, a) {
			return MatterNode{}, errNotFound("parent matter")
		}
		// Sub-matters always live in the parent owner's forest; an
		// admin creating under someone's client creates for them.
		ownerID = parent.OwnerID
	}

	code := strings.TrimSpace(in.Code)
	if code == "" {
		suggested, err := s.SuggestCode(ctx, ownerID, in.Name)
		if err != nil {
			return MatterNode{}, err
		}
		code = suggested
	} else {
		exists, err := s.store.MatterCodeExists(ctx, ownerID, code)
		if err != nil {
			return MatterNode{}, err
		}
		if exists {
			return MatterNode{}, errValidation(fmt.Sprintf("matter code %q already in use", code))
		}
	}

	m, err := s.store.InsertMatter(ctx, a, store.Matter{
		OwnerID:    ownerID,
		Code:       code,
		Name:       strings.TrimSpace(in.Name),
		ParentID:   in.ParentID,
		HourlyRate: in.HourlyRate,
	})
	if err != nil {
		return MatterNode{}, mapStoreErr(err, "matter")
	}
	s.indexMatter(ctx, m)
	return MatterNode{Matter: m, Path: s.pathOf(ctx, m)}, nil
}

// ListMatters returns every matter the actor may see, with display
// paths, ordered by path.
func (s *Service) ListMatters(ctx context.Context, a scope.Actor) ([]MatterNode, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	matters, err := s.store.ListMatters(ctx, a)
	if err != nil {
		return nil, err
	}

	nodes := make([]MatterNode, 0, len(matters))
	byID := indexByID(matters)
	for _, m := range matters {
		nodes = append(nodes, MatterNode{Matter: m, Path: s.pathWithin(ctx, byID, m)})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

// GetMatter returns one visible matter with its display path.
func (s *Service) GetMatter(ctx context.Context, a scope.Actor, id int64) (MatterNode, error) {
	if err := requireActor(a); err != nil {
		return MatterNode{}, err
	}
	m, err := s.store.GetMatter(ctx, a, id)
	if err != nil {
		return MatterNode{}, mapStoreErr(err, "matter")
	}
	return MatterNode{Matter: m, Path: s.pathOf(ctx, m)}, nil
}

// Descendants lists the strict descendants of a matter, breadth-first.
func (s *Service) Descendants(ctx context.Context, a scope.Actor, id int64) ([]MatterNode, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	root, err := s.store.GetMatter(ctx, a, id)
	if err != nil {
		return nil, mapStoreErr(err, "matter")
	}

	// Descendants stay within one owner's forest, so the walk runs over
	// the owner's matters rather than the actor's visible set: a shared
	// matter's subtree is reachable when the caller asks for it.
	owned, err := s.store.ListMattersOwnedBy(ctx, root.OwnerID)
	if err != nil {
		return nil, err
	}
	children := make(map[int64][]store.Matter)
	for _, m := range owned {
		if m.ParentID != nil {
			children[*m.ParentID] = append(children[*m.ParentID], m)
		}
	}

	byID := indexByID(owned)
	var out []MatterNode
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			out = append(out, MatterNode{Matter: child, Path: s.pathWithin(ctx, byID, child)})
			queue = append(queue, child.ID)
		}
	}
	return out, nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	code := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if code == "" {
		return fallbackCode
	}
	return code
}

// SuggestCode derives a matter code from a name and suffixes -2, -3, …
// until it is unused by the given owner. Uniqueness is per owner; two
// owners may hold textually identical codes.
func (s *Service) SuggestCode(ctx context.Context, ownerID int64, name string) (string, error) {
	base := slugify(name)
	code := base
	for n := 2; ; n++ {
		exists, err := s.store.MatterCodeExists(ctx, ownerID, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		code = fmt.Sprintf("%s-%d", base, n)
	}
}

// pathOf resolves a display path through the system-scoped ancestor
// chain; shared matters show their real path even though the grantee
// cannot read the ancestors directly.
func (s *Service) pathOf(ctx context.Context, m store.Matter) string {
	chain, err := s.store.AncestorChain(ctx, m.ID)
	if err != nil {
		return m.Name
	}
	return joinNames(chain)
}

// pathWithin resolves a path against an already-loaded index, falling
// back to the store walk when an ancestor is outside the index (a
// shared matter in another owner's forest).
func (s *Service) pathWithin(ctx context.Context, byID map[int64]store.Matter, m store.Matter) string {
	var names []string
	cur := m
	for depth := 0; depth < len(byID)+1; depth++ {
		names = append([]string{cur.Name}, names...)
		if cur.ParentID == nil {
			return strings.Join(names, PathSeparator)
		}
		parent, ok := byID[*cur.ParentID]
		if !ok {
			return s.pathOf(ctx, m)
		}
		cur = parent
	}
	return s.pathOf(ctx, m)
}

func joinNames(chain []store.Matter) string {
	names := make([]string, 0, len(chain))
	for _, node := range chain {
		names = append(names, node.Name)
	}
	return strings.Join(names, PathSeparator)
}

func indexByID(matters []store.Matter) map[int64]store.Matter {
	byID := make(map[int64]store.Matter, len(matters))
	for _, m := range matters {
		byID[m.ID] = m
	}
	return byID
}

func (s *Service) indexMatter(ctx context.Context, m store.Matter) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	_ = s.indexer.IndexMatter(ctx, m.ID, m.OwnerID, s.pathOf(ctx, m), m.Code)
}

// SearchMatters serves matter lookups from the search index when it is
// healthy, re-checking visibility per hit, and falls back to the
// store's pattern search otherwise.
func (s *Service) SearchMatters(ctx context.Context, a scope.Actor, query string, limit int) ([]MatterNode, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	if s.indexer != nil && s.indexer.Healthy() {
		ids, err := s.indexer.Search(ctx, query, limit)
		if err == nil {
			nodes := make([]MatterNode, 0, len(ids))
			for _, id := range ids {
				m, err := s.store.GetMatter(ctx, a, id)
				if err != nil {
					continue // hidden or deleted since indexing
				}
				nodes = append(nodes, MatterNode{Matter: m, Path: s.pathOf(ctx, m)})
			}
			return nodes, nil
		}
	}

	matters, err := s.store.SearchMatters(ctx, a, query, limit)
	if err != nil {
		return nil, err
	}
	nodes := make([]MatterNode, 0, len(matters))
	for _, m := range matters {
		nodes = append(nodes, MatterNode{Matter: m, Path: s.pathOf(ctx, m)})
	}
	return nodes, nil
}

func (s *Service) indexEntry(ctx context.Context, e store.TimeEntry) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	_ = s.indexer.IndexEntry(ctx, e.ID, e.OwnerID, e.Description)
}

func (s *Service) removeEntryIndex(ctx context.Context, id int64) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	_ = s.indexer.RemoveEntry(ctx, id)
}

// SearchEntries finds the caller's entries by description, served from
// the index when healthy with a per-hit visibility recheck.
func (s *Service) SearchEntries(ctx context.Context, a scope.Actor, query string, limit int) ([]store.TimeEntry, error) {
	if err := requireActor(a); err != nil {
		return nil, err
	}
	if s.indexer != nil && s.indexer.Healthy() {
		ids, err := s.indexer.SearchEntries(ctx, query, limit)
		if err == nil {
			entries := make([]store.TimeEntry, 0, len(ids))
			for _, id := range ids {
				e, err := s.store.GetEntry(ctx, a, id)
				if err != nil {
					continue // hidden or deleted since indexing
				}
				entries = append(entries, e)
			}
			return entries, nil
		}
	}
	return s.store.SearchEntries(ctx, a, query, limit)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
