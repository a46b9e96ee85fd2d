// Package store is the client-side Problem Store: one state container that
// loads, caches, filters and mutates problems so that the explore list, the
// caller's own list and the detail view stay consistent.
//
// A Store is owned by the application root and passed to views; there is
// no package-level instance. Each operation makes at most one gateway call
// outside the lock and then applies its whole state transition under the
// lock, so a reader never sees a half-applied update. Failures are kept in
// State.Error instead of being returned, except by Create, Update and
// Remove, which also return them to the immediate caller.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/gateway"
)

// DefaultDebounce is the quiet period before a search term takes effect.
const DefaultDebounce = 300 * time.Millisecond

// Identifiers LoadOne treats as "no record yet" (the create form).
var reservedIDs = map[string]bool{"new": true, "create": true}

// Fields are the caller-editable parts of a problem.
type Fields struct {
	Title        string
	Description  string
	Requirements *string
	Tags         []string
	ContactInfo  *domain.ContactInfo
}

// State is a copy of everything the store holds.
type State struct {
	AllProblems    []domain.Problem
	UserProblems   []domain.Problem
	CurrentProblem *domain.Problem
	IsLoading      bool
	Error          *Error

	// SearchTerm is the raw input; EffectiveSearch is the debounced value
	// filtering uses.
	SearchTerm      string
	EffectiveSearch string
	SelectedTags    []string

	Ops map[Op]OpStatus
}

// Store holds problem state. It is safe for concurrent use.
type Store struct {
	gw       gateway.Problems
	auth     gateway.Auth
	log      zerolog.Logger
	debounce time.Duration

	mu       sync.Mutex
	st       State
	inflight map[Op]int
	timer    *time.Timer

	// bumped whenever the pending term changes hands, so a timer that
	// already fired for an older term is ignored
	searchGen uint64

	subMu  sync.Mutex
	subs   map[int]func(State)
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithDebounce sets the search quiet period; <= 0 applies terms at once.
func WithDebounce(d time.Duration) Option { return func(s *Store) { s.debounce = d } }

// WithLogger sets the logger failed operations are reported to.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// New returns an empty store backed by gw.
func New(gw gateway.Gateway, opts ...Option) *Store {
	s := &Store{
		gw:       gw,
		auth:     gw,
		log:      log.Logger,
		debounce: DefaultDebounce,
		inflight: make(map[Op]int, len(Ops)),
		subs:     make(map[int]func(State)),
	}
	s.st.Ops = make(map[Op]OpStatus, len(Ops))
	for _, op := range Ops {
		s.st.Ops[op] = OpStatus{Phase: Idle}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	out := s.st
	out.AllProblems = cloneAll(s.st.AllProblems)
	out.UserProblems = cloneAll(s.st.UserProblems)
	out.CurrentProblem = clonePtr(s.st.CurrentProblem)
	out.SelectedTags = append([]string(nil), s.st.SelectedTags...)
	out.Ops = make(map[Op]OpStatus, len(s.st.Ops))
	for k, v := range s.st.Ops {
		out.Ops[k] = v
	}
	return out
}

// Subscribe registers fn to receive a snapshot after every state change,
// including a debounced search settling. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// ----- operation lifecycle -----

func (s *Store) begin(op Op) {
	s.mu.Lock()
	s.inflight[op]++
	s.st.Ops[op] = OpStatus{Phase: Pending}
	s.st.IsLoading = true
	s.st.Error = nil
	s.mu.Unlock()
	s.notify()
}

// finishLocked records the outcome of op. It must be called with mu held,
// in the same critical section as the data change it accompanies.
func (s *Store) finishLocked(op Op, e *Error) {
	if s.inflight[op] > 0 {
		s.inflight[op]--
	}
	if s.inflight[op] == 0 {
		s.st.Ops[op] = OpStatus{Phase: Done, Err: e}
	}
	loading := false
	for _, n := range s.inflight {
		if n > 0 {
			loading = true
			break
		}
	}
	s.st.IsLoading = loading
	if e != nil {
		s.st.Error = e
	}
}

// fail records e for op without touching data and returns it.
func (s *Store) fail(op Op, e *Error) *Error {
	s.log.Warn().Str("op", string(op)).Str("kind", e.Kind.String()).Msg(e.Message)
	s.mu.Lock()
	s.finishLocked(op, e)
	s.mu.Unlock()
	s.notify()
	return e
}

// reject records a failure for an operation that never started.
func (s *Store) reject(op Op, e *Error) *Error {
	s.mu.Lock()
	s.inflight[op]++
	s.mu.Unlock()
	return s.fail(op, e)
}

// ----- loads -----

// LoadAll replaces AllProblems with every problem, newest first. On
// failure the previous list is kept.
func (s *Store) LoadAll(ctx context.Context) {
	s.begin(OpLoadAll)
	rows, err := s.gw.ListProblems(ctx, gateway.ListQuery{})
	if err != nil {
		s.fail(OpLoadAll, Classify(err))
		return
	}
	rows = newestFirst(rows)

	s.mu.Lock()
	s.st.AllProblems = rows
	s.finishLocked(OpLoadAll, nil)
	s.mu.Unlock()
	s.notify()
}

// LoadMine replaces UserProblems with the problems owned by userID. An
// empty userID fails with AuthRequired without calling the gateway.
func (s *Store) LoadMine(ctx context.Context, userID string) {
	if userID == "" {
		s.reject(OpLoadMine, newError(AuthRequired, "You must be logged in to view your problems"))
		return
	}
	s.begin(OpLoadMine)
	rows, err := s.gw.ListProblems(ctx, gateway.ListQuery{UserID: userID})
	if err != nil {
		s.fail(OpLoadMine, Classify(err))
		return
	}
	owned := make([]domain.Problem, 0, len(rows))
	for _, p := range rows {
		if p.OwnedBy(userID) {
			owned = append(owned, p)
		}
	}
	owned = newestFirst(owned)

	s.mu.Lock()
	s.st.UserProblems = owned
	s.finishLocked(OpLoadMine, nil)
	s.mu.Unlock()
	s.notify()
}

// LoadOne loads problem id into CurrentProblem. The reserved ids "new" and
// "create" clear CurrentProblem without a request. NotFound clears
// CurrentProblem; other failures leave it as it was.
func (s *Store) LoadOne(ctx context.Context, id string) (*domain.Problem, error) {
	if reservedIDs[id] {
		s.mu.Lock()
		s.st.CurrentProblem = nil
		s.mu.Unlock()
		s.notify()
		return nil, nil
	}

	s.begin(OpLoadOne)
	p, err := s.gw.GetProblem(ctx, id)
	if err != nil {
		e := Classify(err)
		s.log.Warn().Str("op", string(OpLoadOne)).Str("kind", e.Kind.String()).Msg(e.Message)
		s.mu.Lock()
		if e.Kind == NotFound {
			s.st.CurrentProblem = nil
		}
		s.finishLocked(OpLoadOne, e)
		s.mu.Unlock()
		s.notify()
		return nil, e
	}

	s.mu.Lock()
	s.st.CurrentProblem = clonePtr(p)
	s.finishLocked(OpLoadOne, nil)
	s.mu.Unlock()
	s.notify()
	return p, nil
}

// ----- mutations -----

// Create inserts a problem owned by userID and prepends the stored record
// to both lists. userID must be non-empty and match the gateway's current
// session; otherwise it fails with AuthRequired and nothing changes.
func (s *Store) Create(ctx context.Context, f Fields, userID string) (*domain.Problem, error) {
	if userID == "" {
		return nil, s.reject(OpCreate, newError(AuthRequired, "You must be logged in to create a problem"))
	}

	s.begin(OpCreate)
	who, err := s.auth.CurrentUser(ctx)
	switch {
	case err != nil:
		return nil, s.fail(OpCreate, newError(AuthRequired, "Authentication error: "+Classify(err).Message))
	case who == nil:
		return nil, s.fail(OpCreate, newError(AuthRequired, "You must be logged in to create a problem"))
	case who.ID != userID:
		return nil, s.fail(OpCreate, newError(AuthRequired, "User authentication error: ID mismatch"))
	}

	p, err := s.gw.InsertProblem(ctx, gateway.NewProblem{
		UserID:       userID,
		Title:        f.Title,
		Description:  f.Description,
		Requirements: f.Requirements,
		Tags:         tagsOrEmpty(f.Tags),
		ContactInfo:  contactOrEmpty(f.ContactInfo),
	})
	if err != nil {
		e := Classify(err)
		if e.Kind == Generic {
			e = newError(Generic, "Failed to create problem: "+e.Message)
		}
		return nil, s.fail(OpCreate, e)
	}

	s.mu.Lock()
	s.st.AllProblems = prepend(s.st.AllProblems, p)
	s.st.UserProblems = prepend(s.st.UserProblems, p)
	s.finishLocked(OpCreate, nil)
	s.mu.Unlock()
	s.notify()
	return clonePtr(p), nil
}

// Update sends the editable fields of problem id with a fresh updated_at.
// Ownership is the caller's and the service's concern. On success the
// record is replaced in both lists and in CurrentProblem when it holds id.
func (s *Store) Update(ctx context.Context, id string, f Fields) (*domain.Problem, error) {
	s.begin(OpUpdate)
	p, err := s.gw.UpdateProblem(ctx, id, gateway.ProblemUpdate{
		Title:        f.Title,
		Description:  f.Description,
		Requirements: f.Requirements,
		Tags:         tagsOrEmpty(f.Tags),
		ContactInfo:  contactOrEmpty(f.ContactInfo),
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, s.fail(OpUpdate, Classify(err))
	}

	s.mu.Lock()
	replace(s.st.AllProblems, p)
	replace(s.st.UserProblems, p)
	if s.st.CurrentProblem != nil && s.st.CurrentProblem.ID == p.ID {
		s.st.CurrentProblem = clonePtr(p)
	}
	s.finishLocked(OpUpdate, nil)
	s.mu.Unlock()
	s.notify()
	return clonePtr(p), nil
}

// Remove deletes problem id and purges it from every collection.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.begin(OpRemove)
	if err := s.gw.DeleteProblem(ctx, id); err != nil {
		return s.fail(OpRemove, Classify(err))
	}

	s.mu.Lock()
	s.st.AllProblems = without(s.st.AllProblems, id)
	s.st.UserProblems = without(s.st.UserProblems, id)
	if s.st.CurrentProblem != nil && s.st.CurrentProblem.ID == id {
		s.st.CurrentProblem = nil
	}
	s.finishLocked(OpRemove, nil)
	s.mu.Unlock()
	s.notify()
	return nil
}

// ClearUserData drops everything tied to the signed-in user. Views call it
// on sign-out.
func (s *Store) ClearUserData() {
	s.mu.Lock()
	s.st.UserProblems = nil
	s.st.CurrentProblem = nil
	s.mu.Unlock()
	s.notify()
}

// ClearError clears State.Error and leaves data alone.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.st.Error = nil
	s.mu.Unlock()
	s.notify()
}

// ----- collection helpers -----

func cloneAll(in []domain.Problem) []domain.Problem {
	if in == nil {
		return nil
	}
	out := make([]domain.Problem, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// newestFirst sorts by created_at desc (id desc on ties) and keeps only
// the first row per id.
func newestFirst(rows []domain.Problem) []domain.Problem {
	seen := make(map[string]bool, len(rows))
	out := make([]domain.Problem, 0, len(rows))
	for _, p := range rows {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func clonePtr(p *domain.Problem) *domain.Problem {
	if p == nil {
		return nil
	}
	c := p.Clone()
	return &c
}

func prepend(list []domain.Problem, p *domain.Problem) []domain.Problem {
	rest := without(list, p.ID)
	out := make([]domain.Problem, 0, len(rest)+1)
	out = append(out, p.Clone())
	return append(out, rest...)
}

func replace(list []domain.Problem, p *domain.Problem) {
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p.Clone()
		}
	}
}

func without(list []domain.Problem, id string) []domain.Problem {
	out := make([]domain.Problem, 0, len(list))
	for _, p := range list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func contactOrEmpty(c *domain.ContactInfo) *domain.ContactInfo {
	if c == nil {
		return &domain.ContactInfo{}
	}
	return c
}
