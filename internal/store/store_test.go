package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/gateway"
)

// fakeGateway is an in-memory gateway.Gateway.
type fakeGateway struct {
	mu   sync.Mutex
	rows []domain.Problem
	seq  int

	who    *domain.Identity
	whoErr error

	listErr, getErr, insertErr, updateErr, deleteErr error

	inserted []gateway.NewProblem
	updates  []gateway.ProblemUpdate
	lists    []gateway.ListQuery
}

func (f *fakeGateway) ListProblems(_ context.Context, q gateway.ListQuery) ([]domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, q)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []domain.Problem{}
	for _, p := range f.rows {
		if q.UserID == "" || p.UserID == q.UserID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (f *fakeGateway) GetProblem(_ context.Context, id string) (*domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, p := range f.rows {
		if p.ID == id {
			c := p.Clone()
			return &c, nil
		}
	}
	return nil, &gateway.Error{Status: http.StatusNotFound, Code: "not_found", Message: "problem not found"}
}

func (f *fakeGateway) InsertProblem(_ context.Context, np gateway.NewProblem) (*domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, np)
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.seq++
	p := domain.Problem{
		ID:           fmt.Sprintf("new-%d", f.seq),
		CreatedAt:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		UserID:       np.UserID,
		Title:        np.Title,
		Description:  np.Description,
		Requirements: np.Requirements,
		Tags:         np.Tags,
		ContactInfo:  np.ContactInfo,
	}
	f.rows = append(f.rows, p)
	c := p.Clone()
	return &c, nil
}

func (f *fakeGateway) UpdateProblem(_ context.Context, id string, u gateway.ProblemUpdate) (*domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].Title = u.Title
			f.rows[i].Description = u.Description
			f.rows[i].Requirements = u.Requirements
			f.rows[i].Tags = u.Tags
			f.rows[i].ContactInfo = u.ContactInfo
			f.rows[i].UpdatedAt = u.UpdatedAt
			c := f.rows[i].Clone()
			return &c, nil
		}
	}
	return nil, &gateway.Error{Status: http.StatusNotFound, Code: "not_found", Message: "problem not found"}
}

func (f *fakeGateway) DeleteProblem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return &gateway.Error{Status: http.StatusNotFound, Code: "not_found", Message: "problem not found"}
}

func (f *fakeGateway) CurrentUser(context.Context) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.who, f.whoErr
}

func (f *fakeGateway) SignIn(context.Context, string, string) (*domain.Identity, error) {
	return f.who, nil
}

func (f *fakeGateway) SignUp(context.Context, string, string) (*domain.Identity, error) {
	return f.who, nil
}

func (f *fakeGateway) SignOut(context.Context) error { return nil }

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func problem(id, owner, title string, created time.Time, tags ...string) domain.Problem {
	return domain.Problem{ID: id, UserID: owner, Title: title, Description: title + " details", CreatedAt: created, Tags: tags}
}

func newTestStore(gw *fakeGateway) *Store {
	return New(gw, WithDebounce(0), WithLogger(zerolog.Nop()))
}

func ids(ps []domain.Problem) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func missingTable() error {
	return &gateway.Error{Status: http.StatusServiceUnavailable, Code: gateway.CodeUndefinedTable, Message: `relation "problems" does not exist`}
}

// ----- loads -----

func TestLoadAll_NewestFirstAndSearch(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{
		problem("1", "u1", "Bug X", day(1), "backend"),
		problem("2", "u2", "Feature Y", day(2), "frontend"),
	}}
	s := newTestStore(gw)

	s.LoadAll(context.Background())
	st := s.Snapshot()
	require.Nil(t, st.Error)
	assert.Equal(t, []string{"2", "1"}, ids(st.AllProblems))
	assert.False(t, st.IsLoading)
	assert.Equal(t, Done, st.Ops[OpLoadAll].Phase)

	s.SetSearchTerm("bug")
	assert.Equal(t, []string{"1"}, ids(s.Filtered(ScopeAll)))
}

func TestLoadAll_TiesAndDuplicates(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{
		problem("a", "u1", "A", day(3)),
		problem("b", "u1", "B", day(3)),
		problem("a", "u1", "A again", day(3)),
		problem("c", "u1", "C", day(1)),
	}}
	s := newTestStore(gw)
	s.LoadAll(context.Background())

	st := s.Snapshot()
	assert.Equal(t, []string{"b", "a", "c"}, ids(st.AllProblems))
	assert.Equal(t, "A", st.AllProblems[1].Title, "first row per id wins")
}

func TestLoadAll_FailureKeepsPreviousList(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "Bug X", day(1))}}
	s := newTestStore(gw)
	s.LoadAll(context.Background())

	gw.listErr = errors.New("connection refused")
	s.LoadAll(context.Background())

	st := s.Snapshot()
	require.NotNil(t, st.Error)
	assert.Equal(t, Generic, st.Error.Kind)
	assert.Equal(t, "connection refused", st.Error.Message)
	assert.Equal(t, []string{"1"}, ids(st.AllProblems))
	assert.True(t, st.Ops[OpLoadAll].Failed())
	assert.False(t, st.IsLoading)
}

func TestLoadMine_ScopesToOwner(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{
		problem("1", "u1", "Mine", day(1)),
		problem("2", "u2", "Theirs", day(2)),
		problem("3", "u1", "Also mine", day(3)),
	}}
	s := newTestStore(gw)

	s.LoadMine(context.Background(), "u1")
	st := s.Snapshot()
	require.Nil(t, st.Error)
	assert.Equal(t, []string{"3", "1"}, ids(st.UserProblems))
	for _, p := range st.UserProblems {
		assert.Equal(t, "u1", p.UserID)
	}
	assert.Equal(t, gateway.ListQuery{UserID: "u1"}, gw.lists[0])
}

func TestLoadMine_EmptyUserFailsWithoutCall(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestStore(gw)

	s.LoadMine(context.Background(), "")
	st := s.Snapshot()
	require.NotNil(t, st.Error)
	assert.Equal(t, AuthRequired, st.Error.Kind)
	assert.Empty(t, gw.lists)
	assert.False(t, st.IsLoading)
}

func TestLoadOne(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "Bug X", day(1))}}
	s := newTestStore(gw)
	ctx := context.Background()

	p, err := s.LoadOne(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Bug X", p.Title)
	require.NotNil(t, s.Snapshot().CurrentProblem)

	p, err = s.LoadOne(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, s.Snapshot().CurrentProblem)

	_, _ = s.LoadOne(ctx, "1")
	_, err = s.LoadOne(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &Error{Kind: NotFound}))
	st := s.Snapshot()
	assert.Nil(t, st.CurrentProblem, "not found clears the current problem")
	assert.Equal(t, NotFound, st.Error.Kind)
}

func TestLoadOne_OtherFailureKeepsCurrent(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "Bug X", day(1))}}
	s := newTestStore(gw)
	ctx := context.Background()

	_, err := s.LoadOne(ctx, "1")
	require.NoError(t, err)

	gw.getErr = errors.New("timeout")
	_, err = s.LoadOne(ctx, "1")
	require.Error(t, err)
	assert.Equal(t, Generic, KindOf(err))
	require.NotNil(t, s.Snapshot().CurrentProblem)
}

func TestMissingTable_EveryOperation(t *testing.T) {
	gw := &fakeGateway{
		who:       &domain.Identity{ID: "u1"},
		listErr:   missingTable(),
		getErr:    missingTable(),
		insertErr: missingTable(),
		updateErr: missingTable(),
		deleteErr: errors.New(`pq: relation "problems" does not exist`),
	}
	s := newTestStore(gw)
	ctx := context.Background()

	check := func(name string) {
		t.Helper()
		st := s.Snapshot()
		require.NotNil(t, st.Error, name)
		assert.Equal(t, NotConfigured, st.Error.Kind, name)
		assert.Equal(t, MsgNotConfigured, st.Error.Message, name)
	}

	s.LoadAll(ctx)
	check("load all")
	s.LoadMine(ctx, "u1")
	check("load mine")
	_, _ = s.LoadOne(ctx, "1")
	check("load one")
	_, err := s.Create(ctx, Fields{Title: "T", Description: "D"}, "u1")
	assert.Equal(t, NotConfigured, KindOf(err))
	check("create")
	_, _ = s.Update(ctx, "1", Fields{Title: "T", Description: "D"})
	check("update")
	_ = s.Remove(ctx, "1")
	check("remove")
}

// ----- mutations -----

func TestCreate_PrependsToBothLists(t *testing.T) {
	gw := &fakeGateway{
		who:  &domain.Identity{ID: "u1"},
		rows: []domain.Problem{problem("1", "u1", "Old", day(1))},
	}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)
	s.LoadMine(ctx, "u1")

	p, err := s.Create(ctx, Fields{Title: "T", Description: "D"}, "u1")
	require.NoError(t, err)

	st := s.Snapshot()
	assert.Equal(t, p.ID, st.AllProblems[0].ID)
	assert.Equal(t, p.ID, st.UserProblems[0].ID)
	assert.Len(t, st.AllProblems, 2)

	require.Len(t, gw.inserted, 1)
	sent := gw.inserted[0]
	assert.Equal(t, "u1", sent.UserID)
	assert.NotNil(t, sent.Tags)
	assert.Empty(t, sent.Tags)
	require.NotNil(t, sent.ContactInfo)
	assert.True(t, sent.ContactInfo.IsEmpty())
}

func TestCreate_RequiresIdentity(t *testing.T) {
	gw := &fakeGateway{who: &domain.Identity{ID: "u1"}, rows: []domain.Problem{problem("1", "u1", "Old", day(1))}}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)
	before := s.Snapshot()

	_, err := s.Create(ctx, Fields{Title: "T", Description: "D"}, "")
	require.Error(t, err)
	assert.Equal(t, AuthRequired, KindOf(err))
	assert.Equal(t, "You must be logged in to create a problem", err.Error())

	after := s.Snapshot()
	assert.Equal(t, ids(before.AllProblems), ids(after.AllProblems))
	assert.Empty(t, after.UserProblems)
	assert.Empty(t, gw.inserted)
}

func TestCreate_SessionChecks(t *testing.T) {
	cases := []struct {
		name   string
		who    *domain.Identity
		whoErr error
		want   string
	}{
		{"no session", nil, nil, "You must be logged in to create a problem"},
		{"other user", &domain.Identity{ID: "u2"}, nil, "User authentication error: ID mismatch"},
		{"lookup failed", nil, &gateway.Error{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "token expired"}, "Authentication error: token expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{who: tc.who, whoErr: tc.whoErr}
			s := newTestStore(gw)

			_, err := s.Create(context.Background(), Fields{Title: "T", Description: "D"}, "u1")
			require.Error(t, err)
			assert.Equal(t, AuthRequired, KindOf(err))
			assert.Equal(t, tc.want, err.Error())
			assert.Empty(t, gw.inserted)
			assert.Empty(t, s.Snapshot().AllProblems)
		})
	}
}

func TestCreate_GenericFailureIsPrefixed(t *testing.T) {
	gw := &fakeGateway{who: &domain.Identity{ID: "u1"}, insertErr: errors.New("boom")}
	s := newTestStore(gw)

	_, err := s.Create(context.Background(), Fields{Title: "T", Description: "D"}, "u1")
	require.Error(t, err)
	assert.Equal(t, "Failed to create problem: boom", err.Error())
	assert.Equal(t, "Failed to create problem: boom", s.Snapshot().Error.Message)
}

func TestUpdate_ConsistentEverywhere(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{
		problem("1", "u1", "Old", day(1), "a"),
		problem("2", "u1", "Other", day(2)),
	}}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)
	s.LoadMine(ctx, "u1")
	_, err := s.LoadOne(ctx, "1")
	require.NoError(t, err)

	_, err = s.Update(ctx, "1", Fields{Title: "New", Description: "D"})
	require.NoError(t, err)

	st := s.Snapshot()
	for _, list := range [][]domain.Problem{st.AllProblems, st.UserProblems} {
		for _, p := range list {
			if p.ID == "1" {
				assert.Equal(t, "New", p.Title)
				assert.Empty(t, p.Tags)
			}
		}
	}
	require.NotNil(t, st.CurrentProblem)
	assert.Equal(t, "New", st.CurrentProblem.Title)
	require.Len(t, gw.updates, 1)
	assert.False(t, gw.updates[0].UpdatedAt.IsZero())
	assert.NotNil(t, gw.updates[0].Tags)
}

func TestUpdate_LeavesOtherCurrentProblem(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{
		problem("1", "u1", "One", day(1)),
		problem("2", "u1", "Two", day(2)),
	}}
	s := newTestStore(gw)
	ctx := context.Background()
	_, err := s.LoadOne(ctx, "2")
	require.NoError(t, err)

	_, err = s.Update(ctx, "1", Fields{Title: "New", Description: "D"})
	require.NoError(t, err)
	assert.Equal(t, "Two", s.Snapshot().CurrentProblem.Title)
}

func TestUpdate_FailureLeavesData(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "Old", day(1))}}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)

	gw.updateErr = &gateway.Error{Status: http.StatusForbidden, Code: "forbidden", Message: "not the owner"}
	_, err := s.Update(ctx, "1", Fields{Title: "New", Description: "D"})
	require.Error(t, err)
	assert.Equal(t, AuthRequired, KindOf(err))
	assert.Equal(t, "Old", s.Snapshot().AllProblems[0].Title)
}

func TestRemove_PurgesEverywhere(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{
		problem("1", "u1", "One", day(1)),
		problem("2", "u1", "Two", day(2)),
	}}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)
	s.LoadMine(ctx, "u1")
	_, err := s.LoadOne(ctx, "1")
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "1"))

	st := s.Snapshot()
	assert.Equal(t, []string{"2"}, ids(st.AllProblems))
	assert.Equal(t, []string{"2"}, ids(st.UserProblems))
	assert.Nil(t, st.CurrentProblem)
}

func TestRemove_Failure(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "One", day(1))}}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)

	err := s.Remove(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, NotFound, KindOf(err))
	assert.Equal(t, []string{"1"}, ids(s.Snapshot().AllProblems))
}

func TestMutations_NeverDuplicateIDs(t *testing.T) {
	gw := &fakeGateway{who: &domain.Identity{ID: "u1"}}
	s := newTestStore(gw)
	ctx := context.Background()

	var created []string
	for i := 0; i < 5; i++ {
		p, err := s.Create(ctx, Fields{Title: fmt.Sprintf("T%d", i), Description: "D"}, "u1")
		require.NoError(t, err)
		created = append(created, p.ID)
	}
	_, err := s.Update(ctx, created[1], Fields{Title: "edited", Description: "D"})
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, created[3]))
	s.LoadAll(ctx)
	s.LoadMine(ctx, "u1")
	_, err = s.Update(ctx, created[0], Fields{Title: "edited again", Description: "D"})
	require.NoError(t, err)

	st := s.Snapshot()
	for _, list := range [][]domain.Problem{st.AllProblems, st.UserProblems} {
		seen := map[string]bool{}
		for _, p := range list {
			assert.False(t, seen[p.ID], "duplicate id %s", p.ID)
			seen[p.ID] = true
		}
		assert.Len(t, list, 4)
	}
}

// ----- errors and status -----

func TestPendingOperationClearsError(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("down")}
	s := newTestStore(gw)
	ctx := context.Background()

	s.LoadAll(ctx)
	require.NotNil(t, s.Snapshot().Error)

	gw.listErr = nil
	s.LoadAll(ctx)
	assert.Nil(t, s.Snapshot().Error)
}

func TestClearError(t *testing.T) {
	gw := &fakeGateway{listErr: errors.New("down"), rows: []domain.Problem{problem("1", "u1", "One", day(1))}}
	s := newTestStore(gw)
	s.LoadAll(context.Background())
	require.NotNil(t, s.Snapshot().Error)

	s.ClearError()
	st := s.Snapshot()
	assert.Nil(t, st.Error)
	assert.True(t, st.Ops[OpLoadAll].Failed(), "op status keeps its outcome")
}

func TestClearUserData(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "One", day(1))}}
	s := newTestStore(gw)
	ctx := context.Background()
	s.LoadAll(ctx)
	s.LoadMine(ctx, "u1")
	_, _ = s.LoadOne(ctx, "1")

	s.ClearUserData()
	st := s.Snapshot()
	assert.Empty(t, st.UserProblems)
	assert.Nil(t, st.CurrentProblem)
	assert.Len(t, st.AllProblems, 1)
}

func TestSnapshotIsACopy(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "One", day(1), "a")}}
	s := newTestStore(gw)
	s.LoadAll(context.Background())

	st := s.Snapshot()
	st.AllProblems[0].Title = "mutated"
	st.AllProblems[0].Tags[0] = "z"
	st.Ops[OpLoadAll] = OpStatus{}

	again := s.Snapshot()
	assert.Equal(t, "One", again.AllProblems[0].Title)
	assert.Equal(t, "a", again.AllProblems[0].Tags[0])
	assert.Equal(t, Done, again.Ops[OpLoadAll].Phase)
}

func TestSubscribe(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "One", day(1))}}
	s := newTestStore(gw)

	var mu sync.Mutex
	var seen []State
	unsub := s.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	s.LoadAll(context.Background())
	mu.Lock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsLoading)
	assert.Equal(t, Pending, seen[0].Ops[OpLoadAll].Phase)
	assert.False(t, seen[1].IsLoading)
	assert.Len(t, seen[1].AllProblems, 1)
	mu.Unlock()

	unsub()
	s.ClearError()
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
		msg  string
	}{
		{"undefined table code", &gateway.Error{Status: 503, Code: gateway.CodeUndefinedTable, Message: "x"}, NotConfigured, MsgNotConfigured},
		{"relation message", errors.New(`relation "public.problems" does not exist`), NotConfigured, MsgNotConfigured},
		{"unauthorized", &gateway.Error{Status: 401, Code: "unauthorized", Message: "missing token"}, AuthRequired, "missing token"},
		{"forbidden", &gateway.Error{Status: 403, Code: "forbidden", Message: "not yours"}, AuthRequired, "not yours"},
		{"not found", &gateway.Error{Status: 404, Code: "not_found", Message: "problem not found"}, NotFound, "problem not found"},
		{"other status", &gateway.Error{Status: 500, Code: "internal_error", Message: "boom"}, Generic, "boom"},
		{"plain", fmt.Errorf("wrap: %w", errors.New("dial tcp")), Generic, "wrap: dial tcp"},
		{"already classified", &Error{Kind: NotFound, Message: "gone"}, NotFound, "gone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := Classify(tc.err)
			require.NotNil(t, e)
			assert.Equal(t, tc.kind, e.Kind)
			assert.Equal(t, tc.msg, e.Message)
		})
	}
	assert.Nil(t, Classify(nil))
	assert.Equal(t, Generic, KindOf(errors.New("x")))
}

func TestKindAndPhaseStrings(t *testing.T) {
	assert.Equal(t, "generic", Generic.String())
	assert.Equal(t, "not_configured", NotConfigured.String())
	assert.Equal(t, "auth_required", AuthRequired.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "done", Done.String())
}

func TestConcurrentLoadsKeepLoadingUntilAllFinish(t *testing.T) {
	gw := &fakeGateway{rows: []domain.Problem{problem("1", "u1", "One", day(1))}}
	s := newTestStore(gw)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.LoadAll(context.Background())
			s.LoadMine(context.Background(), "u1")
		}()
	}
	wg.Wait()

	st := s.Snapshot()
	assert.False(t, st.IsLoading)
	assert.Equal(t, Done, st.Ops[OpLoadAll].Phase)
	assert.Equal(t, Done, st.Ops[OpLoadMine].Phase)
	assert.Len(t, st.AllProblems, 1)
}
