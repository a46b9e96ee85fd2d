// Package cli is the terminal front end of the problem board: cobra
// commands for one-shot use and an interactive shell, both driving the same
// store and session.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/gateway"
	"github.com/tbourn/problem-board/internal/session"
	"github.com/tbourn/problem-board/internal/store"
)

// ErrNotOwner is returned before editing or deleting someone else's problem.
var ErrNotOwner = errors.New("you can only change problems you created")

// App wires a store and a session to an output stream.
type App struct {
	Store   *store.Store
	Session *session.Session
	out     io.Writer

	// last load, replayed by Retry
	lastLoad func(context.Context) error
}

// NewApp builds the client core over gw.
func NewApp(gw gateway.Gateway, debounce time.Duration, out io.Writer, log zerolog.Logger) *App {
	return &App{
		Store:   store.New(gw, store.WithDebounce(debounce), store.WithLogger(log)),
		Session: session.New(gw, session.WithLogger(log)),
		out:     out,
	}
}

// Close releases the store's timers.
func (a *App) Close() { a.Store.Close() }

// ListOptions selects and filters a listing.
type ListOptions struct {
	Mine   bool
	Search string
	Tags   []string
}

// List applies o's filters, loads the explore list (or the caller's own)
// and prints the filtered view.
func (a *App) List(ctx context.Context, o ListOptions) error {
	a.Store.SetSearchTerm(o.Search)
	a.Store.Flush()
	a.Store.SetSelectedTags(o.Tags)
	scope := store.ScopeAll
	if o.Mine {
		scope = store.ScopeMine
	}
	return a.Browse(ctx, scope)
}

// Browse loads scope and prints it through the store's current filters.
func (a *App) Browse(ctx context.Context, scope store.Scope) error {
	a.lastLoad = func(ctx context.Context) error { return a.Browse(ctx, scope) }
	if scope == store.ScopeMine {
		a.Store.LoadMine(ctx, a.Session.UserID())
	} else {
		a.Store.LoadAll(ctx)
	}
	if err := a.stateErr(); err != nil {
		return err
	}
	a.Render(scope)
	return nil
}

// Render prints the filtered view of scope without loading.
func (a *App) Render(scope store.Scope) {
	st := a.Store.Snapshot()
	var active []string
	if st.EffectiveSearch != "" {
		active = append(active, fmt.Sprintf("search %q", st.EffectiveSearch))
	}
	if len(st.SelectedTags) > 0 {
		active = append(active, "tags "+strings.Join(st.SelectedTags, "+"))
	}
	if len(active) > 0 {
		fmt.Fprintln(a.out, dimStyle.Render("filter: "+strings.Join(active, ", ")))
	}
	renderList(a.out, a.Store.Filtered(scope))
}

// Show loads and prints one problem.
func (a *App) Show(ctx context.Context, id string) error {
	a.lastLoad = func(ctx context.Context) error { return a.Show(ctx, id) }
	p, err := a.Store.LoadOne(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return &store.Error{Kind: store.NotFound, Message: fmt.Sprintf("%q is not a problem id", id)}
	}
	renderProblem(a.out, *p, a.Session.UserID())
	return nil
}

// Create submits a new problem as the signed-in user.
func (a *App) Create(ctx context.Context, f store.Fields) error {
	if strings.TrimSpace(f.Title) == "" || strings.TrimSpace(f.Description) == "" {
		return errors.New("title and description are required")
	}
	p, err := a.Store.Create(ctx, f, a.Session.UserID())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", okStyle.Render("created"), p.ID)
	return nil
}

// Edit applies change to problem id after confirming the caller owns it.
// change receives the current fields and edits them in place.
func (a *App) Edit(ctx context.Context, id string, change func(*store.Fields)) error {
	p, err := a.owned(ctx, id)
	if err != nil {
		return err
	}
	f := fieldsOf(*p)
	change(&f)
	if strings.TrimSpace(f.Title) == "" || strings.TrimSpace(f.Description) == "" {
		return errors.New("title and description are required")
	}
	if _, err := a.Store.Update(ctx, id, f); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", okStyle.Render("updated"), id)
	return nil
}

// Delete removes problem id after confirming the caller owns it.
func (a *App) Delete(ctx context.Context, id string) error {
	if _, err := a.owned(ctx, id); err != nil {
		return err
	}
	if err := a.Store.Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", okStyle.Render("deleted"), id)
	return nil
}

// Retry re-issues the last load, if any.
func (a *App) Retry(ctx context.Context) error {
	if a.lastLoad == nil {
		return errors.New("nothing to retry")
	}
	return a.lastLoad(ctx)
}

// SignIn starts a session. Cached user data from a previous identity is
// dropped.
func (a *App) SignIn(ctx context.Context, email, password string) error {
	if err := a.Session.SignIn(ctx, email, password); err != nil {
		return err
	}
	a.Store.ClearUserData()
	fmt.Fprintf(a.out, "signed in as %s\n", a.Session.Snapshot().User.Email)
	return nil
}

// SignUp registers and starts a session.
func (a *App) SignUp(ctx context.Context, email, password string) error {
	if err := a.Session.SignUp(ctx, email, password); err != nil {
		return err
	}
	a.Store.ClearUserData()
	fmt.Fprintf(a.out, "signed up as %s\n", a.Session.Snapshot().User.Email)
	return nil
}

// SignOut ends the session and drops the user's cached problems.
func (a *App) SignOut(ctx context.Context) error {
	if err := a.Session.SignOut(ctx); err != nil {
		return err
	}
	a.Store.ClearUserData()
	fmt.Fprintln(a.out, "signed out")
	return nil
}

// WhoAmI prints the signed-in identity.
func (a *App) WhoAmI() {
	u := a.Session.Snapshot().User
	if u == nil {
		fmt.Fprintln(a.out, "not signed in")
		return
	}
	fmt.Fprintf(a.out, "%s (%s)\n", u.Email, u.ID)
}

// owned loads id and checks the caller's ownership.
func (a *App) owned(ctx context.Context, id string) (*domain.Problem, error) {
	uid := a.Session.UserID()
	if uid == "" {
		return nil, &store.Error{Kind: store.AuthRequired, Message: "You must be logged in to change a problem"}
	}
	p, err := a.Store.LoadOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &store.Error{Kind: store.NotFound, Message: fmt.Sprintf("%q is not a problem id", id)}
	}
	if !p.OwnedBy(uid) {
		return nil, ErrNotOwner
	}
	return p, nil
}

func (a *App) stateErr() error {
	if e := a.Store.Snapshot().Error; e != nil {
		return e
	}
	return nil
}

func fieldsOf(p domain.Problem) store.Fields {
	c := p.Clone()
	return store.Fields{
		Title:        c.Title,
		Description:  c.Description,
		Requirements: c.Requirements,
		Tags:         c.Tags,
		ContactInfo:  c.ContactInfo,
	}
}
