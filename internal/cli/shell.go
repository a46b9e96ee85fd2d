package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/store"
)

// Shell is the interactive problem board. It keeps one App for the whole
// session, so filters and loaded lists carry over between commands.
type Shell struct {
	app    *App
	reader *bufio.Reader
	out    *bufio.Writer
	scope  store.Scope
}

// NewShell reads commands from in and writes to out.
func NewShell(app *App, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		app:    app,
		reader: bufio.NewReader(in),
		out:    bufio.NewWriter(out),
	}
}

// Run reads and executes lines until exit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	defer func() { _ = s.out.Flush() }()

	// App writes through the shell's buffer so output stays ordered.
	prev := s.app.out
	s.app.out = s.out
	defer func() { s.app.out = prev }()

	s.printLine("problem board shell; type \"help\" for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, _ = s.out.WriteString(s.prompt())
		_ = s.out.Flush()

		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input failed: %w", err)
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)
		if line != "" {
			if quit := s.exec(ctx, line); quit {
				s.printLine("bye")
				return nil
			}
		}
		if eof {
			s.printLine("")
			return nil
		}
	}
}

func (s *Shell) prompt() string {
	if u := s.app.Session.Snapshot().User; u != nil {
		return u.Email + "> "
	}
	return "problems> "
}

// exec runs one line and reports whether the shell should stop.
func (s *Shell) exec(ctx context.Context, line string) bool {
	tokens, err := shlex.Split(line)
	if err != nil {
		s.printLine("parse command failed: %v", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}
	cmd, args := strings.ToLower(tokens[0]), tokens[1:]

	switch cmd {
	case "exit", "quit":
		return true
	case "help", "?":
		s.printHelp()
		return false
	}

	if err := s.dispatch(ctx, cmd, args); err != nil {
		renderError(s.out, err)
		var se *store.Error
		if errors.As(err, &se) && se.Kind == store.Generic {
			s.printLine("type \"retry\" to try again")
		}
	}
	_ = s.out.Flush()
	return false
}

var errUsage = errors.New("usage")

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func (s *Shell) dispatch(ctx context.Context, cmd string, args []string) error {
	a := s.app
	switch cmd {
	case "explore", "all":
		s.scope = store.ScopeAll
		return a.Browse(ctx, s.scope)
	case "mine":
		s.scope = store.ScopeMine
		return a.Browse(ctx, s.scope)
	case "search":
		a.Store.SetSearchTerm(strings.Join(args, " "))
		a.Store.Flush()
		a.Render(s.scope)
		return nil
	case "tag":
		if len(args) == 0 {
			return usage("tag <name>...")
		}
		for _, t := range args {
			a.Store.ToggleTag(t)
		}
		a.Render(s.scope)
		return nil
	case "tags":
		s.printTags()
		return nil
	case "clear":
		a.Store.ClearFilters()
		a.Store.ClearError()
		a.Render(s.scope)
		return nil
	case "show", "open":
		if len(args) != 1 {
			return usage("show <id>")
		}
		return a.Show(ctx, args[0])
	case "new", "create":
		params, err := parseParams(args)
		if err != nil {
			return err
		}
		var f store.Fields
		if err := applyParams(params, &f); err != nil {
			return err
		}
		if err := s.promptMissing(&f); err != nil {
			return err
		}
		return a.Create(ctx, f)
	case "edit":
		if len(args) < 2 {
			return usage("edit <id> key=value...")
		}
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		if err := applyParams(params, &store.Fields{}); err != nil {
			return err
		}
		return a.Edit(ctx, args[0], func(f *store.Fields) { _ = applyParams(params, f) })
	case "delete", "rm":
		if len(args) != 1 {
			return usage("delete <id>")
		}
		return a.Delete(ctx, args[0])
	case "retry":
		return a.Retry(ctx)
	case "signin", "login", "signup":
		if len(args) < 1 || len(args) > 2 {
			return usage("%s <email> [password]", cmd)
		}
		var pw string
		if len(args) == 2 {
			pw = args[1]
		} else {
			v, err := s.promptValue("password")
			if err != nil {
				return err
			}
			pw = v
		}
		if cmd == "signup" {
			return a.SignUp(ctx, args[0], pw)
		}
		return a.SignIn(ctx, args[0], pw)
	case "signout", "logout":
		return a.SignOut(ctx)
	case "whoami":
		a.WhoAmI()
		return nil
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func (s *Shell) printTags() {
	st := s.app.Store.Snapshot()
	tags := s.app.Store.AvailableTags(s.scope)
	if len(tags) == 0 {
		s.printLine("%s", dimStyle.Render("no tags"))
		return
	}
	selected := map[string]bool{}
	for _, t := range st.SelectedTags {
		selected[t] = true
	}
	for _, t := range tags {
		mark := " "
		if selected[t] {
			mark = "*"
		}
		s.printLine("%s %s", mark, tagStyle.Render(t))
	}
}

// parseParams turns key=value tokens into a map.
func parseParams(tokens []string) (map[string]string, error) {
	params := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			return nil, usage("invalid param %q, want key=value", tok)
		}
		params[strings.ToLower(k)] = v
	}
	return params, nil
}

// applyParams copies params onto f. Unknown keys are rejected so a typo
// never silently drops a value.
func applyParams(params map[string]string, f *store.Fields) error {
	contact := domain.ContactInfo{}
	if f.ContactInfo != nil {
		contact = *f.ContactInfo
	}
	touched := false
	for k, v := range params {
		switch k {
		case "title":
			f.Title = v
		case "description", "desc":
			f.Description = v
		case "requirements", "reqs":
			f.Requirements = optional(v)
		case "tags":
			f.Tags = domain.CleanTags(strings.Split(v, ","))
		case "email":
			contact.Email, touched = v, true
		case "whatsapp":
			contact.WhatsApp, touched = v, true
		case "phone":
			contact.Phone, touched = v, true
		case "telegram":
			contact.Telegram, touched = v, true
		case "other":
			contact.Other, touched = v, true
		case "preferred":
			contact.PreferredMethod, touched = domain.ContactMethod(v), true
		default:
			return usage("unknown field %q", k)
		}
	}
	if touched {
		f.ContactInfo = &contact
	}
	return nil
}

func (s *Shell) promptMissing(f *store.Fields) error {
	if strings.TrimSpace(f.Title) == "" {
		v, err := s.promptValue("title")
		if err != nil {
			return err
		}
		f.Title = v
	}
	if strings.TrimSpace(f.Description) == "" {
		v, err := s.promptValue("description")
		if err != nil {
			return err
		}
		f.Description = v
	}
	return nil
}

func (s *Shell) promptValue(prompt string) (string, error) {
	_, _ = s.out.WriteString(prompt + ": ")
	_ = s.out.Flush()
	line, err := s.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Shell) printHelp() {
	s.printLine("browse:  explore | mine | show <id> | retry")
	s.printLine("filter:  search <text> | tag <name>... | tags | clear")
	s.printLine("change:  create key=value... | edit <id> key=value... | delete <id>")
	s.printLine("         keys: title description requirements tags=a,b email phone whatsapp telegram other preferred")
	s.printLine("account: signup|signin <email> [password] | signout | whoami")
	s.printLine("system:  help | exit")
	s.printLine("example: create title=\"Flaky CI\" description=\"Tests time out\" tags=ci,go")
}

func (s *Shell) printLine(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
	_ = s.out.Flush()
}
