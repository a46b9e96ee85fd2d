package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/problem-board/internal/config"
	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/gateway"
	"github.com/tbourn/problem-board/internal/store"
	"github.com/tbourn/problem-board/internal/sysutil"
)

// GatewayFactory builds the gateway commands talk to.
type GatewayFactory func(cfg config.Client, log zerolog.Logger) (gateway.Gateway, error)

// RESTGateway is the production factory: HTTP to problem-server with the
// session persisted in cfg.TokenFile.
func RESTGateway(cfg config.Client, log zerolog.Logger) (gateway.Gateway, error) {
	gw, err := gateway.NewREST(cfg.BaseURL, cfg.Timeout,
		gateway.WithTokenFile(cfg.TokenFile),
		gateway.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// Run executes problemctl with args and returns the process exit code.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, factory GatewayFactory) int {
	root := NewRootCmd(factory)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		renderError(errOut, err)
		return 1
	}
	return 0
}

type rootState struct {
	app *App
}

// defaultConfigPath is <user config dir>/problemctl/config.yaml, or
// problemctl.yaml in the working directory when that is unknown.
func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "problemctl", "config.yaml")
	}
	return "problemctl.yaml"
}

// NewRootCmd builds the problemctl command tree.
func NewRootCmd(factory GatewayFactory) *cobra.Command {
	var (
		configPath string
		baseURL    string
		tokenFile  string
		timeout    time.Duration
		verbose    bool
	)
	rs := &rootState{}

	root := &cobra.Command{
		Use:           "problemctl",
		Short:         "Browse, search and manage problems on a problem board",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(configPath)
			if err != nil {
				return fmt.Errorf("load config failed: %w", err)
			}
			cfg.BaseURL = strings.TrimRight(sysutil.FirstNonEmpty(baseURL, cfg.BaseURL), "/")
			cfg.TokenFile = sysutil.FirstNonEmpty(tokenFile, cfg.TokenFile)
			if timeout > 0 {
				cfg.Timeout = timeout
			}

			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log := sysutil.NewLogger(cmd.ErrOrStderr(), true).Level(level)

			gw, err := factory(cfg, log)
			if err != nil {
				return err
			}
			rs.app = NewApp(gw, cfg.SearchDebounce, cmd.OutOrStdout(), log)
			rs.app.Session.Fetch(cmd.Context())
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rs.app != nil {
				rs.app.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", defaultConfigPath(), "Path to client config file (YAML)")
	pf.StringVar(&baseURL, "base-url", "", "Override the service base URL")
	pf.StringVar(&tokenFile, "token-file", "", "Override the session token file")
	pf.DurationVar(&timeout, "timeout", 0, "Override the HTTP timeout (e.g. 10s)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newSignUpCmd(rs),
		newSignInCmd(rs),
		newSignOutCmd(rs),
		newWhoAmICmd(rs),
		newListCmd(rs),
		newShowCmd(rs),
		newCreateCmd(rs),
		newEditCmd(rs),
		newDeleteCmd(rs),
		newShellCmd(rs),
	)
	return root
}

// ----- auth -----

func credentialFlags(cmd *cobra.Command, email, password *string) {
	cmd.Flags().StringVar(email, "email", "", "Account email")
	cmd.Flags().StringVar(password, "password", "", "Account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
}

func readPassword(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password failed: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func newSignUpCmd(rs *rootState) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return rs.app.SignUp(cmd.Context(), email, pw)
		},
	}
	credentialFlags(cmd, &email, &password)
	return cmd
}

func newSignInCmd(rs *rootState) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:     "signin",
		Aliases: []string{"login"},
		Short:   "Sign in with email and password",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return rs.app.SignIn(cmd.Context(), email, pw)
		},
	}
	credentialFlags(cmd, &email, &password)
	return cmd
}

func newSignOutCmd(rs *rootState) *cobra.Command {
	return &cobra.Command{
		Use:     "signout",
		Aliases: []string{"logout"},
		Short:   "Forget the current session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rs.app.SignOut(cmd.Context())
		},
	}
}

func newWhoAmICmd(rs *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			rs.app.WhoAmI()
		},
	}
}

// ----- problems -----

func newListCmd(rs *rootState) *cobra.Command {
	var o ListOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List problems, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rs.app.List(cmd.Context(), o)
		},
	}
	cmd.Flags().BoolVar(&o.Mine, "mine", false, "Only problems you created")
	cmd.Flags().StringVarP(&o.Search, "search", "s", "", "Case-insensitive match on title or description")
	cmd.Flags().StringSliceVarP(&o.Tags, "tag", "t", nil, "Require tag (repeatable; all must match)")
	return cmd
}

func newShowCmd(rs *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rs.app.Show(cmd.Context(), args[0])
		},
	}
}

// fieldFlags binds the editable problem fields to cmd.
type fieldFlags struct {
	title, description, requirements string
	tags                             []string
	email, whatsapp, phone           string
	telegram, other, preferred       string
}

func (ff *fieldFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&ff.title, "title", "", "Title")
	f.StringVar(&ff.description, "description", "", "Description")
	f.StringVar(&ff.requirements, "requirements", "", "Requirements (empty clears)")
	f.StringSliceVarP(&ff.tags, "tag", "t", nil, "Tag (repeatable)")
	f.StringVar(&ff.email, "contact-email", "", "Contact email")
	f.StringVar(&ff.whatsapp, "contact-whatsapp", "", "Contact WhatsApp")
	f.StringVar(&ff.phone, "contact-phone", "", "Contact phone")
	f.StringVar(&ff.telegram, "contact-telegram", "", "Contact Telegram")
	f.StringVar(&ff.other, "contact-other", "", "Other contact channel")
	f.StringVar(&ff.preferred, "contact-preferred", "", "Preferred contact method (email|whatsapp|phone|telegram|other)")
}

// apply copies the flags the user set onto dst.
func (ff *fieldFlags) apply(cmd *cobra.Command, dst *store.Fields) {
	changed := cmd.Flags().Changed
	if changed("title") {
		dst.Title = ff.title
	}
	if changed("description") {
		dst.Description = ff.description
	}
	if changed("requirements") {
		dst.Requirements = optional(ff.requirements)
	}
	if changed("tag") {
		dst.Tags = domain.CleanTags(ff.tags)
	}

	contact := domain.ContactInfo{}
	if dst.ContactInfo != nil {
		contact = *dst.ContactInfo
	}
	touched := false
	for _, ch := range []struct {
		flag string
		dst  *string
		src  string
	}{
		{"contact-email", &contact.Email, ff.email},
		{"contact-whatsapp", &contact.WhatsApp, ff.whatsapp},
		{"contact-phone", &contact.Phone, ff.phone},
		{"contact-telegram", &contact.Telegram, ff.telegram},
		{"contact-other", &contact.Other, ff.other},
	} {
		if changed(ch.flag) {
			*ch.dst = ch.src
			touched = true
		}
	}
	if changed("contact-preferred") {
		contact.PreferredMethod = domain.ContactMethod(ff.preferred)
		touched = true
	}
	if touched {
		dst.ContactInfo = &contact
	}
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func newCreateCmd(rs *rootState) *cobra.Command {
	var ff fieldFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f store.Fields
			ff.apply(cmd, &f)
			return rs.app.Create(cmd.Context(), f)
		},
	}
	ff.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newEditCmd(rs *rootState) *cobra.Command {
	var ff fieldFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a problem you created; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rs.app.Edit(cmd.Context(), args[0], func(f *store.Fields) {
				ff.apply(cmd, f)
			})
		},
	}
	ff.bind(cmd)
	return cmd
}

func newDeleteCmd(rs *rootState) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a problem you created",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rs.app.Delete(cmd.Context(), args[0])
		},
	}
}

func newShellCmd(rs *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive problem board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return NewShell(rs.app, cmd.InOrStdin(), cmd.OutOrStdout()).Run(cmd.Context())
		},
	}
}
