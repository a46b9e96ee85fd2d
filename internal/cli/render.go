package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	errStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

const timeLayout = "2006-01-02 15:04"

func renderList(w io.Writer, problems []domain.Problem) {
	if len(problems) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no problems match"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTITLE\tTAGS")
	for _, p := range problems {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			p.ID, p.CreatedAt.Local().Format(timeLayout), truncate(p.Title, 48), strings.Join(p.Tags, ","))
	}
	_ = tw.Flush()
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d problem(s)", len(problems))))
}

func renderProblem(w io.Writer, p domain.Problem, viewer string) {
	fmt.Fprintln(w, titleStyle.Render(p.Title))
	meta := fmt.Sprintf("id %s  created %s", p.ID, p.CreatedAt.Local().Format(timeLayout))
	if !p.UpdatedAt.IsZero() && !p.UpdatedAt.Equal(p.CreatedAt) {
		meta += "  updated " + p.UpdatedAt.Local().Format(timeLayout)
	}
	if p.OwnedBy(viewer) {
		meta += "  (yours)"
	}
	fmt.Fprintln(w, dimStyle.Render(meta))
	if len(p.Tags) > 0 {
		tags := make([]string, len(p.Tags))
		for i, t := range p.Tags {
			tags[i] = tagStyle.Render("#" + t)
		}
		fmt.Fprintln(w, strings.Join(tags, " "))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, p.Description)
	if p.Requirements != nil && *p.Requirements != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Requirements:")
		fmt.Fprintln(w, *p.Requirements)
	}
	if c := p.ContactInfo; !c.IsEmpty() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Contact:")
		for _, ch := range []struct {
			method domain.ContactMethod
			value  string
		}{
			{domain.ContactEmail, c.Email},
			{domain.ContactWhatsApp, c.WhatsApp},
			{domain.ContactPhone, c.Phone},
			{domain.ContactTelegram, c.Telegram},
			{domain.ContactOther, c.Other},
		} {
			if ch.value == "" {
				continue
			}
			line := fmt.Sprintf("  %-9s %s", ch.method, ch.value)
			if ch.method == c.PreferredMethod {
				line += " (preferred)"
			}
			fmt.Fprintln(w, line)
		}
	}
}

// renderError prints err by kind. Not found gets its own wording so a
// missing record is never confused with a failed request.
func renderError(w io.Writer, err error) {
	var se *store.Error
	if !errors.As(err, &se) {
		fmt.Fprintf(w, "%s %v\n", errStyle.Render("error:"), err)
		return
	}
	switch se.Kind {
	case store.NotFound:
		fmt.Fprintf(w, "%s %s\n", errStyle.Render("not found:"), se.Message)
	case store.NotConfigured:
		fmt.Fprintf(w, "%s %s\n", errStyle.Render("not configured:"), se.Message)
	case store.AuthRequired:
		fmt.Fprintf(w, "%s %s\n", errStyle.Render("sign in required:"), se.Message)
	default:
		fmt.Fprintf(w, "%s %s\n", errStyle.Render("error:"), se.Message)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
