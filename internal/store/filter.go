package store

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/tbourn/problem-board/internal/domain"
)

// Scope selects the base collection of a filtered view.
type Scope int

const (
	// ScopeAll filters AllProblems (explore).
	ScopeAll Scope = iota
	// ScopeMine filters UserProblems.
	ScopeMine
)

// SetSearchTerm records text immediately and applies it to filtering once
// no newer term has arrived for the debounce period.
func (s *Store) SetSearchTerm(text string) {
	s.mu.Lock()
	s.st.SearchTerm = text
	s.stopTimerLocked()
	if s.debounce <= 0 {
		s.st.EffectiveSearch = text
		s.mu.Unlock()
		s.notify()
		return
	}
	gen := s.searchGen
	s.timer = time.AfterFunc(s.debounce, func() { s.settle(gen) })
	s.mu.Unlock()
	s.notify()
}

// settle applies the raw term for timer generation gen. A timer superseded
// by a newer term, a Flush or ClearFilters does nothing.
func (s *Store) settle(gen uint64) {
	s.mu.Lock()
	if gen != s.searchGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	changed := s.applySearchLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Flush applies a pending search term now.
func (s *Store) Flush() {
	s.mu.Lock()
	s.stopTimerLocked()
	changed := s.applySearchLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Close stops the debounce timer. The store stays usable.
func (s *Store) Close() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
}

// stopTimerLocked cancels the pending timer and invalidates one that has
// already fired but not yet taken mu.
func (s *Store) stopTimerLocked() {
	s.searchGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) applySearchLocked() bool {
	changed := s.st.EffectiveSearch != s.st.SearchTerm
	s.st.EffectiveSearch = s.st.SearchTerm
	return changed
}

// ToggleTag adds tag to the selection if absent and removes it if present.
func (s *Store) ToggleTag(tag string) {
	s.mu.Lock()
	out := make([]string, 0, len(s.st.SelectedTags)+1)
	found := false
	for _, t := range s.st.SelectedTags {
		if t == tag {
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		out = append(out, tag)
	}
	s.st.SelectedTags = out
	s.mu.Unlock()
	s.notify()
}

// SetSelectedTags replaces the selection, dropping blanks and repeats.
func (s *Store) SetSelectedTags(tags []string) {
	s.mu.Lock()
	s.st.SelectedTags = domain.CleanTags(tags)
	s.mu.Unlock()
	s.notify()
}

// ClearFilters resets the search term (raw and effective) and the tag
// selection.
func (s *Store) ClearFilters() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.st.SearchTerm = ""
	s.st.EffectiveSearch = ""
	s.st.SelectedTags = nil
	s.mu.Unlock()
	s.notify()
}

// Filtered returns the problems of scope that match the effective search
// term (case-insensitive, title or description) and carry every selected
// tag. Only an empty term disables search; whitespace is matched as typed.
// It is computed on each call.
func (s *Store) Filtered(scope Scope) []domain.Problem {
	s.mu.Lock()
	base := s.base(scope)
	term := s.st.EffectiveSearch
	tags := append([]string(nil), s.st.SelectedTags...)
	s.mu.Unlock()

	return Match(base, term, tags)
}

// Match filters problems by term and tags. It is the predicate behind
// Filtered, exposed for views that hold their own snapshot.
func Match(problems []domain.Problem, term string, tags []string) []domain.Problem {
	fold := cases.Fold()
	needle := fold.String(term)

	out := make([]domain.Problem, 0, len(problems))
	for _, p := range problems {
		if needle != "" &&
			!strings.Contains(fold.String(p.Title), needle) &&
			!strings.Contains(fold.String(p.Description), needle) {
			continue
		}
		if !hasAll(p, tags) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasAll(p domain.Problem, tags []string) bool {
	for _, t := range tags {
		if !p.HasTag(t) {
			return false
		}
	}
	return true
}

// AvailableTags lists the distinct tags of scope in first-seen order.
func (s *Store) AvailableTags(scope Scope) []string {
	s.mu.Lock()
	base := s.base(scope)
	s.mu.Unlock()

	seen := map[string]bool{}
	out := []string{}
	for _, p := range base {
		for _, t := range p.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// base copies the collection of scope. Callers hold mu.
func (s *Store) base(scope Scope) []domain.Problem {
	if scope == ScopeMine {
		return cloneAll(s.st.UserProblems)
	}
	return cloneAll(s.st.AllProblems)
}
