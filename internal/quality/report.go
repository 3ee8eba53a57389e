package quality

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"
)

// Side is the outcome of one deletion side in apply mode.
type Side string

const (
	SideNone    Side = ""
	SideOK      Side = "ok"
	SideFailed  Side = "failed"
	SideSkipped Side = "skipped"
)

// Decision is the audit entry for one examined release.
type Decision struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// Rule is the first selected rule that matched, empty when none did.
	Rule    string `json:"rule,omitempty"`
	Removed bool   `json:"removed"`
	Catalog Side   `json:"catalog,omitempty"`
	Index   Side   `json:"index,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Action labels what happened to the release.
func (d Decision) Action(apply bool) string {
	switch {
	case d.Rule == "":
		return "kept"
	case !apply:
		return "would_remove"
	case d.Removed && d.Index == SideOK:
		return "removed"
	case d.Removed:
		return "partial"
	default:
		return "failed"
	}
}

// Report is the result of one quality run.
type Report struct {
	Apply     bool           `json:"apply"`
	Window    string         `json:"window"`
	Rules     []string       `json:"rules"`
	Examined  int            `json:"examined"`
	Matched   int            `json:"matched"`
	Removed   int            `json:"removed"`
	Failures  int            `json:"failures"`
	PerRule   map[string]int `json:"per_rule"`
	Cancelled bool           `json:"cancelled"`
	Decisions []Decision     `json:"decisions"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
}

func (r *Report) add(d Decision) {
	r.Examined++
	r.Decisions = append(r.Decisions, d)
	if d.Rule == "" {
		return
	}
	r.Matched++
	r.PerRule[d.Rule]++
	if d.Removed {
		r.Removed++
	}
	if d.Error != "" {
		r.Failures++
	}
}

// WriteLog writes one line per decision in scan order, then a summary.
// The output carries no timing, so two dry runs over the same catalog
// produce identical bytes.
func (r *Report) WriteLog(w io.Writer) error {
	for _, d := range r.Decisions {
		rule := d.Rule
		if rule == "" {
			rule = "-"
		}
		line := fmt.Sprintf("id=%d rule=%s action=%s", d.ID, rule, d.Action(r.Apply))
		if r.Apply && d.Rule != "" {
			line += fmt.Sprintf(" catalog=%s index=%s", sideLabel(d.Catalog), sideLabel(d.Index))
		}
		line += fmt.Sprintf(" name=%q", d.Name)
		if d.Error != "" {
			line += fmt.Sprintf(" error=%q", d.Error)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	mode := "dry-run"
	if r.Apply {
		mode = "apply"
	}
	summary := fmt.Sprintf("summary mode=%s window=%s examined=%d matched=%d removed=%d failures=%d",
		mode, r.Window, r.Examined, r.Matched, r.Removed, r.Failures)
	for _, rule := range slices.Sorted(maps.Keys(r.PerRule)) {
		summary += fmt.Sprintf(" %s=%d", rule, r.PerRule[rule])
	}
	if r.Cancelled {
		summary += " cancelled=true"
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

func sideLabel(s Side) string {
	if s == SideNone {
		return "-"
	}
	return string(s)
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
