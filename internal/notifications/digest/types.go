// Package digest composes due reminders and rule firings into one ordered,
// self-describing list and renders it into channel payload text.
package digest

import (
	"time"

	"gardennotify/internal/types"
)

// ItemKind distinguishes the two sources of digest lines.
type ItemKind string

const (
	ItemReminder ItemKind = "reminder"
	ItemRule     ItemKind = "rule"
)

// Line is one entry of a composed digest.
type Line struct {
	Kind ItemKind `json:"kind"`
	// ID is the reminder id or the rule id.
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	DueAt    time.Time      `json:"due_at"`
	Severity types.Severity `json:"severity"`
	// Context is the "Garden › Bed › Plant" chain, empty when nothing is known.
	Context string `json:"context,omitempty"`
	// Text is the final human-readable line.
	Text    string `json:"text"`
	Focused bool   `json:"focused,omitempty"`
	// ClaimIDs lists every claim merged into a rule line.
	ClaimIDs []string `json:"claim_ids,omitempty"`
	// Refs are all targets the item points at, used for focus matching.
	Refs []types.TargetRef `json:"-"`

	focusRank *types.FocusItem
}

// Digest is the rendered payload the dispatcher sends.
type Digest struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Severity types.Severity `json:"severity"`
	DueAt    time.Time      `json:"due_at"`
	Lines    []Line         `json:"lines"`
}

// Empty reports whether there is nothing to send.
func (d Digest) Empty() bool { return len(d.Lines) == 0 }

// RuleIDs returns the ids of rule lines, in digest order.
func (d Digest) RuleIDs() []string {
	var ids []string
	for _, l := range d.Lines {
		if l.Kind == ItemRule {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
