package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gardennotify/internal/types"
)

// maxBodyLines is the truncation limit for rendered bodies. Lines past it are
// summarized as a count.
const maxBodyLines = 25

// Composer merges due reminders and rule firings into one ordered list.
type Composer struct {
	index *TargetIndex
}

// NewComposer creates a Composer. A nil index produces lines without context.
func NewComposer(index *TargetIndex) *Composer {
	return &Composer{index: index}
}

// Compose builds the ordered digest lines.
//
// Ordering:
//  1. Items matching any focus pin come first, ordered by the earliest
//     matching pin's CreatedAt, then pin ID.
//  2. Within each partition, DueAt ascending, then item ID.
//
// Firings that share a rule collapse into one line carrying every claim ID.
// Empty input yields an empty, non-nil slice.
func (c *Composer) Compose(reminders []types.Reminder, firings []types.RuleFiring, focus []types.FocusItem) []Line {
	lines := make([]Line, 0, len(reminders)+len(firings))

	for _, r := range reminders {
		lines = append(lines, c.reminderLine(r))
	}
	lines = append(lines, c.ruleLines(firings)...)

	for i := range lines {
		lines[i].focusRank = bestPin(lines[i].Refs, focus)
		lines[i].Focused = lines[i].focusRank != nil
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return less(lines[i], lines[j])
	})
	return lines
}

func less(a, b Line) bool {
	if a.Focused != b.Focused {
		return a.Focused
	}
	if a.Focused {
		pa, pb := a.focusRank, b.focusRank
		if !pa.CreatedAt.Equal(pb.CreatedAt) {
			return pa.CreatedAt.Before(pb.CreatedAt)
		}
		if pa.ID != pb.ID {
			return pa.ID < pb.ID
		}
	}
	if !a.DueAt.Equal(b.DueAt) {
		return a.DueAt.Before(b.DueAt)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Kind < b.Kind
}

// bestPin returns the earliest-created pin matching any of refs.
func bestPin(refs []types.TargetRef, focus []types.FocusItem) *types.FocusItem {
	var best *types.FocusItem
	for i := range focus {
		pin := &focus[i]
		if !matchesAny(pin, refs) {
			continue
		}
		if best == nil ||
			pin.CreatedAt.Before(best.CreatedAt) ||
			(pin.CreatedAt.Equal(best.CreatedAt) && pin.ID < best.ID) {
			best = pin
		}
	}
	return best
}

func matchesAny(pin *types.FocusItem, refs []types.TargetRef) bool {
	for _, ref := range refs {
		if ref.Kind == pin.Kind && ref.ID == pin.TargetID && ref.ID != "" {
			return true
		}
	}
	return false
}

func (c *Composer) reminderLine(r types.Reminder) Line {
	refs := []types.TargetRef{{Kind: types.TargetTask, ID: r.ID}}
	var context string
	if r.PlantingID != nil && *r.PlantingID != "" {
		ref := types.TargetRef{Kind: types.TargetPlanting, ID: *r.PlantingID}
		refs = append(refs, c.index.expand(ref)...)
		context = c.index.chain(ref)
	}
	return Line{
		Kind:     ItemReminder,
		ID:       r.ID,
		Title:    r.Title,
		DueAt:    r.DueAt,
		Severity: types.SeverityInfo,
		Context:  context,
		Text:     lineText(r.Title, context),
		Refs:     refs,
	}
}

func (c *Composer) ruleLines(firings []types.RuleFiring) []Line {
	byRule := make(map[string]int, len(firings))
	var lines []Line
	for _, f := range firings {
		if i, ok := byRule[f.Rule.ID]; ok {
			lines[i].ClaimIDs = append(lines[i].ClaimIDs, f.ClaimID)
			if f.FiredAt.Before(lines[i].DueAt) {
				lines[i].DueAt = f.FiredAt
			}
			continue
		}

		title := f.Rule.Name
		if title == "" {
			title = strings.ReplaceAll(string(f.Rule.Type), "_", " ")
		}
		severity := f.Rule.Severity
		if severity == "" {
			severity = types.SeverityInfo
		}

		var refs []types.TargetRef
		var context string
		if f.Rule.Target != nil {
			refs = c.index.expand(*f.Rule.Target)
			context = c.index.chain(*f.Rule.Target)
		}

		byRule[f.Rule.ID] = len(lines)
		lines = append(lines, Line{
			Kind:     ItemRule,
			ID:       f.Rule.ID,
			Title:    title,
			DueAt:    f.FiredAt,
			Severity: severity,
			Context:  context,
			Text:     lineText(title, context),
			ClaimIDs: []string{f.ClaimID},
			Refs:     refs,
		})
	}
	return lines
}

func lineText(title, context string) string {
	if context == "" {
		return title
	}
	return title + " (" + context + ")"
}

// Render turns composed lines into a channel payload.
func Render(lines []Line) Digest {
	d := Digest{Lines: lines, Severity: types.SeverityInfo}
	if len(lines) == 0 {
		return d
	}

	d.DueAt = lines[0].DueAt
	for _, l := range lines {
		if l.Severity.Rank() > d.Severity.Rank() {
			d.Severity = l.Severity
		}
		if l.DueAt.Before(d.DueAt) {
			d.DueAt = l.DueAt
		}
	}

	if len(lines) == 1 {
		d.Title = lines[0].Title
	} else {
		d.Title = fmt.Sprintf("%d garden reminders", len(lines))
	}
	if d.Severity == types.SeverityCritical {
		d.Title = "Urgent: " + d.Title
	}

	var b strings.Builder
	for i, l := range lines {
		if i == maxBodyLines {
			fmt.Fprintf(&b, "...and %d more\n", len(lines)-maxBodyLines)
			break
		}
		b.WriteString("- ")
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	d.Body = strings.TrimSuffix(b.String(), "\n")
	return d
}

// MergeHeld combines held payloads of one channel into a single payload.
// Held payloads are concatenated in DueAt order; the severity is the highest
// among them.
func MergeHeld(held []types.HeldDelivery) Digest {
	d := Digest{Severity: types.SeverityInfo}
	if len(held) == 0 {
		return d
	}

	sorted := make([]types.HeldDelivery, len(held))
	copy(sorted, held)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueAt.Equal(sorted[j].DueAt) {
			return sorted[i].DueAt.Before(sorted[j].DueAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	bodies := make([]string, 0, len(sorted))
	d.DueAt = sorted[0].DueAt
	for _, h := range sorted {
		if h.Severity.Rank() > d.Severity.Rank() {
			d.Severity = h.Severity
		}
		bodies = append(bodies, h.Body)
	}
	if len(sorted) == 1 {
		d.Title = sorted[0].Title
	} else {
		d.Title = fmt.Sprintf("%d held garden updates", len(sorted))
	}
	d.Body = strings.Join(bodies, "\n\n")
	return d
}

// Since reports how long the oldest line has been due at now.
func (d Digest) Since(now time.Time) time.Duration {
	if d.DueAt.IsZero() || now.Before(d.DueAt) {
		return 0
	}
	return now.Sub(d.DueAt)
}
