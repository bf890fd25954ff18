package metablock

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Change describes one directive difference between two generations.
type Change struct {
	// Kind is one of "added", "removed", or "changed".
	Kind string
	// Key is the directive name.
	Key string
	// Detail holds the value, or "old -> new" for changed keys.
	Detail string
}

// Diff compares two directive lists key by key. Repeated keys are compared
// as their joined value list.
func Diff(prev, curr Entries) []Change {
	prevMap, prevOrder := group(prev)
	currMap, currOrder := group(curr)

	var changes []Change

	for _, key := range prevOrder {
		if _, ok := currMap[key]; !ok {
			changes = append(changes, Change{Kind: "removed", Key: key, Detail: prevMap[key]})
		}
	}

	for _, key := range currOrder {
		old, existed := prevMap[key]
		if !existed {
			changes = append(changes, Change{Kind: "added", Key: key, Detail: currMap[key]})
			continue
		}

		if old != currMap[key] {
			changes = append(changes, Change{
				Kind:   "changed",
				Key:    key,
				Detail: fmt.Sprintf("%s -> %s", old, currMap[key]),
			})
		}
	}

	return changes
}

// Summary returns a human-readable one-line summary.
func Summary(changes []Change) string {
	var added, removed, changed int

	for _, c := range changes {
		switch c.Kind {
		case "added":
			added++
		case "removed":
			removed++
		case "changed":
			changed++
		}
	}

	if added == 0 && removed == 0 && changed == 0 {
		return "no metadata changes"
	}

	parts := make([]string, 0, 3)

	if added > 0 {
		parts = append(parts, fmt.Sprintf("+%d directive(s) added", added))
	}

	if removed > 0 {
		parts = append(parts, fmt.Sprintf("-%d directive(s) removed", removed))
	}

	if changed > 0 {
		parts = append(parts, fmt.Sprintf("~%d directive(s) changed", changed))
	}

	return strings.Join(parts, ", ")
}

// UnifiedDiff renders a unified diff of the two rendered headers. It
// returns "" when they are identical.
func UnifiedDiff(prev, curr Entries) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev.String()),
		B:        difflib.SplitLines(curr.String()),
		FromFile: "previous",
		ToFile:   "current",
		Context:  1,
	}

	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing metadata diff: %w", err)
	}

	return out, nil
}

func group(entries Entries) (map[string]string, []string) {
	values := make(map[string][]string)

	var order []string

	for _, e := range entries {
		if _, seen := values[e.Key]; !seen {
			order = append(order, e.Key)
		}

		values[e.Key] = append(values[e.Key], e.Value)
	}

	joined := make(map[string]string, len(values))
	for k, v := range values {
		joined[k] = strings.Join(v, ", ")
	}

	return joined, order
}
