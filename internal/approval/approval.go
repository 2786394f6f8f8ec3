// Package approval tracks which generated metrics the user keeps at the
// metrics checkpoint and validates a selection before it is approved.
//
// The functions here only ever change the selection. Whether a checkpoint is
// required, and of which type, is decided by the generation service and
// applied by the engine.
package approval

import (
	"instrumentation-backend/internal/models"
	"instrumentation-backend/internal/validation"
)

// Seed adds newly generated metric ids to the selection. New recommendations
// are opt-out: they start selected, while ids the user already deselected
// stay deselected because they are not new.
func Seed(existing, newIDs []string) []string {
	out := make([]string, 0, len(existing)+len(newIDs))
	out = append(out, existing...)
	for _, id := range newIDs {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Toggle flips membership of id.
func Toggle(selection []string, id string) []string {
	out := make([]string, 0, len(selection)+1)
	found := false
	for _, s := range selection {
		if s == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		out = append(out, id)
	}
	return out
}

// Retain drops ids that are no longer among the known metric ids, keeping order.
func Retain(selection, known []string) []string {
	out := make([]string, 0, len(selection))
	for _, id := range selection {
		if contains(known, id) {
			out = append(out, id)
		}
	}
	return out
}

// Validate fails with validation.ErrEmptySelection when a metrics checkpoint
// is approved without any metric selected.
func Validate(t models.ApprovalType, selection []string) error {
	if t == models.ApprovalMetrics && len(selection) == 0 {
		return validation.New(validation.ErrEmptySelection, "")
	}
	return nil
}

func Contains(selection []string, id string) bool { return contains(selection, id) }

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
