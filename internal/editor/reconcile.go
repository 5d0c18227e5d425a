// Package editor implements section-level collaborative editing: merging
// remote content into a local copy, debounced section saves, and the
// per-connection editing session that ties them to the lock store.
package editor

import (
	"time"

	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

// ReconcileResult is the merged section list plus the ids adopted from the
// remote copy because someone else changed them.
type ReconcileResult struct {
	Sections []store.Section
	Updated  []string
}

// Reconcile merges incoming remote sections into the local copy. A section
// the local user holds an active lock on always keeps its local content.
// Other sections adopt the incoming version. Sections present on only one
// side are kept; incoming order wins and local-only sections follow in
// their local order.
func Reconcile(incoming, local []store.Section, active []locks.Lock, selfUserID string, now time.Time) ReconcileResult {
	focused := make(map[string]bool)
	for _, lock := range active {
		if lock.HolderID == selfUserID && lock.Active(now) {
			focused[lock.SectionID] = true
		}
	}

	localByID := make(map[string]store.Section, len(local))
	for _, section := range local {
		localByID[section.ID] = section
	}

	result := ReconcileResult{
		Sections: make([]store.Section, 0, len(incoming)+len(local)),
		Updated:  []string{},
	}
	seen := make(map[string]bool, len(incoming))
	for _, remote := range incoming {
		if seen[remote.ID] {
			continue
		}
		seen[remote.ID] = true

		mine, ok := localByID[remote.ID]
		switch {
		case ok && focused[remote.ID]:
			result.Sections = append(result.Sections, mine)
		case ok && mine == remote:
			result.Sections = append(result.Sections, mine)
		default:
			result.Sections = append(result.Sections, remote)
			if ok && mine.Content != remote.Content {
				result.Updated = append(result.Updated, remote.ID)
			}
		}
	}
	for _, section := range local {
		if !seen[section.ID] {
			seen[section.ID] = true
			result.Sections = append(result.Sections, section)
		}
	}
	return result
}
