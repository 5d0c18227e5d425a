package history

import "sgid/api/internal/store"

// SectionChange describes how one section differs between two versions.
type SectionChange struct {
	SectionID string `json:"sectionId"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// Diff compares two section lists by id. Output follows the order of to,
// with removed sections appended.
func Diff(from, to store.Content) []SectionChange {
	before := make(map[string]store.Section, len(from.Sections))
	for _, s := range from.Sections {
		before[s.ID] = s
	}
	changes := make([]SectionChange, 0)
	seen := make(map[string]bool, len(to.Sections))
	for _, s := range to.Sections {
		seen[s.ID] = true
		old, ok := before[s.ID]
		switch {
		case !ok:
			changes = append(changes, SectionChange{SectionID: s.ID, Title: s.Title, Kind: "added", After: s.Content})
		case old.Content != s.Content || old.Title != s.Title:
			changes = append(changes, SectionChange{SectionID: s.ID, Title: s.Title, Kind: "modified", Before: old.Content, After: s.Content})
		}
	}
	for _, s := range from.Sections {
		if !seen[s.ID] {
			changes = append(changes, SectionChange{SectionID: s.ID, Title: s.Title, Kind: "removed", Before: s.Content})
		}
	}
	return changes
}
