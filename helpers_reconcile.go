// ctorhelp/helpers_reconcile.go
// Merges per-context candidates into one list with availability annotations.
package ctorhelp

import "sort"

// reconcile merges the visible candidates of every context in order. Signatures
// are deduplicated by display text in order of first appearance, and each one
// records the contexts it is (not) available in.
func reconcile(order []ContextID, perContext CandidateSet) []SignatureHelpItem {
	type entry struct {
		sig       Signature
		available map[ContextID]bool
	}
	var entries []*entry
	byText := make(map[string]*entry)

	for _, id := range order {
		for _, c := range perContext[id] {
			if !c.Visible {
				continue
			}
			e, ok := byText[c.Signature.DisplayText]
			if !ok {
				e = &entry{sig: c.Signature, available: make(map[ContextID]bool)}
				byText[c.Signature.DisplayText] = e
				entries = append(entries, e)
			}
			e.available[id] = true
		}
	}

	items := make([]SignatureHelpItem, 0, len(entries))
	for _, e := range entries {
		var ann AvailabilityAnnotation
		for _, id := range order {
			if e.available[id] {
				ann.Available = append(ann.Available, id)
			} else {
				ann.Unavailable = append(ann.Unavailable, id)
			}
		}
		sortContextIDs(ann.Available)
		sortContextIDs(ann.Unavailable)
		items = append(items, SignatureHelpItem{Signature: e.sig, Annotation: ann})
	}
	return items
}

func sortContextIDs(ids []ContextID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
