package reconcile

import (
	"encoding/json"
	"sort"

	appLog "portalcal/internal/log"
)

// ChangeDetector decides whether a freshly merged collection differs from the
// previous one. Persistence and UI notification only happen on a change.
type ChangeDetector interface {
	HasChanged(prev, next any) bool
}

const (
	// StrategyOrdered compares serialized collections, so a pure reordering
	// counts as a change.
	StrategyOrdered = "ordered"
	// StrategyMembership ignores order and compares the multiset of
	// serialized items.
	StrategyMembership = "membership"
)

// NewChangeDetector returns the detector for strategy. Unknown strategies
// fall back to StrategyOrdered.
func NewChangeDetector(strategy string) ChangeDetector {
	if strategy == StrategyMembership {
		return MembershipDetector{}
	}
	return OrderedDetector{}
}

// OrderedDetector compares the JSON serialization of both collections.
type OrderedDetector struct{}

func (OrderedDetector) HasChanged(prev, next any) bool {
	a, errA := json.Marshal(prev)
	b, errB := json.Marshal(next)
	if errA != nil || errB != nil {
		appLog.Error("change detector: marshal failed; assuming changed", firstErr(errA, errB))
		return true
	}
	return string(normalizeEmpty(a)) != string(normalizeEmpty(b))
}

// MembershipDetector compares collections as multisets of serialized items.
// prev and next must be slices; anything else is compared like
// OrderedDetector.
type MembershipDetector struct{}

func (MembershipDetector) HasChanged(prev, next any) bool {
	a, okA := itemKeys(prev)
	b, okB := itemKeys(next)
	if !okA || !okB {
		return OrderedDetector{}.HasChanged(prev, next)
	}
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// itemKeys serializes every element of a slice value and returns the sorted
// encodings.
func itemKeys(v any) ([]string, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(normalizeEmpty(raw), &items); err != nil {
		return nil, false
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = string(it)
	}
	sort.Strings(keys)
	return keys, true
}

// normalizeEmpty treats a nil slice ("null") the same as an empty one.
func normalizeEmpty(b []byte) []byte {
	if string(b) == "null" {
		return []byte("[]")
	}
	return b
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
