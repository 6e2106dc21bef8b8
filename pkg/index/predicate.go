package index

import (
	"fmt"

	"github.com/google/btree"

	"github.com/cuemby/burrow/pkg/metrics"
)

// Op is a predicate operator.
type Op uint8

const (
	Eq Op = iota
	Lt
	Le
	Gt
	Ge
	In
	Exists
)

// Predicate selects index entries. Key carries one value per indexed
// field (a single element for single-field indexes); Keys is used by
// In. Exists takes no values and matches documents where every indexed
// field is present.
type Predicate struct {
	Op   Op
	Key  []any
	Keys [][]any
}

// EqKey is shorthand for an equality predicate.
func EqKey(values ...any) Predicate {
	return Predicate{Op: Eq, Key: values}
}

// Lookup evaluates pred against the named index and returns matching
// document ids in key order. Lookups run against a copy-on-write
// snapshot of the tree, so they never block concurrent writers and
// observe either the pre- or post-commit state of a transaction.
//
// Ordering operators (Lt, Le, Gt, Ge) skip documents whose first
// indexed field is missing; Eq and In match exact key tuples.
func (m *Manager) Lookup(name string, pred Predicate) ([]string, error) {
	idx, tree, err := m.snapshot(name)
	if err != nil {
		return nil, err
	}

	var ids []string
	switch pred.Op {
	case Eq:
		if len(pred.Key) != len(idx.Fields) {
			return nil, fmt.Errorf("predicate has %d values, index %q has %d fields", len(pred.Key), name, len(idx.Fields))
		}
		ids = collectEqual(tree, encodeQueryKey(pred.Key))

	case In:
		seen := make(map[string]struct{})
		for _, k := range pred.Keys {
			if len(k) != len(idx.Fields) {
				return nil, fmt.Errorf("predicate has %d values, index %q has %d fields", len(k), name, len(idx.Fields))
			}
			for _, id := range collectEqual(tree, encodeQueryKey(k)) {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}

	case Lt, Le, Gt, Ge:
		if len(pred.Key) != len(idx.Fields) {
			return nil, fmt.Errorf("predicate has %d values, index %q has %d fields", len(pred.Key), name, len(idx.Fields))
		}
		ids = collectRange(tree, encodeQueryKey(pred.Key), pred.Op)

	case Exists:
		tree.Ascend(func(it item) bool {
			if !keyHasMissing(it.key) {
				ids = append(ids, it.id)
			}
			return true
		})

	default:
		return nil, fmt.Errorf("unknown predicate operator: %d", pred.Op)
	}

	if len(ids) > 0 {
		metrics.IndexHits.Inc()
	} else {
		metrics.IndexMisses.Inc()
	}
	return ids, nil
}

func collectEqual(tree *btree.BTreeG[item], key []fieldKey) []string {
	var ids []string
	tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		if compareKeys(it.key, key) != 0 {
			return false
		}
		ids = append(ids, it.id)
		return true
	})
	return ids
}

func collectRange(tree *btree.BTreeG[item], key []fieldKey, op Op) []string {
	var ids []string
	add := func(it item) {
		if it.key[0].kind == kindMissing {
			return
		}
		ids = append(ids, it.id)
	}

	switch op {
	case Lt:
		tree.Ascend(func(it item) bool {
			if compareKeys(it.key, key) >= 0 {
				return false
			}
			add(it)
			return true
		})
	case Le:
		tree.Ascend(func(it item) bool {
			if compareKeys(it.key, key) > 0 {
				return false
			}
			add(it)
			return true
		})
	case Gt:
		tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
			if compareKeys(it.key, key) == 0 {
				return true
			}
			add(it)
			return true
		})
	case Ge:
		tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
			add(it)
			return true
		})
	}
	return ids
}
