package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/burrow/pkg/types"
)

// item is one index entry: a compound key referencing a document id.
// The id participates in ordering so equal keys coexist determinately.
type item struct {
	key []fieldKey
	id  string
}

func lessItem(a, b item) bool {
	if c := compareKeys(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// Index is a single- or multi-field in-memory index. The tree is
// copy-on-write: readers operate on a Clone snapshot and never block
// writers. Indexes are derived state; the persisted document set is
// always the source of truth.
type Index struct {
	Name   string
	Fields []string
	Unique bool

	tree *btree.BTreeG[item]
}

// Change describes one document transition for index maintenance.
// Before is nil on insert; After is nil on purge. Soft-deleted
// documents are excluded from indexes, making them invisible to
// normal queries.
type Change struct {
	Before *types.Document
	After  *types.Document
}

// Manager owns all indexes of a collection.
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{indexes: make(map[string]*Index)}
}

// IndexName derives the canonical index name from its field list.
func IndexName(fields []string) string {
	return strings.Join(fields, ",")
}

// Create adds an index over fields and builds it from docs. A unique
// index whose constraint is already violated by the existing document
// set fails with ConstraintViolationError and is not created.
func (m *Manager) Create(fields []string, unique bool, docs []*types.Document) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("index requires at least one field")
	}
	name := IndexName(fields)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indexes[name]; ok {
		return "", fmt.Errorf("%w: %s", types.ErrIndexExists, name)
	}

	idx := &Index{
		Name:   name,
		Fields: fields,
		Unique: unique,
		tree:   btree.NewG[item](32, lessItem),
	}
	for _, doc := range docs {
		if doc.Deleted {
			continue
		}
		if err := insertChecked(idx, idx.tree, doc); err != nil {
			return "", err
		}
	}

	m.indexes[name] = idx
	return name, nil
}

// Drop removes an index.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; !ok {
		return fmt.Errorf("%w: %s", types.ErrIndexNotFound, name)
	}
	delete(m.indexes, name)
	return nil
}

// Names lists all index names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.indexes))
	for n := range m.indexes {
		names = append(names, n)
	}
	return names
}

// Apply updates every index with the given changes as a unit. All
// trees are cloned, the changes applied to the clones with uniqueness
// checking, and only on full success are the clones swapped in: a
// constraint violation leaves every index untouched.
func (m *Manager) Apply(changes []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]*btree.BTreeG[item], len(m.indexes))
	for name, idx := range m.indexes {
		clone := idx.tree.Clone()
		for _, ch := range changes {
			if ch.Before != nil {
				clone.Delete(item{key: encodeDocKey(ch.Before.Value, idx.Fields), id: ch.Before.ID})
			}
			if ch.After != nil && !ch.After.Deleted {
				if err := insertChecked(idx, clone, ch.After); err != nil {
					return err
				}
			}
		}
		staged[name] = clone
	}

	for name, tree := range staged {
		m.indexes[name].tree = tree
	}
	return nil
}

// Check verifies changes against unique constraints without modifying
// any index. The transaction coordinator runs it before the first
// durable write so a constraint violation has zero side effects.
func (m *Manager) Check(changes []Change) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, idx := range m.indexes {
		if !idx.Unique {
			continue
		}
		clone := idx.tree.Clone()
		for _, ch := range changes {
			if ch.Before != nil {
				clone.Delete(item{key: encodeDocKey(ch.Before.Value, idx.Fields), id: ch.Before.ID})
			}
			if ch.After != nil && !ch.After.Deleted {
				if err := insertChecked(idx, clone, ch.After); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Rebuild reconstructs every index from scratch from the current
// document set. Used at collection open and after index corruption.
func (m *Manager) Rebuild(docs []*types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, idx := range m.indexes {
		tree := btree.NewG[item](32, lessItem)
		for _, doc := range docs {
			if doc.Deleted {
				continue
			}
			if err := insertChecked(idx, tree, doc); err != nil {
				return err
			}
		}
		idx.tree = tree
	}
	return nil
}

// insertChecked inserts a document into tree, enforcing uniqueness for
// unique indexes. Documents missing any indexed field are exempt from
// the uniqueness check (sparse semantics).
func insertChecked(idx *Index, tree *btree.BTreeG[item], doc *types.Document) error {
	key := encodeDocKey(doc.Value, idx.Fields)

	if idx.Unique && !keyHasMissing(key) {
		var conflict string
		pivot := item{key: key}
		tree.AscendGreaterOrEqual(pivot, func(it item) bool {
			if compareKeys(it.key, key) != 0 {
				return false
			}
			if it.id != doc.ID {
				conflict = it.id
			}
			return conflict == ""
		})
		if conflict != "" {
			return &types.ConstraintViolationError{
				Index:       idx.Name,
				Fields:      idx.Fields,
				Conflicting: conflict,
			}
		}
	}

	tree.ReplaceOrInsert(item{key: key, id: doc.ID})
	return nil
}

func keyHasMissing(key []fieldKey) bool {
	for _, k := range key {
		if k.kind == kindMissing {
			return true
		}
	}
	return false
}

// snapshot returns a read-only clone of an index tree.
func (m *Manager) snapshot(name string) (*Index, *btree.BTreeG[item], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", types.ErrIndexNotFound, name)
	}
	return idx, idx.tree.Clone(), nil
}
