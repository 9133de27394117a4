package store

import (
	"fmt"

	"fieldledger/backend/internal/domain"
)

// Schema declares every collection and secondary index at one version.
// Versions only ever add collections and indexes.
type Schema struct {
	Version     int              `json:"version"`
	Collections []CollectionSpec `json:"collections"`
}

// CollectionSpec names a collection. Keys are always auto-incremented int64s starting at 1.
type CollectionSpec struct {
	Name    string      `json:"name"`
	Indexes []IndexSpec `json:"indexes,omitempty"`
}

// IndexSpec indexes the top-level JSON field Field of every record in the collection.
// Instant indexes parse the field as an RFC 3339 timestamp and order chronologically.
type IndexSpec struct {
	Name    string `json:"name"`
	Field   string `json:"field"`
	Unique  bool   `json:"unique,omitempty"`
	Instant bool   `json:"instant,omitempty"`
}

func (s Schema) Collection(name string) (CollectionSpec, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionSpec{}, false
}

func (c CollectionSpec) Index(name string) (IndexSpec, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// Validate checks names are present and unique within their scope.
func (s Schema) Validate() error {
	if s.Version < 1 {
		return domain.IncompatibleSchema("", "schema version must be >= 1")
	}
	seen := make(map[string]bool, len(s.Collections))
	for _, c := range s.Collections {
		if c.Name == "" {
			return domain.IncompatibleSchema("", "collection name is required")
		}
		if seen[c.Name] {
			return domain.IncompatibleSchema(c.Name, "collection declared twice")
		}
		seen[c.Name] = true
		indexSeen := make(map[string]bool, len(c.Indexes))
		for _, idx := range c.Indexes {
			if idx.Name == "" || idx.Field == "" {
				return domain.IncompatibleSchema(c.Name, "index name and field are required")
			}
			if indexSeen[idx.Name] {
				return domain.IncompatibleSchema(c.Name, fmt.Sprintf("index %s declared twice", idx.Name))
			}
			indexSeen[idx.Name] = true
		}
	}
	return nil
}

// Migration is the additive difference between the stored schema and a requested one.
type Migration struct {
	From           int
	To             Schema
	NewCollections []string
	NewIndexes     map[string][]IndexSpec
}

func (m Migration) Empty() bool {
	return m.From == m.To.Version && len(m.NewCollections) == 0 && len(m.NewIndexes) == 0
}

// Plan computes the migration from current to target. A nil current means a
// fresh store. Removing or redefining anything is refused.
func Plan(current *Schema, target Schema) (Migration, error) {
	if err := target.Validate(); err != nil {
		return Migration{}, err
	}

	m := Migration{To: target, NewIndexes: map[string][]IndexSpec{}}
	if current == nil {
		for _, c := range target.Collections {
			m.NewCollections = append(m.NewCollections, c.Name)
		}
		return m, nil
	}

	m.From = current.Version
	if target.Version < current.Version {
		return Migration{}, domain.IncompatibleSchema("", fmt.Sprintf("store is at version %d, refusing to open with older version %d", current.Version, target.Version))
	}

	for _, old := range current.Collections {
		next, ok := target.Collection(old.Name)
		if !ok {
			return Migration{}, domain.IncompatibleSchema(old.Name, "collection cannot be removed")
		}
		for _, oldIdx := range old.Indexes {
			nextIdx, ok := next.Index(oldIdx.Name)
			if !ok {
				return Migration{}, domain.IncompatibleSchema(old.Name, fmt.Sprintf("index %s cannot be removed", oldIdx.Name))
			}
			if nextIdx != oldIdx {
				return Migration{}, domain.IncompatibleSchema(old.Name, fmt.Sprintf("index %s cannot be redefined", oldIdx.Name))
			}
		}
		for _, nextIdx := range next.Indexes {
			if _, ok := old.Index(nextIdx.Name); !ok {
				m.NewIndexes[old.Name] = append(m.NewIndexes[old.Name], nextIdx)
			}
		}
	}

	for _, c := range target.Collections {
		if _, ok := current.Collection(c.Name); !ok {
			m.NewCollections = append(m.NewCollections, c.Name)
		}
	}

	if target.Version == current.Version && (len(m.NewCollections) > 0 || len(m.NewIndexes) > 0) {
		return Migration{}, domain.IncompatibleSchema("", fmt.Sprintf("schema changed without a version bump (still %d)", target.Version))
	}
	return m, nil
}
