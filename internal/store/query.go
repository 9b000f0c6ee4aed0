package store

import (
	"fmt"
	"sort"

	"github.com/noah-isme/course-sync/internal/models"
)

// Op is a filter operator.
type Op string

const (
	OpEqual    Op = "=="
	OpIn       Op = "in"
	OpContains Op = "array-contains"
)

// Filter restricts a query on one top level field.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Query selects documents of one collection. A non-empty ID makes it a point
// query that yields zero or one record.
type Query struct {
	Collection string
	ID         string
	Filters    []Filter
	OrderBy    string
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value interface{}) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// IsPoint reports whether q addresses a single document.
func (q Query) IsPoint() bool {
	return q.ID != ""
}

// Validate rejects malformed queries before they reach a backend.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query collection required")
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("filter field required")
		}
		switch f.Op {
		case OpEqual, OpContains:
		case OpIn:
			if _, ok := f.Value.([]string); !ok {
				return fmt.Errorf("filter %s in: value must be []string", f.Field)
			}
		default:
			return fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return nil
}

// Affects reports whether a change to the given document can alter the result of q.
func (q Query) Affects(c Change) bool {
	if c.Collection != q.Collection {
		return false
	}
	return !q.IsPoint() || c.ID == q.ID
}

// Matches evaluates the filters against rec.
func (q Query) Matches(id string, rec models.Record) bool {
	if q.IsPoint() && id != q.ID {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(rec) {
			return false
		}
	}
	return true
}

func (f Filter) matches(rec models.Record) bool {
	value, ok := rec[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return scalarEqual(value, f.Value)
	case OpIn:
		for _, candidate := range f.Value.([]string) {
			if scalarEqual(value, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		items, ok := value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if scalarEqual(item, f.Value) {
				return true
			}
		}
		return false
	}
	return false
}

func scalarEqual(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// sortRecords orders records by the OrderBy field, falling back to id.
func sortRecords(q Query, ids []string, recs []models.Record) {
	idx := make([]int, len(recs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		if q.OrderBy != "" {
			av, bv := fmt.Sprint(recs[a][q.OrderBy]), fmt.Sprint(recs[b][q.OrderBy])
			if av != bv {
				return av < bv
			}
		}
		return ids[a] < ids[b]
	})
	sortedRecs := make([]models.Record, len(recs))
	sortedIDs := make([]string, len(ids))
	for i, k := range idx {
		sortedRecs[i] = recs[k]
		sortedIDs[i] = ids[k]
	}
	copy(recs, sortedRecs)
	copy(ids, sortedIDs)
}
