package ixf

import (
	"iter"

	"github.com/elliotchance/orderedmap/v3"
)

// Row is one table row: column names mapped to decoded values, in
// column descriptor order. A nil value is SQL NULL.
type Row struct {
	m *orderedmap.OrderedMap[string, any]
}

func newRow(capacity int) Row {
	return Row{m: orderedmap.NewOrderedMapWithCapacity[string, any](capacity)}
}

func (r Row) set(name string, v any) {
	r.m.Set(name, v)
}

// Get returns the value of a column.
func (r Row) Get(name string) (any, bool) {
	if r.m == nil {
		return nil, false
	}
	return r.m.Get(name)
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	if r.m == nil {
		return 0
	}
	return r.m.Len()
}

// Names returns the column names in order.
func (r Row) Names() []string {
	names := make([]string, 0, r.Len())
	for k := range r.All() {
		names = append(names, k)
	}
	return names
}

// Values returns the values in column order.
func (r Row) Values() []any {
	values := make([]any, 0, r.Len())
	for _, v := range r.All() {
		values = append(values, v)
	}
	return values
}

// All iterates over the columns in order.
func (r Row) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if r.m == nil {
			return
		}
		for k, v := range r.m.AllFromFront() {
			if !yield(k, v) {
				return
			}
		}
	}
}
