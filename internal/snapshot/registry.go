package snapshot

import (
	"slices"

	"github.com/yndnr/snapstream/internal/core/domain"
)

// Registry holds a site's outstanding table tasks grouped by table.
// Tables are visited in ascending id order and tasks in registration order.
type Registry struct {
	tables map[int32][]domain.TableTask
}

// NewRegistry creates a registry holding tasks.
func NewRegistry(tasks []domain.TableTask) *Registry {
	r := &Registry{tables: make(map[int32][]domain.TableTask)}
	for _, t := range tasks {
		r.Add(t)
	}
	return r
}

// Add appends a task to its table.
func (r *Registry) Add(t domain.TableTask) {
	r.tables[t.TableID] = append(r.tables[t.TableID], t)
}

// TableIDs returns the registered table ids in ascending order.
func (r *Registry) TableIDs() []int32 {
	ids := make([]int32, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Tasks returns the tasks of a table.
func (r *Registry) Tasks(tableID int32) []domain.TableTask {
	return r.tables[tableID]
}

// Remove drops a table and returns its tasks.
func (r *Registry) Remove(tableID int32) []domain.TableTask {
	tasks := r.tables[tableID]
	delete(r.tables, tableID)
	return tasks
}

// Len returns the number of tables.
func (r *Registry) Len() int {
	return len(r.tables)
}

// TaskCount returns the number of tasks across all tables.
func (r *Registry) TaskCount() int {
	n := 0
	for _, tasks := range r.tables {
		n += len(tasks)
	}
	return n
}

// each calls fn for every task, tables in ascending order.
func (r *Registry) each(fn func(domain.TableTask)) {
	for _, id := range r.TableIDs() {
		for _, t := range r.tables[id] {
			fn(t)
		}
	}
}

// bind calls fn on every task in place.
func (r *Registry) bind(fn func(*domain.TableTask)) {
	for _, id := range r.TableIDs() {
		tasks := r.tables[id]
		for i := range tasks {
			fn(&tasks[i])
		}
	}
}
