// Package memory provides in-process stores for tests and local dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/company-enricher/internal/company"
)

// Row is the stored state of one company.
type Row struct {
	company.Record
	// Product is nil while the output columns are NULL.
	Product   *company.Product
	UpdatedAt time.Time
}

// CompanyStore is a company.Store over a map. A Record with an empty Website models a NULL website.
type CompanyStore struct {
	mu   sync.Mutex
	rows map[int64]*Row
}

// NewCompanyStore seeds a store with records whose output columns are NULL.
func NewCompanyStore(records ...company.Record) *CompanyStore {
	s := &CompanyStore{rows: make(map[int64]*Row, len(records))}
	for _, r := range records {
		s.rows[r.ID] = &Row{Record: r}
	}
	return s
}

// SelectBatch returns up to limit eligible records with id >= cursor, ordered by id.
func (s *CompanyStore) SelectBatch(_ context.Context, cursor int64, limit int) ([]company.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []company.Record
	for _, row := range s.rows {
		if row.ID < cursor || row.Website == "" || row.Product != nil {
			continue
		}
		out = append(out, row.Record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateRecord sets the output columns of id.
func (s *CompanyStore) UpdateRecord(_ context.Context, id int64, product company.Product, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("update company %d: %w", id, company.ErrNotFound)
	}
	p := product
	row.Product = &p
	row.UpdatedAt = updatedAt
	return nil
}

// Row returns a copy of the stored state of id.
func (s *CompanyStore) Row(id int64) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return Row{}, false
	}
	out := *row
	if row.Product != nil {
		p := *row.Product
		out.Product = &p
	}
	return out, true
}

// Pending counts records that are still eligible regardless of cursor.
func (s *CompanyStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.Website != "" && row.Product == nil {
			n++
		}
	}
	return n
}
