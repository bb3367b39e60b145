// Package catalogtest provides an in-memory catalog.Store for tests.
package catalogtest

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/bartek5186/stocksync/internal/catalog"
)

var ErrInjected = errors.New("catalogtest: injected failure")

// Store keeps records in a map and can be told to fail or to silently
// ignore writes for chosen ids.
type Store struct {
	mu      sync.Mutex
	records map[int64]catalog.Record

	ListErr    error
	FailSave   map[int64]bool
	IgnoreSave map[int64]bool

	Saves     int
	ListCalls int
}

func New(records ...catalog.Record) *Store {
	s := &Store{
		records:    make(map[int64]catalog.Record),
		FailSave:   map[int64]bool{},
		IgnoreSave: map[int64]bool{},
	}
	for _, r := range records {
		s.Put(r)
	}
	return s
}

func (s *Store) Put(r catalog.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = catalog.StatusPublish
	}
	if r.Kind == "" {
		r.Kind = catalog.KindSimple
		if r.ParentID != 0 {
			r.Kind = catalog.KindVariation
		}
	}
	s.records[r.ID] = r
}

func (s *Store) Record(id int64) catalog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *Store) sorted(match func(catalog.Record) bool) []catalog.Record {
	var out []catalog.Record
	for _, r := range s.records {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inCategory(f catalog.Filter, r catalog.Record) bool {
	return f.CategoryID == 0 || r.CategoryID == f.CategoryID
}

func (s *Store) List(_ context.Context, f catalog.Filter, offset, limit int) ([]catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	top := s.sorted(func(r catalog.Record) bool {
		return r.ParentID == 0 && f.Allows(r.Status) && inCategory(f, r)
	})
	if offset >= len(top) {
		return nil, nil
	}
	end := min(offset+limit, len(top))
	return slices.Clone(top[offset:end]), nil
}

func (s *Store) Children(_ context.Context, parent catalog.Record, f catalog.Filter) ([]catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(r catalog.Record) bool {
		return r.ParentID == parent.ID && f.Allows(r.Status)
	}), nil
}

func (s *Store) Get(_ context.Context, key catalog.Key) (catalog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key.ID]
	if !ok {
		return catalog.Record{}, catalog.ErrNotFound
	}
	return r, nil
}

func (s *Store) FindBySKU(_ context.Context, sku string) (catalog.Key, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return catalog.Key{}, false, nil
	}
	for _, r := range s.sorted(func(r catalog.Record) bool { return r.SKU == sku && r.Status != catalog.StatusTrash }) {
		return r.Key(), true, nil
	}
	return catalog.Key{}, false, nil
}

func (s *Store) CountLeaves(_ context.Context, f catalog.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.ParentID != 0 || !f.Allows(r.Status) || !inCategory(f, r) {
			continue
		}
		if !r.IsGroup() {
			n++
			continue
		}
		for _, c := range s.records {
			if c.ParentID == r.ID && f.Allows(c.Status) {
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) Save(_ context.Context, key catalog.Key, u catalog.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	if s.FailSave[key.ID] {
		return ErrInjected
	}
	r, ok := s.records[key.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	if s.IgnoreSave[key.ID] {
		return nil
	}
	if u.Quantity != nil {
		q := *u.Quantity
		r.Quantity = &q
	}
	if u.Price != nil {
		r.Price = *u.Price
	}
	s.records[key.ID] = r
	return nil
}
