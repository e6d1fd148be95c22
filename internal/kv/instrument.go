package kv

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/shortlinkd/internal/errx"
)

// Observer receives one call per store operation.
type Observer interface {
	ObserveOperation(table, op, outcome string, elapsed time.Duration)
}

// Outcome labels reported to an Observer.
const (
	OutcomeOK        = "ok"
	OutcomeCollision = "collision"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

type instrumented struct {
	next Store
	obs  Observer
	now  func() time.Time
}

// Instrument wraps s so that every operation is reported to obs.
func Instrument(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &instrumented{next: s, obs: obs, now: time.Now}
}

// Unwrap returns the wrapped store.
func (s *instrumented) Unwrap() Store { return s.next }

func (s *instrumented) observe(table, op string, start time.Time, err error) {
	s.obs.ObserveOperation(table, op, OutcomeOf(err), s.now().Sub(start))
}

func (s *instrumented) PutItem(ctx context.Context, table string, item Item, overwrite bool) error {
	start := s.now()
	err := s.next.PutItem(ctx, table, item, overwrite)
	s.observe(table, "put_item", start, err)
	return err
}

func (s *instrumented) GetItems(ctx context.Context, table string, q Query) (Page, error) {
	start := s.now()
	page, err := s.next.GetItems(ctx, table, q)
	s.observe(table, "get_items", start, err)
	return page, err
}

func (s *instrumented) UpdateItem(ctx context.Context, table string, key Key, upd *Update) (Item, error) {
	start := s.now()
	it, err := s.next.UpdateItem(ctx, table, key, upd)
	s.observe(table, "update_item", start, err)
	return it, err
}

func (s *instrumented) DeleteItem(ctx context.Context, table string, key Key) error {
	start := s.now()
	err := s.next.DeleteItem(ctx, table, key)
	s.observe(table, "delete_item", start, err)
	return err
}

func (s *instrumented) RemoveItem(ctx context.Context, table string, key Key) (bool, error) {
	rm, ok := RemoverOf(s.next)
	if !ok {
		err := s.DeleteItem(ctx, table, key)
		return err == nil, err
	}
	start := s.now()
	removed, err := rm.RemoveItem(ctx, table, key)
	s.observe(table, "delete_item", start, err)
	return removed, err
}

func (s *instrumented) DeleteExpired(ctx context.Context, table string, before time.Time) (int64, error) {
	sw, ok := SweeperOf(s.next)
	if !ok {
		return 0, errx.E("kv.DeleteExpired", errx.Internal, ErrSweepUnsupported)
	}
	start := s.now()
	n, err := sw.DeleteExpired(ctx, table, before)
	s.observe(table, "delete_expired", start, err)
	return n, err
}

// OutcomeOf classifies err for metrics.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrCollision):
		return OutcomeCollision
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrValidation):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// SweeperOf returns a Sweeper for s when the backend behind it supports
// sweeping. Instrumented stores stay instrumented.
func SweeperOf(s Store) (Sweeper, bool) {
	if w, ok := s.(*instrumented); ok {
		if _, ok := SweeperOf(w.next); !ok {
			return nil, false
		}
		return w, true
	}
	sw, ok := s.(Sweeper)
	return sw, ok
}

// RemoverOf returns a Remover for s when the backend behind it can report
// removals.
func RemoverOf(s Store) (Remover, bool) {
	if w, ok := s.(*instrumented); ok {
		if _, ok := RemoverOf(w.next); !ok {
			return nil, false
		}
		return w, true
	}
	rm, ok := s.(Remover)
	return rm, ok
}
