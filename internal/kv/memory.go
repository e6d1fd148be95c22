package kv

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// Option configures a store backend.
type Option func(*Options)

// Options holds settings shared by all backends.
type Options struct {
	// TTLAttribute names the numeric attribute (epoch milliseconds) used by
	// DeleteExpired. Empty disables sweeping.
	TTLAttribute string
}

// WithTTLAttribute sets the attribute inspected by DeleteExpired.
func WithTTLAttribute(name string) Option {
	return func(o *Options) { o.TTLAttribute = name }
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryStore is an in-process Store. It is safe for concurrent use and is
// meant for tests and single-process development setups.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	opts   Options
}

type memTable struct {
	items map[Key]Item
	gsi1  map[string]Key
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Remover = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]*memTable),
		opts:   ApplyOptions(opts...),
	}
}

func (s *MemoryStore) table(name string) *memTable {
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{items: make(map[Key]Item), gsi1: make(map[string]Key)}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) PutItem(ctx context.Context, table string, item Item, overwrite bool) error {
	const op = "kv.memory.PutItem"
	if err := ValidatePut(op, table, item); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Unavailable(op, table, item.Key(), err)
	}

	attrs, err := NormalizeAttributes(item.Attrs)
	if err != nil {
		return Invalid(op, "attributes are not encodable: %v", err)
	}
	item.Attrs = attrs

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	key := item.Key()
	prev, exists := t.items[key]
	if exists && !overwrite {
		return Collision(op, table, key)
	}
	if item.GSI1PK != "" {
		if owner, taken := t.gsi1[item.GSI1PK]; taken && owner != key {
			return Collision(op, table, key)
		}
	}
	if exists && prev.GSI1PK != "" && prev.GSI1PK != item.GSI1PK {
		delete(t.gsi1, prev.GSI1PK)
	}

	t.items[key] = item
	if item.GSI1PK != "" {
		t.gsi1[item.GSI1PK] = key
	}
	return nil
}

func (s *MemoryStore) GetItems(ctx context.Context, table string, q Query) (Page, error) {
	const op = "kv.memory.GetItems"
	if err := ValidateQuery(op, table, q); err != nil {
		return Page{}, err
	}
	if err := ctx.Err(); err != nil {
		return Page{}, Unavailable(op, table, Key{}, err)
	}

	filter, err := NormalizeFilter(q.Filter)
	if err != nil {
		return Page{}, Invalid(op, "filter values are not encodable: %v", err)
	}

	s.mu.RLock()
	candidates := s.candidates(table, q)
	s.mu.RUnlock()

	sortItems(candidates, q.IndexName, q.NewestFirst)

	page := Page{Items: make([]Item, 0, q.Limit)}
	for _, it := range candidates {
		if q.ExclusiveStartKey != nil && !after(it, *q.ExclusiveStartKey, q.IndexName, q.NewestFirst) {
			continue
		}
		if !MatchesFilter(it.Attrs, filter) {
			continue
		}
		if len(page.Items) == q.Limit {
			last := page.Items[len(page.Items)-1].KeyFor(q.IndexName)
			page.LastEvaluatedKey = &last
			break
		}
		page.Items = append(page.Items, it)
	}
	return page, nil
}

// candidates copies every item matching the key condition. Caller holds the
// read lock.
func (s *MemoryStore) candidates(table string, q Query) []Item {
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	var out []Item
	if q.IndexName == IndexGSI1 {
		key, ok := t.gsi1[q.Key.Partition]
		if !ok {
			return nil
		}
		it := t.items[key]
		if sortMatches(it.GSI1SK, q.Key) {
			out = append(out, cloneItem(it))
		}
		return out
	}
	for key, it := range t.items {
		if key.PK != q.Key.Partition || !sortMatches(key.SK, q.Key) {
			continue
		}
		out = append(out, cloneItem(it))
	}
	return out
}

func (s *MemoryStore) UpdateItem(ctx context.Context, table string, key Key, upd *Update) (Item, error) {
	const op = "kv.memory.UpdateItem"
	if err := ValidateUpdate(op, table, key, upd); err != nil {
		return Item{}, err
	}
	if err := ctx.Err(); err != nil {
		return Item{}, Unavailable(op, table, key, err)
	}

	sets, err := NormalizeAttributes(upd.Sets())
	if err != nil {
		return Item{}, Invalid(op, "update values are not encodable: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(table)
	it, ok := t.items[key.Primary()]
	if !ok {
		return Item{}, NotFound(op, table, key)
	}

	next := cloneItem(it)
	for name, v := range sets {
		next.Attrs[name] = v
	}
	for name, delta := range upd.Adds() {
		cur := 0.0
		if v, ok := next.Attrs[name]; ok {
			f, isNum := v.(float64)
			if !isNum {
				return Item{}, Invalid(op, "attribute %q is not numeric", name)
			}
			cur = f
		}
		next.Attrs[name] = cur + float64(delta)
	}
	t.items[key.Primary()] = next
	return cloneItem(next), nil
}

func (s *MemoryStore) DeleteItem(ctx context.Context, table string, key Key) error {
	_, err := s.remove(ctx, "kv.memory.DeleteItem", table, key)
	return err
}

// RemoveItem deletes key and reports whether it was present.
func (s *MemoryStore) RemoveItem(ctx context.Context, table string, key Key) (bool, error) {
	return s.remove(ctx, "kv.memory.RemoveItem", table, key)
}

func (s *MemoryStore) remove(ctx context.Context, op, table string, key Key) (bool, error) {
	if err := ValidateDelete(op, table, key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, Unavailable(op, table, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return false, nil
	}
	it, ok := t.items[key.Primary()]
	if !ok {
		return false, nil
	}
	if it.GSI1PK != "" {
		delete(t.gsi1, it.GSI1PK)
	}
	delete(t.items, key.Primary())
	return true, nil
}

// DeleteExpired removes every item whose TTL attribute is older than before.
func (s *MemoryStore) DeleteExpired(ctx context.Context, table string, before time.Time) (int64, error) {
	const op = "kv.memory.DeleteExpired"
	if err := ValidateTable(op, table); err != nil {
		return 0, err
	}
	if s.opts.TTLAttribute == "" {
		return 0, Invalid(op, "no TTL attribute configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, Unavailable(op, table, Key{}, err)
	}

	cutoff := float64(before.UnixMilli())

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return 0, nil
	}
	var n int64
	for key, it := range t.items {
		ttl, ok := it.Attrs[s.opts.TTLAttribute].(float64)
		if !ok || ttl >= cutoff {
			continue
		}
		if it.GSI1PK != "" {
			delete(t.gsi1, it.GSI1PK)
		}
		delete(t.items, key)
		n++
	}
	return n, nil
}

func sortMatches(sk string, c KeyCondition) bool {
	switch {
	case c.SortEquals != "":
		return sk == c.SortEquals
	case c.SortPrefix != "":
		return strings.HasPrefix(sk, c.SortPrefix)
	default:
		return true
	}
}

// orderKey is the tuple items are ordered by for a given index.
func orderKey(it Item, index string) [3]string {
	if index == IndexGSI1 {
		return [3]string{it.GSI1SK, it.PK, it.SK}
	}
	return [3]string{it.SK, "", ""}
}

func startOrderKey(k Key, index string) [3]string {
	if index == IndexGSI1 {
		return [3]string{k.IndexSK, k.PK, k.SK}
	}
	return [3]string{k.SK, "", ""}
}

func less(a, b [3]string) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sortItems(items []Item, index string, newestFirst bool) {
	sort.Slice(items, func(i, j int) bool {
		a, b := orderKey(items[i], index), orderKey(items[j], index)
		if newestFirst {
			return less(b, a)
		}
		return less(a, b)
	})
}

// after reports whether it comes strictly after start in scan order.
func after(it Item, start Key, index string, newestFirst bool) bool {
	a, b := orderKey(it, index), startOrderKey(start, index)
	if newestFirst {
		return less(a, b)
	}
	return less(b, a)
}

// NormalizeFilter puts filter values in decoded JSON form.
func NormalizeFilter(filter []Condition) ([]Condition, error) {
	out := make([]Condition, len(filter))
	for i, c := range filter {
		v, err := NormalizeValue(c.Value)
		if err != nil {
			return nil, err
		}
		out[i] = Condition{Name: c.Name, Value: v}
	}
	return out, nil
}

// MatchesFilter reports whether attrs satisfy every condition of a filter
// returned by NormalizeFilter.
func MatchesFilter(attrs Attributes, filter []Condition) bool {
	for _, c := range filter {
		v, ok := attrs[c.Name]
		if !ok || !reflect.DeepEqual(v, c.Value) {
			return false
		}
	}
	return true
}

func cloneItem(it Item) Item {
	out := it
	out.Attrs = cloneAttrs(it.Attrs)
	return out
}

func cloneAttrs(attrs Attributes) Attributes {
	out := make(Attributes, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
