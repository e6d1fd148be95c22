// Package kvtest holds the behaviour every kv.Store backend must show. Backend
// packages call Run from their own tests.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/shortlinkd/internal/errx"
	"github.com/sifan077/shortlinkd/internal/kv"
)

// TTLAttribute is the attribute name Run expects the store to sweep on.
const TTLAttribute = "expiresAt"

// Factory returns a fresh, empty store configured with TTLAttribute.
type Factory func(t *testing.T) kv.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("PutItem", func(t *testing.T) { testPutItem(t, newStore(t)) })
	t.Run("PutItemUniqueIndex", func(t *testing.T) { testPutItemUniqueIndex(t, newStore(t)) })
	t.Run("PutItemConcurrent", func(t *testing.T) { testPutItemConcurrent(t, newStore(t)) })
	t.Run("Validation", func(t *testing.T) { testValidation(t, newStore(t)) })
	t.Run("GetItemsOrder", func(t *testing.T) { testGetItemsOrder(t, newStore(t)) })
	t.Run("GetItemsPagination", func(t *testing.T) { testGetItemsPagination(t, newStore(t)) })
	t.Run("GetItemsFilter", func(t *testing.T) { testGetItemsFilter(t, newStore(t)) })
	t.Run("GetItemsIndex", func(t *testing.T) { testGetItemsIndex(t, newStore(t)) })
	t.Run("UpdateItem", func(t *testing.T) { testUpdateItem(t, newStore(t)) })
	t.Run("DeleteItem", func(t *testing.T) { testDeleteItem(t, newStore(t)) })
	t.Run("RemoveItemConcurrent", func(t *testing.T) { testRemoveItemConcurrent(t, newStore(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
}

const table = "KvSuite"

func item(pk, sk, code string, attrs kv.Attributes) kv.Item {
	it := kv.Item{PK: pk, SK: sk, Attrs: attrs}
	if code != "" {
		it.GSI1PK = "code#" + code
		it.GSI1SK = pk
	}
	return it
}

func mustPut(t *testing.T, s kv.Store, it kv.Item) {
	t.Helper()
	if err := s.PutItem(context.Background(), table, it, false); err != nil {
		t.Fatalf("PutItem(%s) error: %v", it.Key(), err)
	}
}

func seed(t *testing.T, s kv.Store, pk string, n int, attrs func(i int) kv.Attributes) []kv.Item {
	t.Helper()
	items := make([]kv.Item, n)
	for i := 0; i < n; i++ {
		a := kv.Attributes{"n": i}
		if attrs != nil {
			a = attrs(i)
		}
		items[i] = item(pk, fmt.Sprintf("link#%04d#c%02d", i, i), fmt.Sprintf("%s-c%02d", pk, i), a)
		mustPut(t, s, items[i])
	}
	return items
}

func testPutItem(t *testing.T, s kv.Store) {
	ctx := context.Background()
	it := item("owner#a", "link#0001#abc", "abc", kv.Attributes{"url": "https://example.com", "clicks": 0})

	if err := s.PutItem(ctx, table, it, false); err != nil {
		t.Fatalf("first PutItem error: %v", err)
	}

	err := s.PutItem(ctx, table, it, false)
	if !errors.Is(err, kv.ErrCollision) {
		t.Fatalf("second PutItem error = %v, want ErrCollision", err)
	}
	if errx.KindOf(err) != errx.Conflict {
		t.Errorf("KindOf(collision) = %v, want Conflict", errx.KindOf(err))
	}

	it.Attrs = kv.Attributes{"url": "https://example.org", "clicks": 3}
	if err := s.PutItem(ctx, table, it, true); err != nil {
		t.Fatalf("overwrite PutItem error: %v", err)
	}

	page, err := s.GetItems(ctx, table, kv.Query{
		Key:   kv.KeyCondition{Partition: "owner#a", SortEquals: "link#0001#abc"},
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("GetItems returned %d items, want 1", len(page.Items))
	}
	if got := page.Items[0].Attrs["url"]; got != "https://example.org" {
		t.Errorf("url = %v, want overwritten value", got)
	}
	if got := page.Items[0].Attrs["clicks"]; got != float64(3) {
		t.Errorf("clicks = %v (%T), want float64(3)", got, got)
	}
}

func testPutItemUniqueIndex(t *testing.T, s kv.Store) {
	ctx := context.Background()
	mustPut(t, s, item("owner#a", "link#0001#dup", "dup", nil))

	other := item("owner#b", "link#0002#dup", "dup", nil)
	if err := s.PutItem(ctx, table, other, false); !errors.Is(err, kv.ErrCollision) {
		t.Fatalf("PutItem with taken index key error = %v, want ErrCollision", err)
	}
	if err := s.PutItem(ctx, table, other, true); !errors.Is(err, kv.ErrCollision) {
		t.Fatalf("overwrite PutItem with index key owned elsewhere error = %v, want ErrCollision", err)
	}

	page, err := s.GetItems(ctx, table, kv.Query{
		Key:   kv.KeyCondition{Partition: "owner#b"},
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("rejected put left %d items behind", len(page.Items))
	}
}

func testPutItemConcurrent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		collided  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			it := item(fmt.Sprintf("owner#%d", i), fmt.Sprintf("link#%04d#race", i), "race", nil)
			err := s.PutItem(ctx, table, it, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, kv.ErrCollision):
				collided++
			default:
				t.Errorf("PutItem error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || collided != workers-1 {
		t.Fatalf("succeeded=%d collided=%d, want 1 and %d", succeeded, collided, workers-1)
	}
}

func testValidation(t *testing.T, s kv.Store) {
	ctx := context.Background()
	good := item("owner#a", "link#1", "", nil)
	key := good.Key()

	tests := []struct {
		name string
		call func() error
	}{
		{"put without table", func() error { return s.PutItem(ctx, "", good, false) }},
		{"put with malformed table", func() error { return s.PutItem(ctx, "a b", good, false) }},
		{"put without sort key", func() error { return s.PutItem(ctx, table, kv.Item{PK: "p"}, false) }},
		{"put with index sort key only", func() error {
			return s.PutItem(ctx, table, kv.Item{PK: "p", SK: "s", GSI1SK: "x"}, false)
		}},
		{"put with reserved attribute", func() error {
			return s.PutItem(ctx, table, kv.Item{PK: "p", SK: "s", Attrs: kv.Attributes{"PK": "x"}}, false)
		}},
		{"put with unencodable attribute", func() error {
			return s.PutItem(ctx, table, kv.Item{PK: "p", SK: "s", Attrs: kv.Attributes{"ch": make(chan int)}}, false)
		}},
		{"query without partition", func() error {
			_, err := s.GetItems(ctx, table, kv.Query{Limit: 1})
			return err
		}},
		{"query with zero limit", func() error {
			_, err := s.GetItems(ctx, table, kv.Query{Key: kv.KeyCondition{Partition: "p"}})
			return err
		}},
		{"query with unknown index", func() error {
			_, err := s.GetItems(ctx, table, kv.Query{IndexName: "GSI9", Key: kv.KeyCondition{Partition: "p"}, Limit: 1})
			return err
		}},
		{"query with prefix and exact sort key", func() error {
			_, err := s.GetItems(ctx, table, kv.Query{Key: kv.KeyCondition{Partition: "p", SortPrefix: "a", SortEquals: "b"}, Limit: 1})
			return err
		}},
		{"query with foreign start key", func() error {
			_, err := s.GetItems(ctx, table, kv.Query{
				Key:               kv.KeyCondition{Partition: "p"},
				ExclusiveStartKey: &kv.Key{PK: "q", SK: "s"},
				Limit:             1,
			})
			return err
		}},
		{"update with empty expression", func() error {
			_, err := s.UpdateItem(ctx, table, key, kv.NewUpdate())
			return err
		}},
		{"update with nil expression", func() error {
			_, err := s.UpdateItem(ctx, table, key, nil)
			return err
		}},
		{"update with duplicate attribute", func() error {
			_, err := s.UpdateItem(ctx, table, key, kv.NewUpdate().Set("a", 1).Add("a", 1))
			return err
		}},
		{"update without key", func() error {
			_, err := s.UpdateItem(ctx, table, kv.Key{}, kv.NewUpdate().Set("a", 1))
			return err
		}},
		{"delete without key", func() error { return s.DeleteItem(ctx, table, kv.Key{PK: "p"}) }},
		{"delete without table", func() error { return s.DeleteItem(ctx, "", key) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, kv.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if errx.KindOf(err) != errx.Invalid {
				t.Errorf("KindOf() = %v, want Invalid", errx.KindOf(err))
			}
		})
	}
}

func sortKeys(items []kv.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.SK
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testGetItemsOrder(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "owner#a", 3, nil)
	mustPut(t, s, item("owner#a", "meta#profile", "", nil))
	seed(t, s, "owner#b", 2, nil)

	asc, err := s.GetItems(ctx, table, kv.Query{
		Key:   kv.KeyCondition{Partition: "owner#a", SortPrefix: "link#"},
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	want := []string{"link#0000#c00", "link#0001#c01", "link#0002#c02"}
	if got := sortKeys(asc.Items); !equal(got, want) {
		t.Errorf("ascending = %v, want %v", got, want)
	}
	if asc.LastEvaluatedKey != nil {
		t.Errorf("LastEvaluatedKey = %v, want nil", asc.LastEvaluatedKey)
	}

	desc, err := s.GetItems(ctx, table, kv.Query{
		Key:         kv.KeyCondition{Partition: "owner#a", SortPrefix: "link#"},
		NewestFirst: true,
		Limit:       10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	want = []string{"link#0002#c02", "link#0001#c01", "link#0000#c00"}
	if got := sortKeys(desc.Items); !equal(got, want) {
		t.Errorf("descending = %v, want %v", got, want)
	}

	all, err := s.GetItems(ctx, table, kv.Query{Key: kv.KeyCondition{Partition: "owner#a"}, Limit: 10})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(all.Items) != 4 {
		t.Errorf("partition without sort condition returned %d items, want 4", len(all.Items))
	}
}

func testGetItemsPagination(t *testing.T, s kv.Store) {
	ctx := context.Background()
	const n, k = 7, 3
	seed(t, s, "owner#p", n, nil)

	for _, newestFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("newestFirst=%v", newestFirst), func(t *testing.T) {
			var (
				seen  []string
				start *kv.Key
				pages int
			)
			for {
				page, err := s.GetItems(ctx, table, kv.Query{
					Key:               kv.KeyCondition{Partition: "owner#p", SortPrefix: "link#"},
					ExclusiveStartKey: start,
					NewestFirst:       newestFirst,
					Limit:             k,
				})
				if err != nil {
					t.Fatalf("GetItems error: %v", err)
				}
				pages++
				seen = append(seen, sortKeys(page.Items)...)

				// Re-reading the same cursor yields the same page.
				again, err := s.GetItems(ctx, table, kv.Query{
					Key:               kv.KeyCondition{Partition: "owner#p", SortPrefix: "link#"},
					ExclusiveStartKey: start,
					NewestFirst:       newestFirst,
					Limit:             k,
				})
				if err != nil {
					t.Fatalf("GetItems retry error: %v", err)
				}
				if !equal(sortKeys(again.Items), sortKeys(page.Items)) {
					t.Fatalf("retrying a cursor changed the page: %v vs %v", sortKeys(again.Items), sortKeys(page.Items))
				}

				if page.LastEvaluatedKey == nil {
					break
				}
				start = page.LastEvaluatedKey
				if pages > n {
					t.Fatal("pagination did not terminate")
				}
			}

			if pages != 3 {
				t.Errorf("pages = %d, want 3", pages)
			}
			if len(seen) != n {
				t.Fatalf("saw %d items, want %d: %v", len(seen), n, seen)
			}
			dup := map[string]bool{}
			for _, sk := range seen {
				if dup[sk] {
					t.Fatalf("item %s returned twice", sk)
				}
				dup[sk] = true
			}
		})
	}

	t.Run("single page has no cursor", func(t *testing.T) {
		for _, limit := range []int{n, n + 1} {
			page, err := s.GetItems(ctx, table, kv.Query{
				Key:   kv.KeyCondition{Partition: "owner#p", SortPrefix: "link#"},
				Limit: limit,
			})
			if err != nil {
				t.Fatalf("GetItems error: %v", err)
			}
			if len(page.Items) != n || page.LastEvaluatedKey != nil {
				t.Errorf("limit=%d: got %d items, cursor %v; want %d items and no cursor",
					limit, len(page.Items), page.LastEvaluatedKey, n)
			}
		}
	})
}

func testGetItemsFilter(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "owner#f", 10, func(i int) kv.Attributes {
		return kv.Attributes{"active": i%2 == 0, "n": i}
	})

	var (
		got   []string
		start *kv.Key
	)
	for i := 0; i < 10; i++ {
		page, err := s.GetItems(ctx, table, kv.Query{
			Key:               kv.KeyCondition{Partition: "owner#f", SortPrefix: "link#"},
			Filter:            []kv.Condition{{Name: "active", Value: true}},
			ExclusiveStartKey: start,
			NewestFirst:       true,
			Limit:             2,
		})
		if err != nil {
			t.Fatalf("GetItems error: %v", err)
		}
		for _, it := range page.Items {
			if it.Attrs["active"] != true {
				t.Fatalf("filter let through %s with active=%v", it.SK, it.Attrs["active"])
			}
		}
		got = append(got, sortKeys(page.Items)...)
		if page.LastEvaluatedKey == nil {
			break
		}
		start = page.LastEvaluatedKey
	}

	want := []string{"link#0008#c08", "link#0006#c06", "link#0004#c04", "link#0002#c02", "link#0000#c00"}
	if !equal(got, want) {
		t.Errorf("filtered scan = %v, want %v", got, want)
	}
}

func testGetItemsIndex(t *testing.T, s kv.Store) {
	ctx := context.Background()
	mustPut(t, s, item("owner#a", "link#0001#xyz", "xyz", kv.Attributes{"url": "https://x.test"}))

	page, err := s.GetItems(ctx, table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: "code#xyz", SortEquals: "owner#a"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("index lookup returned %d items, want 1", len(page.Items))
	}
	got := page.Items[0]
	if got.PK != "owner#a" || got.SK != "link#0001#xyz" || got.GSI1PK != "code#xyz" || got.GSI1SK != "owner#a" {
		t.Errorf("index lookup returned keys %+v", got)
	}
	if got.Attrs["url"] != "https://x.test" {
		t.Errorf("url = %v, want https://x.test", got.Attrs["url"])
	}

	page, err = s.GetItems(ctx, table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: "code#xyz", SortEquals: "owner#b"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("index lookup with wrong owner returned %d items, want 0", len(page.Items))
	}

	page, err = s.GetItems(ctx, table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: "code#xyz"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("index lookup by partition only returned %d items, want 1", len(page.Items))
	}

	page, err = s.GetItems(ctx, table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: "code#missing"},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 0 || page.LastEvaluatedKey != nil {
		t.Errorf("missing index key returned %d items", len(page.Items))
	}
}

func testUpdateItem(t *testing.T, s kv.Store) {
	ctx := context.Background()
	it := item("owner#a", "link#0001#upd", "upd", kv.Attributes{"active": true, "clicks": 0, "url": "https://u.test"})
	mustPut(t, s, it)

	got, err := s.UpdateItem(ctx, table, it.Key(), kv.NewUpdate().
		Set("active", false).
		Set("updatedAt", "2025-01-01T00:00:00Z").
		Add("clicks", 2))
	if err != nil {
		t.Fatalf("UpdateItem error: %v", err)
	}
	if got.Attrs["active"] != false || got.Attrs["clicks"] != float64(2) || got.Attrs["updatedAt"] != "2025-01-01T00:00:00Z" {
		t.Errorf("UpdateItem returned attrs %v", got.Attrs)
	}
	if got.Attrs["url"] != "https://u.test" {
		t.Errorf("UpdateItem dropped untouched attribute: %v", got.Attrs)
	}
	if got.GSI1PK != "code#upd" {
		t.Errorf("UpdateItem returned GSI1PK %q", got.GSI1PK)
	}

	got, err = s.UpdateItem(ctx, table, it.Key(), kv.NewUpdate().Add("clicks", 1).Add("views", 5))
	if err != nil {
		t.Fatalf("UpdateItem error: %v", err)
	}
	if got.Attrs["clicks"] != float64(3) || got.Attrs["views"] != float64(5) {
		t.Errorf("ADD produced clicks=%v views=%v", got.Attrs["clicks"], got.Attrs["views"])
	}

	page, err := s.GetItems(ctx, table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: "code#upd"},
		Limit:     1,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Attrs["active"] != false {
		t.Errorf("index read after update = %+v", page.Items)
	}

	_, err = s.UpdateItem(ctx, table, kv.Key{PK: "owner#a", SK: "link#missing"}, kv.NewUpdate().Set("active", true))
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("UpdateItem on missing item error = %v, want ErrNotFound", err)
	}
	if errx.KindOf(err) != errx.NotFound {
		t.Errorf("KindOf() = %v, want NotFound", errx.KindOf(err))
	}

	missing, err := s.GetItems(ctx, table, kv.Query{
		Key:   kv.KeyCondition{Partition: "owner#a", SortEquals: "link#missing"},
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(missing.Items) != 0 {
		t.Error("UpdateItem on a missing item created it")
	}
}

func testDeleteItem(t *testing.T, s kv.Store) {
	ctx := context.Background()
	it := item("owner#a", "link#0001#del", "del", nil)
	mustPut(t, s, it)

	if err := s.DeleteItem(ctx, table, it.Key()); err != nil {
		t.Fatalf("DeleteItem error: %v", err)
	}
	if err := s.DeleteItem(ctx, table, it.Key()); err != nil {
		t.Fatalf("second DeleteItem error: %v", err)
	}

	page, err := s.GetItems(ctx, table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: "code#del"},
		Limit:     1,
	})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(page.Items) != 0 {
		t.Error("index still resolves a deleted item")
	}

	// The index key is free again.
	mustPut(t, s, item("owner#b", "link#0002#del", "del", nil))
}

func testRemoveItemConcurrent(t *testing.T, s kv.Store) {
	rm, ok := kv.RemoverOf(s)
	if !ok {
		t.Skip("backend does not report removals")
	}
	ctx := context.Background()
	it := item("owner#a", "link#0001#rm", "rm", nil)
	mustPut(t, s, it)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := rm.RemoveItem(ctx, table, it.Key())
			if err != nil {
				t.Errorf("RemoveItem error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if removed != 1 {
		t.Errorf("%d removals reported, want exactly 1", removed)
	}
	ok, err := rm.RemoveItem(ctx, table, item("owner#a", "link#0002#none", "", nil).Key())
	if err != nil || ok {
		t.Errorf("RemoveItem(absent) = %v, %v; want false, nil", ok, err)
	}
}

func testDeleteExpired(t *testing.T, s kv.Store) {
	sw, ok := kv.SweeperOf(s)
	if !ok {
		t.Skip("backend does not sweep")
	}
	ctx := context.Background()
	now := time.Now()

	mustPut(t, s, item("owner#a", "link#1#old", "old", kv.Attributes{TTLAttribute: now.Add(-time.Hour).UnixMilli()}))
	mustPut(t, s, item("owner#a", "link#2#new", "new", kv.Attributes{TTLAttribute: now.Add(time.Hour).UnixMilli()}))
	mustPut(t, s, item("owner#a", "link#3#none", "none", nil))

	n, err := sw.DeleteExpired(ctx, table, now)
	if err != nil {
		t.Fatalf("DeleteExpired error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired removed %d items, want 1", n)
	}

	page, err := s.GetItems(ctx, table, kv.Query{Key: kv.KeyCondition{Partition: "owner#a"}, Limit: 10})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if got := sortKeys(page.Items); !equal(got, []string{"link#2#new", "link#3#none"}) {
		t.Errorf("remaining items = %v", got)
	}

	old, err := s.GetItems(ctx, table, kv.Query{IndexName: kv.IndexGSI1, Key: kv.KeyCondition{Partition: "code#old"}, Limit: 1})
	if err != nil {
		t.Fatalf("GetItems error: %v", err)
	}
	if len(old.Items) != 0 {
		t.Error("index still resolves a swept item")
	}
}
