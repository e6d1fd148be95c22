package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/codegen"
	"github.com/sifan077/shortlinkd/internal/errx"
	"github.com/sifan077/shortlinkd/internal/kv"
)

const testTable = "ShortLinkTest"

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T, store kv.Store, gen codegen.Generator, opts Options) ShortLinkRepository {
	t.Helper()
	if store == nil {
		store = kv.NewMemoryStore(kv.WithTTLAttribute(TTLAttribute))
	}
	if gen == nil {
		var err error
		gen, err = codegen.NewRandom(codegen.DefaultLength)
		if err != nil {
			t.Fatalf("NewRandom error: %v", err)
		}
	}
	if opts.Table == "" {
		opts.Table = testTable
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	return NewShortLinkRepository(store, gen, opts)
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	store := kv.NewMemoryStore()
	repo := newTestRepo(t, store, codegen.Func(func() (string, error) { return "taken00000", nil }), Options{})
	if _, err := repo.Create(context.Background(), "seed", "https://example.com/seed"); err != nil {
		t.Fatalf("seed Create error: %v", err)
	}

	gen := &sequenceGenerator{codes: []string{"taken00000", "taken00000", "free000000"}}
	observer := &mockCreateObserver{}
	repo = newTestRepo(t, store, gen, Options{MaxRetries: 5, Observer: observer})

	link, err := repo.Create(context.Background(), "alice", "https://example.com/a")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("generator called %d times, want 3", gen.calls)
	}
	if link.Code != "free000000" {
		t.Errorf("Code = %q, want free000000", link.Code)
	}
	if link.OwnerID != "alice" || link.OriginalURL != "https://example.com/a" {
		t.Errorf("link = %+v", link)
	}
	if !link.Active || link.Clicks != 0 {
		t.Errorf("new link should be active with zero clicks, got active=%v clicks=%d", link.Active, link.Clicks)
	}
	if want := fixedNow.Add(72 * time.Hour).UnixMilli(); link.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", link.ExpiresAt, want)
	}
	if got := observer.results; len(got) != 3 || got[0] != "collision" || got[1] != "collision" || got[2] != "ok" {
		t.Errorf("observer results = %v", got)
	}

	stored, err := repo.FindOneBy(context.Background(), model.Selector{OwnerID: "alice", Code: "free000000"})
	if err != nil {
		t.Fatalf("FindOneBy error: %v", err)
	}
	if stored.Code != "free000000" {
		t.Errorf("stored code = %q", stored.Code)
	}
}

func TestCreate_Exhausted(t *testing.T) {
	store := &mockStore{
		Store: kv.NewMemoryStore(),
		PutItemFunc: func(ctx context.Context, table string, item kv.Item, overwrite bool) error {
			return kv.Collision("test", table, item.Key())
		},
	}
	gen := &sequenceGenerator{}
	repo := newTestRepo(t, store, gen, Options{MaxRetries: 4})

	_, err := repo.Create(context.Background(), "alice", "https://example.com/a")
	if errx.KindOf(err) != errx.Exhausted {
		t.Fatalf("KindOf(err) = %v, want Exhausted (err=%v)", errx.KindOf(err), err)
	}
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Errorf("error %v does not wrap ErrCodeSpaceExhausted", err)
	}
	if gen.calls != 4 || store.putCalls != 4 {
		t.Errorf("generator calls = %d, puts = %d, want 4 each", gen.calls, store.putCalls)
	}
}

func TestCreate_AbortsOnBackendError(t *testing.T) {
	down := errors.New("connection reset")
	store := &mockStore{
		Store: kv.NewMemoryStore(),
		PutItemFunc: func(ctx context.Context, table string, item kv.Item, overwrite bool) error {
			return kv.Unavailable("test", table, item.Key(), down)
		},
	}
	gen := &sequenceGenerator{}
	repo := newTestRepo(t, store, gen, Options{})

	_, err := repo.Create(context.Background(), "alice", "https://example.com/a")
	if !errors.Is(err, down) || errx.KindOf(err) != errx.Unavailable {
		t.Fatalf("Create error = %v, want Unavailable wrapping the backend error", err)
	}
	if store.putCalls != 1 {
		t.Errorf("puts = %d, want 1", store.putCalls)
	}
}

func TestCreate_ItemLayout(t *testing.T) {
	var put kv.Item
	store := &mockStore{Store: kv.NewMemoryStore()}
	store.PutItemFunc = func(ctx context.Context, table string, item kv.Item, overwrite bool) error {
		put = item
		if overwrite {
			t.Error("Create must not overwrite")
		}
		return store.Store.PutItem(ctx, table, item, overwrite)
	}
	repo := newTestRepo(t, store, codegen.Func(func() (string, error) { return "abcDEF123_", nil }), Options{})

	if _, err := repo.Create(context.Background(), "", "https://example.com/g"); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if put.PK != "owner#guest" {
		t.Errorf("PK = %q, want owner#guest", put.PK)
	}
	if want := fmt.Sprintf("link#%013d#abcDEF123_", fixedNow.UnixMilli()); put.SK != want {
		t.Errorf("SK = %q, want %q", put.SK, want)
	}
	if put.GSI1PK != "code#abcDEF123_" || put.GSI1SK != "owner#guest" {
		t.Errorf("GSI1 = %q / %q", put.GSI1PK, put.GSI1SK)
	}
	if put.Attrs["expiresAt"] != float64(fixedNow.Add(72*time.Hour).UnixMilli()) {
		t.Errorf("expiresAt attribute = %v", put.Attrs["expiresAt"])
	}
}

func TestCreate_Concurrent(t *testing.T) {
	store := kv.NewMemoryStore()
	repo := newTestRepo(t, store, codegen.Func(func() (string, error) { return "samecode00", nil }), Options{MaxRetries: 1})

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Create(context.Background(), fmt.Sprintf("owner-%d", i), "https://example.com")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errx.KindOf(err) != errx.Exhausted {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("%d creates succeeded with the same code, want exactly 1", succeeded)
	}
}

func TestFindAll_PaginationRoundTrip(t *testing.T) {
	for _, secret := range []string{"", "page-secret"} {
		t.Run(fmt.Sprintf("secret=%q", secret), func(t *testing.T) {
			clock := fixedNow
			repo := newTestRepo(t, nil, nil, Options{
				PageTokens: NewPageTokenCodec([]byte(secret)),
				Clock: func() time.Time {
					clock = clock.Add(time.Second)
					return clock
				},
			})
			ctx := context.Background()

			const n, k = 7, 3
			created := make([]string, n)
			for i := 0; i < n; i++ {
				link, err := repo.Create(ctx, "alice", fmt.Sprintf("https://example.com/%d", i))
				if err != nil {
					t.Fatalf("Create error: %v", err)
				}
				created[i] = link.Code
			}

			first, err := repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice", Limit: k})
			if err != nil {
				t.Fatalf("FindAll error: %v", err)
			}
			if len(first.Items) != k || first.NextPageToken == "" {
				t.Fatalf("first page: %d items, token %q", len(first.Items), first.NextPageToken)
			}

			seen := map[string]bool{}
			var order []string
			page := first
			for {
				for _, l := range page.Items {
					if seen[l.Code] {
						t.Fatalf("code %s returned twice", l.Code)
					}
					seen[l.Code] = true
					order = append(order, l.Code)
				}
				if page.NextPageToken == "" {
					break
				}
				page, err = repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice", Limit: k, PageToken: page.NextPageToken})
				if err != nil {
					t.Fatalf("FindAll error: %v", err)
				}
			}
			if len(order) != n {
				t.Fatalf("saw %d links, want %d", len(order), n)
			}
			for i := range order {
				if order[i] != created[n-1-i] {
					t.Fatalf("order = %v, want newest first %v", order, created)
				}
			}

			full, err := repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice", Limit: n})
			if err != nil {
				t.Fatalf("FindAll error: %v", err)
			}
			if len(full.Items) != n || full.NextPageToken != "" {
				t.Errorf("full page: %d items, token %q; want %d and no token", len(full.Items), full.NextPageToken, n)
			}
		})
	}
}

func TestFindAll_ActiveOnlyAndOwnerIsolation(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{})
	ctx := context.Background()

	a1, _ := repo.Create(ctx, "alice", "https://example.com/1")
	a2, _ := repo.Create(ctx, "alice", "https://example.com/2")
	if _, err := repo.Create(ctx, "bob", "https://example.com/3"); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := repo.Create(ctx, "", "https://example.com/guest"); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	inactive := false
	if _, err := repo.UpdateOne(ctx, model.Selector{OwnerID: "alice", Code: a1.Code}, model.ShortLinkUpdate{Active: &inactive}); err != nil {
		t.Fatalf("UpdateOne error: %v", err)
	}

	page, err := repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice", ActiveOnly: true})
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Code != a2.Code {
		t.Errorf("active page = %+v, want only %s", page.Items, a2.Code)
	}

	page, err = repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("alice has %d links, want 2", len(page.Items))
	}

	page, err = repo.FindAll(ctx, model.FindAllInput{})
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].OwnerID != model.GuestOwner {
		t.Errorf("guest page = %+v", page.Items)
	}
}

func TestFindAll_RejectsBadInput(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{PageTokens: NewPageTokenCodec([]byte("s"))})
	ctx := context.Background()

	tests := []struct {
		name string
		in   model.FindAllInput
	}{
		{"negative limit", model.FindAllInput{OwnerID: "alice", Limit: -1}},
		{"limit too large", model.FindAllInput{OwnerID: "alice", Limit: MaxPageSize + 1}},
		{"garbage token", model.FindAllInput{OwnerID: "alice", PageToken: "%%%"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.FindAll(ctx, tt.in)
			if errx.KindOf(err) != errx.Invalid {
				t.Fatalf("KindOf(err) = %v, want Invalid (err=%v)", errx.KindOf(err), err)
			}
		})
	}

	t.Run("token issued for another owner", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if _, err := repo.Create(ctx, "bob", "https://example.com"); err != nil {
				t.Fatalf("Create error: %v", err)
			}
		}
		page, err := repo.FindAll(ctx, model.FindAllInput{OwnerID: "bob", Limit: 1})
		if err != nil || page.NextPageToken == "" {
			t.Fatalf("FindAll = %+v, %v", page, err)
		}
		_, err = repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice", Limit: 1, PageToken: page.NextPageToken})
		if errx.KindOf(err) != errx.Invalid {
			t.Fatalf("KindOf(err) = %v, want Invalid", errx.KindOf(err))
		}
	})
}

func TestFindOneBy_LookupConsistency(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{})
	ctx := context.Background()

	created, err := repo.Create(ctx, "alice", "https://example.com/a")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	byIndex, err := repo.FindOneBy(ctx, model.Selector{OwnerID: "alice", Code: created.Code})
	if err != nil {
		t.Fatalf("FindOneBy error: %v", err)
	}
	page, err := repo.FindAll(ctx, model.FindAllInput{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("FindAll returned %d items", len(page.Items))
	}
	byRange := page.Items[0]

	if *byIndex != byRange {
		t.Errorf("index lookup %+v differs from range scan %+v", *byIndex, byRange)
	}
	if !byIndex.CreatedAt.Equal(fixedNow) || !byIndex.UpdatedAt.Equal(fixedNow) {
		t.Errorf("timestamps = %v / %v, want %v", byIndex.CreatedAt, byIndex.UpdatedAt, fixedNow)
	}

	byCode, err := repo.FindByCode(ctx, created.Code)
	if err != nil {
		t.Fatalf("FindByCode error: %v", err)
	}
	if *byCode != byRange {
		t.Errorf("FindByCode %+v differs from range scan %+v", *byCode, byRange)
	}
}

func TestFindOneBy_NotFound(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{})
	ctx := context.Background()
	created, _ := repo.Create(ctx, "alice", "https://example.com/a")

	tests := []struct {
		name string
		sel  model.Selector
		kind errx.Kind
	}{
		{"unknown code", model.Selector{OwnerID: "alice", Code: "nope"}, errx.NotFound},
		{"other owner", model.Selector{OwnerID: "bob", Code: created.Code}, errx.NotFound},
		{"empty code", model.Selector{OwnerID: "alice"}, errx.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.FindOneBy(ctx, tt.sel)
			if errx.KindOf(err) != tt.kind {
				t.Fatalf("KindOf(err) = %v, want %v (err=%v)", errx.KindOf(err), tt.kind, err)
			}
			if tt.kind == errx.NotFound && !errors.Is(err, ErrShortLinkNotFound) {
				t.Errorf("error %v does not wrap ErrShortLinkNotFound", err)
			}
		})
	}
}

func TestUpdateOne(t *testing.T) {
	clock := fixedNow
	repo := newTestRepo(t, nil, nil, Options{Clock: func() time.Time { return clock }})
	ctx := context.Background()
	created, _ := repo.Create(ctx, "alice", "https://example.com/a")
	sel := model.Selector{OwnerID: "alice", Code: created.Code}

	clock = fixedNow.Add(time.Hour)
	inactive := false
	newExpiry := created.ExpiresAt + 1000
	updated, err := repo.UpdateOne(ctx, sel, model.ShortLinkUpdate{Active: &inactive, ExpiresAt: &newExpiry})
	if err != nil {
		t.Fatalf("UpdateOne error: %v", err)
	}
	if updated.Active || updated.ExpiresAt != newExpiry {
		t.Errorf("updated = %+v", updated)
	}
	if !updated.UpdatedAt.Equal(clock) || !updated.CreatedAt.Equal(fixedNow) {
		t.Errorf("timestamps = created %v updated %v", updated.CreatedAt, updated.UpdatedAt)
	}
	if updated.OriginalURL != created.OriginalURL || updated.Code != created.Code {
		t.Errorf("immutable fields changed: %+v", updated)
	}

	if _, err := repo.UpdateOne(ctx, sel, model.ShortLinkUpdate{}); errx.KindOf(err) != errx.Invalid {
		t.Errorf("empty update error kind = %v, want Invalid", errx.KindOf(err))
	}
	if _, err := repo.UpdateOne(ctx, model.Selector{OwnerID: "alice", Code: "missing"}, model.ShortLinkUpdate{Active: &inactive}); errx.KindOf(err) != errx.NotFound {
		t.Errorf("missing update error kind = %v, want NotFound", errx.KindOf(err))
	}
}

func TestDeleteOne_ConcurrentReportsOneRemoval(t *testing.T) {
	base := kv.NewMemoryStore()
	var (
		armed   atomic.Bool
		lookups sync.WaitGroup
	)
	lookups.Add(2)
	store := &mockStore{
		Store: base,
		GetItemsFunc: func(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
			if armed.Load() {
				lookups.Done()
				lookups.Wait()
			}
			return base.GetItems(ctx, table, q)
		},
	}
	repo := newTestRepo(t, kv.Instrument(store, nopObserver{}), nil, Options{})
	ctx := context.Background()
	created, err := repo.Create(ctx, "alice", "https://example.com/a")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	sel := model.Selector{OwnerID: "alice", Code: created.Code}
	armed.Store(true)

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deleted, err := repo.DeleteOne(ctx, sel)
			if err != nil {
				t.Errorf("DeleteOne error: %v", err)
			}
			results <- deleted
		}()
	}
	wg.Wait()
	close(results)

	var removed int
	for deleted := range results {
		if deleted {
			removed++
		}
	}
	if removed != 1 {
		t.Errorf("%d callers saw DeleteOne = true, want exactly 1", removed)
	}
}

func TestUpdateOne_ExtendBy(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{Clock: func() time.Time { return fixedNow }})
	ctx := context.Background()
	created, _ := repo.Create(ctx, "alice", "https://example.com/a")
	sel := model.Selector{OwnerID: "alice", Code: created.Code}

	delta := int64(time.Hour / time.Millisecond)
	for i := 1; i <= 3; i++ {
		updated, err := repo.UpdateOne(ctx, sel, model.ShortLinkUpdate{ExtendBy: &delta})
		if err != nil {
			t.Fatalf("UpdateOne error: %v", err)
		}
		if want := created.ExpiresAt + int64(i)*delta; updated.ExpiresAt != want {
			t.Fatalf("after %d extensions ExpiresAt = %d, want %d", i, updated.ExpiresAt, want)
		}
	}

	zero, abs := int64(0), created.ExpiresAt
	tests := []struct {
		name string
		upd  model.ShortLinkUpdate
	}{
		{"zero", model.ShortLinkUpdate{ExtendBy: &zero}},
		{"set and extend", model.ShortLinkUpdate{ExpiresAt: &abs, ExtendBy: &delta}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := repo.UpdateOne(ctx, sel, tt.upd); errx.KindOf(err) != errx.Invalid {
				t.Errorf("KindOf(err) = %v, want Invalid", errx.KindOf(err))
			}
		})
	}
}

func TestDeleteOne_Idempotent(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{})
	ctx := context.Background()
	created, _ := repo.Create(ctx, "alice", "https://example.com/a")
	sel := model.Selector{OwnerID: "alice", Code: created.Code}

	deleted, err := repo.DeleteOne(ctx, model.Selector{OwnerID: "alice", Code: "missing"})
	if err != nil || deleted {
		t.Fatalf("DeleteOne(missing) = %v, %v; want false, nil", deleted, err)
	}

	if ok, err := repo.IsExist(ctx, sel); err != nil || !ok {
		t.Fatalf("IsExist before delete = %v, %v", ok, err)
	}
	deleted, err = repo.DeleteOne(ctx, sel)
	if err != nil || !deleted {
		t.Fatalf("DeleteOne = %v, %v; want true, nil", deleted, err)
	}
	if ok, err := repo.IsExist(ctx, sel); err != nil || ok {
		t.Fatalf("IsExist after delete = %v, %v; want false, nil", ok, err)
	}
	deleted, err = repo.DeleteOne(ctx, sel)
	if err != nil || deleted {
		t.Fatalf("second DeleteOne = %v, %v; want false, nil", deleted, err)
	}
}

func TestIsExist_PropagatesBackendErrors(t *testing.T) {
	down := errors.New("timeout")
	store := &mockStore{
		Store: kv.NewMemoryStore(),
		GetItemsFunc: func(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
			return kv.Page{}, kv.Unavailable("test", table, kv.Key{}, down)
		},
	}
	repo := newTestRepo(t, store, nil, Options{})
	ok, err := repo.IsExist(context.Background(), model.Selector{OwnerID: "alice", Code: "abc"})
	if ok || !errors.Is(err, down) {
		t.Fatalf("IsExist = %v, %v; want false and the backend error", ok, err)
	}
}

func TestRecordClick(t *testing.T) {
	repo := newTestRepo(t, nil, nil, Options{})
	ctx := context.Background()
	created, _ := repo.Create(ctx, "alice", "https://example.com/a")

	for i := 0; i < 3; i++ {
		if err := repo.RecordClick(ctx, created.Code); err != nil {
			t.Fatalf("RecordClick error: %v", err)
		}
	}
	link, err := repo.FindByCode(ctx, created.Code)
	if err != nil {
		t.Fatalf("FindByCode error: %v", err)
	}
	if link.Clicks != 3 {
		t.Errorf("Clicks = %d, want 3", link.Clicks)
	}
	if err := repo.RecordClick(ctx, "missing"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("RecordClick(missing) kind = %v, want NotFound", errx.KindOf(err))
	}
}

func TestDeleteExpired(t *testing.T) {
	clock := fixedNow
	repo := newTestRepo(t, nil, nil, Options{ExpiryDays: 1, Clock: func() time.Time { return clock }})
	ctx := context.Background()

	old, _ := repo.Create(ctx, "alice", "https://example.com/old")
	clock = fixedNow.Add(48 * time.Hour)
	fresh, _ := repo.Create(ctx, "alice", "https://example.com/new")

	n, err := repo.DeleteExpired(ctx, clock)
	if err != nil {
		t.Fatalf("DeleteExpired error: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired removed %d, want 1", n)
	}
	if ok, _ := repo.IsExist(ctx, model.Selector{OwnerID: "alice", Code: old.Code}); ok {
		t.Error("expired link still exists")
	}
	if ok, _ := repo.IsExist(ctx, model.Selector{OwnerID: "alice", Code: fresh.Code}); !ok {
		t.Error("fresh link was removed")
	}
}

func TestDeleteExpired_Unsupported(t *testing.T) {
	store := &mockStore{Store: kv.NewMemoryStore()}
	repo := newTestRepo(t, store, nil, Options{})
	_, err := repo.DeleteExpired(context.Background(), fixedNow)
	if !errors.Is(err, kv.ErrSweepUnsupported) {
		t.Fatalf("DeleteExpired error = %v, want ErrSweepUnsupported", err)
	}
}

/*** Mocks ***/

// mockStore delegates to Store unless a func field overrides the call. It
// deliberately does not implement kv.Sweeper.
type mockStore struct {
	Store        kv.Store
	PutItemFunc  func(ctx context.Context, table string, item kv.Item, overwrite bool) error
	GetItemsFunc func(ctx context.Context, table string, q kv.Query) (kv.Page, error)

	mu       sync.Mutex
	putCalls int
}

func (m *mockStore) PutItem(ctx context.Context, table string, item kv.Item, overwrite bool) error {
	m.mu.Lock()
	m.putCalls++
	m.mu.Unlock()
	if m.PutItemFunc != nil {
		return m.PutItemFunc(ctx, table, item, overwrite)
	}
	return m.Store.PutItem(ctx, table, item, overwrite)
}

func (m *mockStore) GetItems(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
	if m.GetItemsFunc != nil {
		return m.GetItemsFunc(ctx, table, q)
	}
	return m.Store.GetItems(ctx, table, q)
}

func (m *mockStore) UpdateItem(ctx context.Context, table string, key kv.Key, upd *kv.Update) (kv.Item, error) {
	return m.Store.UpdateItem(ctx, table, key, upd)
}

func (m *mockStore) DeleteItem(ctx context.Context, table string, key kv.Key) error {
	return m.Store.DeleteItem(ctx, table, key)
}

func (m *mockStore) RemoveItem(ctx context.Context, table string, key kv.Key) (bool, error) {
	rm, ok := kv.RemoverOf(m.Store)
	if !ok {
		return true, m.Store.DeleteItem(ctx, table, key)
	}
	return rm.RemoveItem(ctx, table, key)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(table, op, outcome string, elapsed time.Duration) {}

type sequenceGenerator struct {
	codes []string
	calls int
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.calls++
	if g.calls <= len(g.codes) {
		return g.codes[g.calls-1], nil
	}
	return fmt.Sprintf("code%06d", g.calls), nil
}

type mockCreateObserver struct {
	results []string
}

func (o *mockCreateObserver) CreateAttempt(result string) {
	o.results = append(o.results, result)
}
