package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/app/repository"
	"github.com/sifan077/shortlinkd/internal/codegen"
	"github.com/sifan077/shortlinkd/internal/errx"
	"github.com/sifan077/shortlinkd/internal/kv"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type mockShortLinkRepository struct {
	createFn      func(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error)
	findAllFn     func(ctx context.Context, in model.FindAllInput) (*model.ShortLinkPage, error)
	findOneByFn   func(ctx context.Context, sel model.Selector) (*model.ShortLink, error)
	findByCodeFn  func(ctx context.Context, code string) (*model.ShortLink, error)
	updateOneFn   func(ctx context.Context, sel model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error)
	deleteOneFn   func(ctx context.Context, sel model.Selector) (bool, error)
	isExistFn     func(ctx context.Context, sel model.Selector) (bool, error)
	recordClickFn func(ctx context.Context, code string) error

	updates int
	deletes int
}

func (m *mockShortLinkRepository) Create(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, originalURL)
	}
	return &model.ShortLink{OwnerID: model.OwnerOrGuest(ownerID), Code: "abc", OriginalURL: originalURL, Active: true}, nil
}

func (m *mockShortLinkRepository) FindAll(ctx context.Context, in model.FindAllInput) (*model.ShortLinkPage, error) {
	if m.findAllFn != nil {
		return m.findAllFn(ctx, in)
	}
	return &model.ShortLinkPage{}, nil
}

func (m *mockShortLinkRepository) FindOneBy(ctx context.Context, sel model.Selector) (*model.ShortLink, error) {
	if m.findOneByFn != nil {
		return m.findOneByFn(ctx, sel)
	}
	return nil, errx.E("mock", errx.NotFound, repository.ErrShortLinkNotFound)
}

func (m *mockShortLinkRepository) FindByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	if m.findByCodeFn != nil {
		return m.findByCodeFn(ctx, code)
	}
	return nil, errx.E("mock", errx.NotFound, repository.ErrShortLinkNotFound)
}

func (m *mockShortLinkRepository) UpdateOne(ctx context.Context, sel model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error) {
	m.updates++
	if m.updateOneFn != nil {
		return m.updateOneFn(ctx, sel, upd)
	}
	return nil, errors.New("unexpected UpdateOne")
}

func (m *mockShortLinkRepository) DeleteOne(ctx context.Context, sel model.Selector) (bool, error) {
	m.deletes++
	if m.deleteOneFn != nil {
		return m.deleteOneFn(ctx, sel)
	}
	return false, nil
}

func (m *mockShortLinkRepository) IsExist(ctx context.Context, sel model.Selector) (bool, error) {
	if m.isExistFn != nil {
		return m.isExistFn(ctx, sel)
	}
	return false, nil
}

func (m *mockShortLinkRepository) RecordClick(ctx context.Context, code string) error {
	if m.recordClickFn != nil {
		return m.recordClickFn(ctx, code)
	}
	return nil
}

func (m *mockShortLinkRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type mockEventPublisher struct {
	err    error
	events []model.LinkEvent
}

func (m *mockEventPublisher) PublishLinkEvent(ctx context.Context, event model.LinkEvent) error {
	m.events = append(m.events, event)
	return m.err
}

type mockClickPublisher struct {
	err    error
	clicks []model.ClickEvent
}

func (m *mockClickPublisher) PublishClick(ctx context.Context, event model.ClickEvent) error {
	m.clicks = append(m.clicks, event)
	return m.err
}

type mockRedirectObserver struct {
	results []string
}

func (m *mockRedirectObserver) Redirect(result string) {
	m.results = append(m.results, result)
}

func fixedClock() time.Time { return testNow }

func TestCreateShortLink(t *testing.T) {
	events := &mockEventPublisher{}
	repo := &mockShortLinkRepository{
		createFn: func(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error) {
			if ownerID != "alice" || originalURL != "https://example.com/a" {
				t.Fatalf("Create(%q, %q)", ownerID, originalURL)
			}
			return &model.ShortLink{OwnerID: ownerID, Code: "abc", OriginalURL: originalURL, Active: true}, nil
		},
	}
	uc := NewCreateShortLink(Deps{Repo: repo, Events: events, Clock: fixedClock})

	link, err := uc.Execute(context.Background(), "alice", "  https://example.com/a ")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if link.Code != "abc" {
		t.Errorf("Code = %q", link.Code)
	}
	if len(events.events) != 1 || events.events[0].Type != model.LinkCreated || events.events[0].Code != "abc" {
		t.Errorf("events = %+v", events.events)
	}
	if events.events[0].ID == "" || !events.events[0].Timestamp.Equal(testNow) {
		t.Errorf("event id/timestamp = %q / %v", events.events[0].ID, events.events[0].Timestamp)
	}
}

func TestCreateShortLink_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"no scheme", "example.com/a"},
		{"ftp", "ftp://example.com/a"},
		{"no host", "https:///path"},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxURLLength)},
		{"malformed", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockShortLinkRepository{
				createFn: func(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error) {
					t.Fatal("repository must not be called")
					return nil, nil
				},
			}
			_, err := NewCreateShortLink(Deps{Repo: repo}).Execute(context.Background(), "alice", tt.url)
			if errx.KindOf(err) != errx.Invalid {
				t.Fatalf("KindOf(err) = %v, want Invalid (err=%v)", errx.KindOf(err), err)
			}
		})
	}
}

func TestCreateShortLink_PublishFailureIsNotFatal(t *testing.T) {
	events := &mockEventPublisher{err: errors.New("nats down")}
	uc := NewCreateShortLink(Deps{Repo: &mockShortLinkRepository{}, Events: events})
	if _, err := uc.Execute(context.Background(), "", "https://example.com"); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(events.events) != 1 {
		t.Errorf("publish attempts = %d, want 1", len(events.events))
	}
}

func TestCreateShortLink_PropagatesExhaustion(t *testing.T) {
	repo := &mockShortLinkRepository{
		createFn: func(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error) {
			return nil, errx.E("repo", errx.Exhausted, repository.ErrCodeSpaceExhausted)
		},
	}
	events := &mockEventPublisher{}
	_, err := NewCreateShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), "alice", "https://example.com")
	if errx.KindOf(err) != errx.Exhausted || !errors.Is(err, repository.ErrCodeSpaceExhausted) {
		t.Fatalf("err = %v, want Exhausted", err)
	}
	if len(events.events) != 0 {
		t.Errorf("events published for a failed create: %+v", events.events)
	}
}

func TestFindOneShortLink_NotFound(t *testing.T) {
	uc := NewFindOneShortLink(Deps{Repo: &mockShortLinkRepository{}})
	_, err := uc.Execute(context.Background(), model.Selector{OwnerID: "alice", Code: "missing"})
	if errx.KindOf(err) != errx.NotFound || !errors.Is(err, repository.ErrShortLinkNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestFindAllShortLinks(t *testing.T) {
	in := model.FindAllInput{OwnerID: "alice", ActiveOnly: true, Limit: 5, PageToken: "tok"}
	repo := &mockShortLinkRepository{
		findAllFn: func(ctx context.Context, got model.FindAllInput) (*model.ShortLinkPage, error) {
			if got != in {
				t.Fatalf("FindAll(%+v), want %+v", got, in)
			}
			return &model.ShortLinkPage{Items: []model.ShortLink{{Code: "a"}, {Code: "b"}}, NextPageToken: "next"}, nil
		},
	}
	page, err := NewFindAllShortLinks(Deps{Repo: repo}).Execute(context.Background(), in)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken != "next" {
		t.Errorf("page = %+v", page)
	}
}

func TestActivateShortLink(t *testing.T) {
	sel := model.Selector{OwnerID: "alice", Code: "abc"}
	before := testNow.Add(-time.Hour)

	t.Run("already active is a no-op", func(t *testing.T) {
		events := &mockEventPublisher{}
		repo := &mockShortLinkRepository{
			findOneByFn: func(ctx context.Context, s model.Selector) (*model.ShortLink, error) {
				return &model.ShortLink{OwnerID: "alice", Code: "abc", Active: true, UpdatedAt: before}, nil
			},
		}
		link, err := NewActivateShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel)
		if err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if repo.updates != 0 {
			t.Errorf("UpdateOne called %d times, want 0", repo.updates)
		}
		if !link.UpdatedAt.Equal(before) || !link.Active {
			t.Errorf("link = %+v", link)
		}
		if len(events.events) != 0 {
			t.Errorf("events = %+v, want none", events.events)
		}
	})

	t.Run("inactive flips", func(t *testing.T) {
		events := &mockEventPublisher{}
		repo := &mockShortLinkRepository{
			findOneByFn: func(ctx context.Context, s model.Selector) (*model.ShortLink, error) {
				return &model.ShortLink{OwnerID: "alice", Code: "abc", Active: false, UpdatedAt: before}, nil
			},
			updateOneFn: func(ctx context.Context, s model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error) {
				if s != sel {
					t.Fatalf("UpdateOne selector = %+v", s)
				}
				if upd.Active == nil || !*upd.Active || upd.ExpiresAt != nil {
					t.Fatalf("UpdateOne update = %+v", upd)
				}
				return &model.ShortLink{OwnerID: "alice", Code: "abc", Active: true, UpdatedAt: testNow}, nil
			},
		}
		link, err := NewActivateShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel)
		if err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if !link.Active || !link.UpdatedAt.After(before) {
			t.Errorf("link = %+v", link)
		}
		if len(events.events) != 1 || events.events[0].Type != model.LinkActivated {
			t.Errorf("events = %+v", events.events)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := NewActivateShortLink(Deps{Repo: &mockShortLinkRepository{}}).Execute(context.Background(), sel)
		if errx.KindOf(err) != errx.NotFound {
			t.Fatalf("KindOf(err) = %v, want NotFound", errx.KindOf(err))
		}
	})
}

func TestDeactivateShortLink(t *testing.T) {
	sel := model.Selector{OwnerID: "alice", Code: "abc"}

	t.Run("already inactive is a no-op", func(t *testing.T) {
		repo := &mockShortLinkRepository{
			findOneByFn: func(ctx context.Context, s model.Selector) (*model.ShortLink, error) {
				return &model.ShortLink{Code: "abc", Active: false}, nil
			},
		}
		if _, err := NewDeactivateShortLink(Deps{Repo: repo}).Execute(context.Background(), sel); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if repo.updates != 0 {
			t.Errorf("UpdateOne called %d times, want 0", repo.updates)
		}
	})

	t.Run("active flips", func(t *testing.T) {
		events := &mockEventPublisher{}
		repo := &mockShortLinkRepository{
			findOneByFn: func(ctx context.Context, s model.Selector) (*model.ShortLink, error) {
				return &model.ShortLink{Code: "abc", Active: true}, nil
			},
			updateOneFn: func(ctx context.Context, s model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error) {
				if upd.Active == nil || *upd.Active {
					t.Fatalf("UpdateOne update = %+v", upd)
				}
				return &model.ShortLink{Code: "abc", Active: false}, nil
			},
		}
		link, err := NewDeactivateShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel)
		if err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if link.Active {
			t.Error("link still active")
		}
		if len(events.events) != 1 || events.events[0].Type != model.LinkDeactivated {
			t.Errorf("events = %+v", events.events)
		}
	})
}

func TestExtendShortLinkExpiry(t *testing.T) {
	sel := model.Selector{OwnerID: "alice", Code: "abc"}
	const current = int64(1_740_000_000_000)

	for _, days := range []int{1, 7, MaxExtendDays} {
		repo := &mockShortLinkRepository{
			updateOneFn: func(ctx context.Context, s model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error) {
				if upd.ExtendBy == nil || upd.ExpiresAt != nil || upd.Active != nil {
					t.Fatalf("UpdateOne update = %+v", upd)
				}
				return &model.ShortLink{Code: "abc", ExpiresAt: current + *upd.ExtendBy}, nil
			},
		}
		events := &mockEventPublisher{}
		link, err := NewExtendShortLinkExpiry(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel, days)
		if err != nil {
			t.Fatalf("Execute(%d) error: %v", days, err)
		}
		if want := current + int64(days)*dayMillis; link.ExpiresAt != want {
			t.Errorf("days=%d: ExpiresAt = %d, want %d", days, link.ExpiresAt, want)
		}
		if link.ExpiresAt <= current {
			t.Errorf("days=%d: expiry did not grow", days)
		}
		if len(events.events) != 1 || events.events[0].Type != model.LinkExtended || events.events[0].ExpiresAt != link.ExpiresAt {
			t.Errorf("events = %+v", events.events)
		}
	}
}

func TestExtendShortLinkExpiry_RejectsBeforeStorage(t *testing.T) {
	for _, days := range []int{0, -1, -365, MaxExtendDays + 1} {
		repo := &mockShortLinkRepository{
			findOneByFn: func(ctx context.Context, s model.Selector) (*model.ShortLink, error) {
				t.Fatalf("days=%d: repository read before validation", days)
				return nil, nil
			},
			updateOneFn: func(ctx context.Context, s model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error) {
				t.Fatalf("days=%d: repository write before validation", days)
				return nil, nil
			},
		}
		_, err := NewExtendShortLinkExpiry(Deps{Repo: repo}).Execute(context.Background(), model.Selector{Code: "abc"}, days)
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("days=%d: KindOf(err) = %v, want Invalid", days, errx.KindOf(err))
		}
		if repo.updates != 0 {
			t.Errorf("days=%d: UpdateOne called", days)
		}
	}
}

// lookupBarrier holds every GSI1 lookup until n of them have started, so
// concurrent callers all read the same state before any of them writes.
type lookupBarrier struct {
	kv.Store
	armed atomic.Bool
	wg    sync.WaitGroup
}

func newLookupBarrier(store kv.Store, n int) *lookupBarrier {
	b := &lookupBarrier{Store: store}
	b.wg.Add(n)
	return b
}

func (b *lookupBarrier) GetItems(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
	if b.armed.Load() && q.IndexName == kv.IndexGSI1 {
		b.wg.Done()
		b.wg.Wait()
	}
	return b.Store.GetItems(ctx, table, q)
}

func TestExtendShortLinkExpiry_ConcurrentExtensionsAccumulate(t *testing.T) {
	gen, err := codegen.NewRandom(codegen.DefaultLength)
	if err != nil {
		t.Fatalf("NewRandom error: %v", err)
	}
	store := newLookupBarrier(kv.NewMemoryStore(kv.WithTTLAttribute(repository.TTLAttribute)), 2)
	now := func() time.Time { return testNow }
	repo := repository.NewShortLinkRepository(store, gen, repository.Options{Clock: now})
	uc := New(Deps{Repo: repo, Clock: now})
	ctx := context.Background()

	created, err := uc.Create.Execute(ctx, "alice", "https://example.com/a")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	sel := model.Selector{OwnerID: "alice", Code: created.Code}
	store.armed.Store(true)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, days := range []int{5, 1} {
		wg.Add(1)
		go func(days int) {
			defer wg.Done()
			_, err := uc.ExtendExpiry.Execute(ctx, sel, days)
			errs <- err
		}(days)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ExtendExpiry error: %v", err)
		}
	}
	store.armed.Store(false)

	final, err := uc.FindOne.Execute(ctx, sel)
	if err != nil {
		t.Fatalf("FindOne error: %v", err)
	}
	if floor := created.ExpiresAt + 5*dayMillis; final.ExpiresAt < floor {
		t.Fatalf("ExpiresAt = %d, below the larger extension %d", final.ExpiresAt, floor)
	}
	if want := created.ExpiresAt + 6*dayMillis; final.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", final.ExpiresAt, want)
	}
}

func TestDeleteShortLink(t *testing.T) {
	sel := model.Selector{OwnerID: "alice", Code: "abc"}

	t.Run("absent", func(t *testing.T) {
		repo := &mockShortLinkRepository{}
		events := &mockEventPublisher{}
		deleted, err := NewDeleteShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel)
		if err != nil || deleted {
			t.Fatalf("Execute = %v, %v; want false, nil", deleted, err)
		}
		if repo.deletes != 0 || len(events.events) != 0 {
			t.Errorf("deletes = %d, events = %d", repo.deletes, len(events.events))
		}
	})

	t.Run("present", func(t *testing.T) {
		repo := &mockShortLinkRepository{
			isExistFn:   func(ctx context.Context, s model.Selector) (bool, error) { return true, nil },
			deleteOneFn: func(ctx context.Context, s model.Selector) (bool, error) { return true, nil },
		}
		events := &mockEventPublisher{}
		deleted, err := NewDeleteShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel)
		if err != nil || !deleted {
			t.Fatalf("Execute = %v, %v; want true, nil", deleted, err)
		}
		if len(events.events) != 1 || events.events[0].Type != model.LinkDeleted || events.events[0].Code != "abc" {
			t.Errorf("events = %+v", events.events)
		}
	})

	t.Run("removed by someone else", func(t *testing.T) {
		repo := &mockShortLinkRepository{
			isExistFn:   func(ctx context.Context, s model.Selector) (bool, error) { return true, nil },
			deleteOneFn: func(ctx context.Context, s model.Selector) (bool, error) { return false, nil },
		}
		events := &mockEventPublisher{}
		deleted, err := NewDeleteShortLink(Deps{Repo: repo, Events: events}).Execute(context.Background(), sel)
		if err != nil || deleted {
			t.Fatalf("Execute = %v, %v; want false, nil", deleted, err)
		}
		if len(events.events) != 0 {
			t.Errorf("events = %+v, want none", events.events)
		}
	})

	t.Run("backend error propagates", func(t *testing.T) {
		down := errors.New("down")
		repo := &mockShortLinkRepository{
			isExistFn: func(ctx context.Context, s model.Selector) (bool, error) { return false, down },
		}
		_, err := NewDeleteShortLink(Deps{Repo: repo}).Execute(context.Background(), sel)
		if !errors.Is(err, down) {
			t.Fatalf("err = %v, want backend error", err)
		}
	})
}

func TestRedirectShortLink(t *testing.T) {
	future := testNow.Add(time.Hour).UnixMilli()
	past := testNow.Add(-time.Hour).UnixMilli()

	tests := []struct {
		name   string
		link   *model.ShortLink
		kind   errx.Kind
		result string
		clicks int
	}{
		{"active", &model.ShortLink{Code: "abc", OriginalURL: "https://example.com", Active: true, ExpiresAt: future}, errx.Unknown, RedirectOK, 1},
		{"inactive", &model.ShortLink{Code: "abc", Active: false, ExpiresAt: future}, errx.Gone, RedirectInactive, 0},
		{"expired", &model.ShortLink{Code: "abc", Active: true, ExpiresAt: past}, errx.Gone, RedirectExpired, 0},
		{"expires now", &model.ShortLink{Code: "abc", Active: true, ExpiresAt: testNow.UnixMilli()}, errx.Gone, RedirectExpired, 0},
		{"missing", nil, errx.NotFound, RedirectNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockShortLinkRepository{}
			if tt.link != nil {
				repo.findByCodeFn = func(ctx context.Context, code string) (*model.ShortLink, error) {
					return tt.link, nil
				}
			}
			clicks := &mockClickPublisher{}
			observer := &mockRedirectObserver{}
			uc := NewRedirectShortLink(Deps{Repo: repo, Clicks: clicks, Observer: observer, Clock: fixedClock})

			link, err := uc.Execute(context.Background(), RedirectInput{Code: "abc", IP: "10.0.0.1", UserAgent: "curl"})
			if tt.kind == errx.Unknown {
				if err != nil {
					t.Fatalf("Execute error: %v", err)
				}
				if link.OriginalURL != "https://example.com" {
					t.Errorf("link = %+v", link)
				}
			} else if errx.KindOf(err) != tt.kind {
				t.Fatalf("KindOf(err) = %v, want %v (err=%v)", errx.KindOf(err), tt.kind, err)
			}
			if len(clicks.clicks) != tt.clicks {
				t.Fatalf("clicks published = %d, want %d", len(clicks.clicks), tt.clicks)
			}
			if tt.clicks == 1 {
				c := clicks.clicks[0]
				if c.Code != "abc" || c.IP != "10.0.0.1" || c.UserAgent != "curl" || c.ID == "" {
					t.Errorf("click = %+v", c)
				}
			}
			if len(observer.results) != 1 || observer.results[0] != tt.result {
				t.Errorf("observer results = %v, want [%s]", observer.results, tt.result)
			}
		})
	}
}

func TestRedirectShortLink_ClickFailureIsNotFatal(t *testing.T) {
	repo := &mockShortLinkRepository{
		findByCodeFn: func(ctx context.Context, code string) (*model.ShortLink, error) {
			return &model.ShortLink{Code: code, Active: true, ExpiresAt: testNow.Add(time.Hour).UnixMilli()}, nil
		},
	}
	uc := NewRedirectShortLink(Deps{Repo: repo, Clicks: &mockClickPublisher{err: errors.New("down")}, Clock: fixedClock})
	if _, err := uc.Execute(context.Background(), RedirectInput{Code: "abc"}); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
}

// TestLifecycle runs the use-cases against the real repository and the
// in-memory store.
func TestLifecycle(t *testing.T) {
	clock := testNow
	now := func() time.Time { return clock }
	gen, err := codegen.NewRandom(codegen.DefaultLength)
	if err != nil {
		t.Fatalf("NewRandom error: %v", err)
	}
	repo := repository.NewShortLinkRepository(
		kv.NewMemoryStore(kv.WithTTLAttribute(repository.TTLAttribute)),
		gen,
		repository.Options{Clock: now},
	)
	events := &mockEventPublisher{}
	uc := New(Deps{Repo: repo, Events: events, Clock: now})
	ctx := context.Background()

	created, err := uc.Create.Execute(ctx, "alice", "https://example.com/a")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	sel := model.Selector{OwnerID: "alice", Code: created.Code}

	clock = testNow.Add(time.Minute)
	same, err := uc.Activate.Execute(ctx, sel)
	if err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if !same.UpdatedAt.Equal(created.UpdatedAt) {
		t.Errorf("no-op activate changed updatedAt: %v -> %v", created.UpdatedAt, same.UpdatedAt)
	}

	off, err := uc.Deactivate.Execute(ctx, sel)
	if err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if off.Active || !off.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("deactivated = %+v", off)
	}
	if _, err := uc.Redirect.Execute(ctx, RedirectInput{Code: created.Code}); errx.KindOf(err) != errx.Gone {
		t.Errorf("redirect to inactive link kind = %v, want Gone", errx.KindOf(err))
	}

	extended, err := uc.ExtendExpiry.Execute(ctx, sel, 2)
	if err != nil {
		t.Fatalf("ExtendExpiry error: %v", err)
	}
	if extended.ExpiresAt != created.ExpiresAt+2*dayMillis {
		t.Errorf("ExpiresAt = %d, want %d", extended.ExpiresAt, created.ExpiresAt+2*dayMillis)
	}

	if _, err := uc.Activate.Execute(ctx, sel); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	link, err := uc.Redirect.Execute(ctx, RedirectInput{Code: created.Code})
	if err != nil {
		t.Fatalf("Redirect error: %v", err)
	}
	if link.OriginalURL != "https://example.com/a" {
		t.Errorf("OriginalURL = %q", link.OriginalURL)
	}

	if deleted, err := uc.Delete.Execute(ctx, sel); err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if deleted, err := uc.Delete.Execute(ctx, sel); err != nil || deleted {
		t.Fatalf("second Delete = %v, %v", deleted, err)
	}
	if _, err := uc.FindOne.Execute(ctx, sel); errx.KindOf(err) != errx.NotFound {
		t.Errorf("FindOne after delete kind = %v, want NotFound", errx.KindOf(err))
	}

	var types []model.LinkEventType
	for _, e := range events.events {
		types = append(types, e.Type)
	}
	want := []model.LinkEventType{model.LinkCreated, model.LinkDeactivated, model.LinkExtended, model.LinkActivated, model.LinkDeleted}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}
