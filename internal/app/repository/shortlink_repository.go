package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/app/model"
	"github.com/sifan077/shortlinkd/internal/codegen"
	"github.com/sifan077/shortlinkd/internal/errx"
	"github.com/sifan077/shortlinkd/internal/kv"
)

var (
	// ErrShortLinkNotFound signals that the requested short link does not exist.
	ErrShortLinkNotFound = errors.New("short link not found")
	// ErrCodeSpaceExhausted signals that every allocation attempt collided.
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique short code")
)

// TTLAttribute is the item attribute backends sweep on.
const TTLAttribute = "expiresAt"

const (
	DefaultMaxRetries = 5
	DefaultExpiryDays = 3
	DefaultPageSize   = 20
	MaxPageSize       = 100

	ownerPrefix = "owner#"
	linkPrefix  = "link#"
	codePrefix  = "code#"
)

// ShortLinkRepository defines the data access contract for short links.
type ShortLinkRepository interface {
	Create(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error)
	FindAll(ctx context.Context, in model.FindAllInput) (*model.ShortLinkPage, error)
	FindOneBy(ctx context.Context, sel model.Selector) (*model.ShortLink, error)
	FindByCode(ctx context.Context, code string) (*model.ShortLink, error)
	UpdateOne(ctx context.Context, sel model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error)
	DeleteOne(ctx context.Context, sel model.Selector) (bool, error)
	IsExist(ctx context.Context, sel model.Selector) (bool, error)
	RecordClick(ctx context.Context, code string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CreateObserver is told about every code allocation attempt.
type CreateObserver interface {
	CreateAttempt(result string)
}

// Options configures a ShortLinkRepository. Zero values take the defaults.
type Options struct {
	Table      string
	MaxRetries int
	ExpiryDays int
	PageTokens *PageTokenCodec
	Logger     *zap.Logger
	Observer   CreateObserver
	Clock      func() time.Time
}

type shortLinkRepository struct {
	store      kv.Store
	gen        codegen.Generator
	table      string
	maxRetries int
	expiry     time.Duration
	tokens     *PageTokenCodec
	logger     *zap.Logger
	observer   CreateObserver
	now        func() time.Time
}

// NewShortLinkRepository returns a ShortLinkRepository stored in one kv table.
func NewShortLinkRepository(store kv.Store, gen codegen.Generator, opts Options) ShortLinkRepository {
	r := &shortLinkRepository{
		store:      store,
		gen:        gen,
		table:      opts.Table,
		maxRetries: opts.MaxRetries,
		expiry:     time.Duration(opts.ExpiryDays) * 24 * time.Hour,
		tokens:     opts.PageTokens,
		logger:     opts.Logger,
		observer:   opts.Observer,
		now:        opts.Clock,
	}
	if r.table == "" {
		r.table = "ShortLink"
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.expiry <= 0 {
		r.expiry = DefaultExpiryDays * 24 * time.Hour
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func partitionKey(ownerID string) string { return ownerPrefix + ownerID }

func sortKey(createdAt time.Time, code string) string {
	return fmt.Sprintf("%s%013d#%s", linkPrefix, createdAt.UnixMilli(), code)
}

func indexKey(code string) string { return codePrefix + code }

func (r *shortLinkRepository) Create(ctx context.Context, ownerID, originalURL string) (*model.ShortLink, error) {
	const op = "repository.ShortLink.Create"
	if strings.TrimSpace(originalURL) == "" {
		return nil, errx.Errorf(op, errx.Invalid, "original url is required")
	}

	owner := model.OwnerOrGuest(ownerID)
	now := r.now().UTC()
	expiresAt := now.Add(r.expiry).UnixMilli()

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		code, err := r.gen.Generate()
		if err != nil {
			return nil, errx.E(op, errx.Internal, fmt.Errorf("generate code: %w", err))
		}

		link := &model.ShortLink{
			OwnerID:     owner,
			Code:        code,
			OriginalURL: originalURL,
			Clicks:      0,
			Active:      true,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		item, err := toItem(link)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}

		err = r.store.PutItem(ctx, r.table, item, false)
		switch {
		case err == nil:
			r.observe("ok")
			r.logger.Debug("short link created",
				zap.String("owner_id", owner),
				zap.String("code", code),
				zap.Int("attempt", attempt),
			)
			return link, nil
		case errors.Is(err, kv.ErrCollision):
			r.observe("collision")
			r.logger.Warn("short code collision, retrying",
				zap.String("code", code),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.maxRetries),
			)
		default:
			r.observe("error")
			r.logger.Error("failed to store short link",
				zap.String("table", r.table),
				zap.String("pk", item.PK),
				zap.String("sk", item.SK),
				zap.Error(err),
			)
			return nil, fmt.Errorf("create short link: %w", err)
		}
	}

	return nil, errx.E(op, errx.Exhausted, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, r.maxRetries))
}

func (r *shortLinkRepository) FindAll(ctx context.Context, in model.FindAllInput) (*model.ShortLinkPage, error) {
	const op = "repository.ShortLink.FindAll"

	limit := in.Limit
	switch {
	case limit == 0:
		limit = DefaultPageSize
	case limit < 0 || limit > MaxPageSize:
		return nil, errx.Errorf(op, errx.Invalid, "limit must be between 1 and %d", MaxPageSize)
	}

	owner := model.OwnerOrGuest(in.OwnerID)
	start, err := r.tokens.Decode(owner, in.PageToken)
	if err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}
	if start != nil && start.PK != partitionKey(owner) {
		return nil, errx.E(op, errx.Invalid, ErrInvalidPageToken)
	}

	q := kv.Query{
		Key:               kv.KeyCondition{Partition: partitionKey(owner), SortPrefix: linkPrefix},
		ExclusiveStartKey: start,
		NewestFirst:       true,
		Limit:             limit,
	}
	if in.ActiveOnly {
		q.Filter = []kv.Condition{{Name: "active", Value: true}}
	}

	page, err := r.store.GetItems(ctx, r.table, q)
	if err != nil {
		return nil, fmt.Errorf("list short links: %w", err)
	}

	out := &model.ShortLinkPage{Items: make([]model.ShortLink, 0, len(page.Items))}
	for _, it := range page.Items {
		link, err := fromItem(it)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		out.Items = append(out.Items, *link)
	}

	out.NextPageToken, err = r.tokens.Encode(owner, page.LastEvaluatedKey)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}
	return out, nil
}

func (r *shortLinkRepository) FindOneBy(ctx context.Context, sel model.Selector) (*model.ShortLink, error) {
	const op = "repository.ShortLink.FindOneBy"
	_, link, err := r.findItem(ctx, op, sel.Code, partitionKey(sel.Owner()))
	return link, err
}

// FindByCode resolves a link by code alone, regardless of owner.
func (r *shortLinkRepository) FindByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	const op = "repository.ShortLink.FindByCode"
	_, link, err := r.findItem(ctx, op, code, "")
	return link, err
}

// findItem looks the code up through the index. A non-empty ownerKey must
// match the index sort key.
func (r *shortLinkRepository) findItem(ctx context.Context, op, code, ownerKey string) (kv.Item, *model.ShortLink, error) {
	if code == "" {
		return kv.Item{}, nil, errx.Errorf(op, errx.Invalid, "code is required")
	}

	page, err := r.store.GetItems(ctx, r.table, kv.Query{
		IndexName: kv.IndexGSI1,
		Key:       kv.KeyCondition{Partition: indexKey(code), SortEquals: ownerKey},
		Limit:     1,
	})
	if err != nil {
		return kv.Item{}, nil, fmt.Errorf("find short link %s: %w", code, err)
	}
	if len(page.Items) == 0 {
		return kv.Item{}, nil, errx.E(op, errx.NotFound, ErrShortLinkNotFound)
	}

	it := page.Items[0]
	link, err := fromItem(it)
	if err != nil {
		return kv.Item{}, nil, errx.E(op, errx.Internal, err)
	}
	return it, link, nil
}

func (r *shortLinkRepository) UpdateOne(ctx context.Context, sel model.Selector, upd model.ShortLinkUpdate) (*model.ShortLink, error) {
	const op = "repository.ShortLink.UpdateOne"
	if upd.Empty() {
		return nil, errx.Errorf(op, errx.Invalid, "no fields to update")
	}
	if upd.ExpiresAt != nil && upd.ExtendBy != nil {
		return nil, errx.Errorf(op, errx.Invalid, "expiresAt cannot be set and extended at once")
	}
	if upd.ExtendBy != nil && *upd.ExtendBy <= 0 {
		return nil, errx.Errorf(op, errx.Invalid, "extension must be positive, got %d", *upd.ExtendBy)
	}

	it, _, err := r.findItem(ctx, op, sel.Code, partitionKey(sel.Owner()))
	if err != nil {
		return nil, err
	}

	expr := kv.NewUpdate()
	if upd.Active != nil {
		expr.Set("active", *upd.Active)
	}
	if upd.ExpiresAt != nil {
		expr.Set("expiresAt", *upd.ExpiresAt)
	}
	if upd.ExtendBy != nil {
		expr.Add("expiresAt", *upd.ExtendBy)
	}
	expr.Set("updatedAt", r.now().UTC().Format(time.RFC3339Nano))

	updated, err := r.store.UpdateItem(ctx, r.table, it.Key(), expr)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, errx.E(op, errx.NotFound, ErrShortLinkNotFound)
		}
		return nil, fmt.Errorf("update short link %s: %w", sel.Code, err)
	}

	r.logger.Debug("short link updated",
		zap.String("code", sel.Code),
		zap.String("expression", expr.Expression()),
	)

	link, err := fromItem(updated)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}
	return link, nil
}

func (r *shortLinkRepository) DeleteOne(ctx context.Context, sel model.Selector) (bool, error) {
	const op = "repository.ShortLink.DeleteOne"
	it, _, err := r.findItem(ctx, op, sel.Code, partitionKey(sel.Owner()))
	if err != nil {
		if errx.KindOf(err) == errx.NotFound {
			return false, nil
		}
		return false, err
	}

	if rm, ok := kv.RemoverOf(r.store); ok {
		removed, err := rm.RemoveItem(ctx, r.table, it.Key())
		if err != nil {
			return false, fmt.Errorf("delete short link %s: %w", sel.Code, err)
		}
		return removed, nil
	}
	if err := r.store.DeleteItem(ctx, r.table, it.Key()); err != nil {
		return false, fmt.Errorf("delete short link %s: %w", sel.Code, err)
	}
	return true, nil
}

func (r *shortLinkRepository) IsExist(ctx context.Context, sel model.Selector) (bool, error) {
	const op = "repository.ShortLink.IsExist"
	_, _, err := r.findItem(ctx, op, sel.Code, partitionKey(sel.Owner()))
	if err != nil {
		if errx.KindOf(err) == errx.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecordClick increments the click counter of the link with code.
func (r *shortLinkRepository) RecordClick(ctx context.Context, code string) error {
	const op = "repository.ShortLink.RecordClick"
	it, _, err := r.findItem(ctx, op, code, "")
	if err != nil {
		return err
	}

	_, err = r.store.UpdateItem(ctx, r.table, it.Key(), kv.NewUpdate().Add("clicks", 1))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return errx.E(op, errx.NotFound, ErrShortLinkNotFound)
		}
		return fmt.Errorf("record click %s: %w", code, err)
	}
	return nil
}

// DeleteExpired removes links whose expiry is before the given time. Backends
// without sweeping support return kv.ErrSweepUnsupported.
func (r *shortLinkRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const op = "repository.ShortLink.DeleteExpired"
	sw, ok := kv.SweeperOf(r.store)
	if !ok {
		return 0, errx.E(op, errx.Internal, kv.ErrSweepUnsupported)
	}
	n, err := sw.DeleteExpired(ctx, r.table, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired short links: %w", err)
	}
	return n, nil
}

func (r *shortLinkRepository) observe(result string) {
	if r.observer != nil {
		r.observer.CreateAttempt(result)
	}
}

func toItem(link *model.ShortLink) (kv.Item, error) {
	raw, err := json.Marshal(link)
	if err != nil {
		return kv.Item{}, fmt.Errorf("encode short link: %w", err)
	}
	attrs := kv.Attributes{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return kv.Item{}, fmt.Errorf("encode short link: %w", err)
	}
	return kv.Item{
		PK:     partitionKey(link.OwnerID),
		SK:     sortKey(link.CreatedAt, link.Code),
		GSI1PK: indexKey(link.Code),
		GSI1SK: partitionKey(link.OwnerID),
		Attrs:  attrs,
	}, nil
}

func fromItem(it kv.Item) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := it.Decode(&link); err != nil {
		return nil, fmt.Errorf("decode short link %s: %w", it.Key(), err)
	}
	return &link, nil
}
