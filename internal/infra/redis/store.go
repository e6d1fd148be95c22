package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sifan077/shortlinkd/internal/kv"
)

// Layout, per logical table t (the hash tag keeps a table on one slot):
//
//	kv:{t}:i:<pk>\x1f<sk>  hash: pk, sk, gsi1pk, gsi1sk, a:<attr> = JSON value
//	kv:{t}:p:<pk>          zset of sort keys, score 0, scanned by lex range
//	kv:{t}:g               hash: gsi1pk -> <pk>\x1f<sk>
//	kv:{t}:ttl             zset of <pk>\x1f<sk> scored by the TTL attribute
//
// Every script receives the keys it touches in KEYS, so the store also runs
// against a cluster through redis.UniversalClient.
const (
	refSep     = "\x1f"
	attrPrefix = "a:"
	sweepBatch = 500
)

var putScript = redis.NewScript(`
local exists = redis.call('EXISTS', KEYS[1]) == 1
if exists and ARGV[1] ~= '1' then return 0 end
if ARGV[4] ~= '' then
  local owner = redis.call('HGET', KEYS[3], ARGV[4])
  if owner and owner ~= ARGV[7] then return 0 end
end
if exists then
  local prev = redis.call('HGET', KEYS[1], 'gsi1pk')
  if prev and prev ~= '' and prev ~= ARGV[4] then redis.call('HDEL', KEYS[3], prev) end
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], 'pk', ARGV[2], 'sk', ARGV[3], 'gsi1pk', ARGV[4], 'gsi1sk', ARGV[5])
for i = 8, #ARGV, 2 do redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1]) end
redis.call('ZADD', KEYS[2], 0, ARGV[3])
if ARGV[4] ~= '' then redis.call('HSET', KEYS[3], ARGV[4], ARGV[7]) end
if ARGV[6] ~= '' then
  redis.call('ZADD', KEYS[4], ARGV[6], ARGV[7])
else
  redis.call('ZREM', KEYS[4], ARGV[7])
end
return 1
`)

var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
local first_add = 4 + 2 * tonumber(ARGV[3])
local sums = {}
for i = first_add, #ARGV, 2 do
  local cur = redis.call('HGET', KEYS[1], ARGV[i])
  local v = 0
  if cur then
    v = tonumber(cur)
    if v == nil then return redis.error_reply('NOT_NUMERIC ' .. ARGV[i]) end
  end
  sums[#sums + 1] = v + tonumber(ARGV[i + 1])
end
for i = 4, first_add - 1, 2 do redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1]) end
local j = 1
for i = first_add, #ARGV, 2 do
  local s = sums[j]
  j = j + 1
  if s == math.floor(s) then
    redis.call('HSET', KEYS[1], ARGV[i], string.format('%d', s))
  else
    redis.call('HSET', KEYS[1], ARGV[i], string.format('%.17g', s))
  end
end
if ARGV[2] ~= '' then
  local ttl = redis.call('HGET', KEYS[1], ARGV[2])
  local score = ttl and tonumber(ttl)
  if score then
    redis.call('ZADD', KEYS[2], score, ARGV[1])
  else
    redis.call('ZREM', KEYS[2], ARGV[1])
  end
end
return redis.call('HGETALL', KEYS[1])
`)

// deleteScript removes one item. With ARGV[3] set it only removes the item
// while its TTL score is still below ARGV[3].
var deleteScript = redis.NewScript(`
if ARGV[3] then
  local score = redis.call('ZSCORE', KEYS[4], ARGV[2])
  if not score or tonumber(score) >= tonumber(ARGV[3]) then return 0 end
end
local g = redis.call('HGET', KEYS[1], 'gsi1pk')
if g and g ~= '' and redis.call('HGET', KEYS[3], g) == ARGV[2] then
  redis.call('HDEL', KEYS[3], g)
end
local removed = redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[2])
return removed
`)


// Store implements kv.Store on Redis.
type Store struct {
	rdb  redis.UniversalClient
	opts kv.Options
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Remover = (*Store)(nil)
	_ kv.Sweeper = (*Store)(nil)
)

// NewStore returns a Store using rdb.
func NewStore(rdb redis.UniversalClient, opts ...kv.Option) *Store {
	return &Store{rdb: rdb, opts: kv.ApplyOptions(opts...)}
}

type keyspace struct {
	table string
}

func (k keyspace) prefix() string             { return "kv:{" + k.table + "}:" }
func (k keyspace) itemPrefix() string         { return k.prefix() + "i:" }
func (k keyspace) partitionPrefix() string    { return k.prefix() + "p:" }
func (k keyspace) item(key kv.Key) string     { return k.itemPrefix() + ref(key) }
func (k keyspace) partition(pk string) string { return k.partitionPrefix() + pk }
func (k keyspace) index() string              { return k.prefix() + "g" }
func (k keyspace) ttl() string                { return k.prefix() + "ttl" }

// itemKeys lists the keys deleteScript touches for key.
func (k keyspace) itemKeys(key kv.Key) []string {
	return []string{k.item(key), k.partition(key.PK), k.index(), k.ttl()}
}

func ref(key kv.Key) string { return key.PK + refSep + key.SK }

// parseRef is the inverse of ref.
func parseRef(r string) (kv.Key, bool) {
	pk, sk, ok := strings.Cut(r, refSep)
	if !ok || pk == "" || sk == "" {
		return kv.Key{}, false
	}
	return kv.Key{PK: pk, SK: sk}, true
}

func validateSeparator(op string, keys ...string) error {
	for _, k := range keys {
		if strings.Contains(k, refSep) {
			return kv.Invalid(op, "key values must not contain the unit separator")
		}
	}
	return nil
}

func (s *Store) PutItem(ctx context.Context, table string, item kv.Item, overwrite bool) error {
	const op = "kv.redis.PutItem"
	if err := kv.ValidatePut(op, table, item); err != nil {
		return err
	}
	if err := validateSeparator(op, item.PK, item.SK); err != nil {
		return err
	}

	attrs, err := kv.NormalizeAttributes(item.Attrs)
	if err != nil {
		return kv.Invalid(op, "attributes are not encodable: %v", err)
	}

	ks := keyspace{table}
	key := item.Key()
	ttl := ""
	if name := s.opts.TTLAttribute; name != "" {
		if f, ok := attrs[name].(float64); ok {
			ttl = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}

	argv := []any{boolArg(overwrite), item.PK, item.SK, item.GSI1PK, item.GSI1SK, ttl, ref(key)}
	for name, v := range attrs {
		raw, err := json.Marshal(v)
		if err != nil {
			return kv.Invalid(op, "attribute %q is not encodable: %v", name, err)
		}
		argv = append(argv, attrPrefix+name, string(raw))
	}

	res, err := putScript.Run(ctx, s.rdb,
		[]string{ks.item(key), ks.partition(item.PK), ks.index(), ks.ttl()}, argv...).Int()
	if err != nil {
		return kv.Unavailable(op, table, key, err)
	}
	if res == 0 {
		return kv.Collision(op, table, key)
	}
	return nil
}

func (s *Store) GetItems(ctx context.Context, table string, q kv.Query) (kv.Page, error) {
	const op = "kv.redis.GetItems"
	if err := kv.ValidateQuery(op, table, q); err != nil {
		return kv.Page{}, err
	}
	filter, err := kv.NormalizeFilter(q.Filter)
	if err != nil {
		return kv.Page{}, kv.Invalid(op, "filter values are not encodable: %v", err)
	}

	var items []kv.Item
	if q.IndexName == kv.IndexGSI1 {
		items, err = s.queryIndex(ctx, keyspace{table}, q, filter)
	} else {
		items, err = s.queryPartition(ctx, keyspace{table}, q, filter)
	}
	if err != nil {
		return kv.Page{}, kv.Unavailable(op, table, kv.Key{}, err)
	}

	page := kv.Page{Items: items}
	if len(items) > q.Limit {
		page.Items = items[:q.Limit]
		last := page.Items[q.Limit-1].KeyFor(q.IndexName)
		page.LastEvaluatedKey = &last
	}
	if page.Items == nil {
		page.Items = []kv.Item{}
	}
	return page, nil
}

// queryPartition scans the partition's sort keys in lex order and returns up
// to Limit+1 matching items.
func (s *Store) queryPartition(ctx context.Context, ks keyspace, q kv.Query, filter []kv.Condition) ([]kv.Item, error) {
	r := newLexRange(q.Key)
	if start := q.ExclusiveStartKey; start != nil {
		r.resumeAfter(start.SK, q.NewestFirst)
	}

	want := q.Limit + 1
	batch := int64(want)
	var out []kv.Item
	for len(out) < want {
		members, err := s.rdb.ZRangeArgs(ctx, redis.ZRangeArgs{
			Key:   ks.partition(q.Key.Partition),
			Start: r.min,
			Stop:  r.max,
			ByLex: true,
			Rev:   q.NewestFirst,
			Count: batch,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			break
		}

		items, err := s.loadItems(ctx, ks, q.Key.Partition, members)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if kv.MatchesFilter(it.Attrs, filter) {
				out = append(out, it)
				if len(out) == want {
					break
				}
			}
		}

		if int64(len(members)) < batch {
			break
		}
		r.resumeAfter(members[len(members)-1], q.NewestFirst)
	}
	return out, nil
}

func (s *Store) queryIndex(ctx context.Context, ks keyspace, q kv.Query, filter []kv.Condition) ([]kv.Item, error) {
	target, err := s.rdb.HGet(ctx, ks.index(), q.Key.Partition).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields, err := s.rdb.HGetAll(ctx, ks.itemPrefix()+target).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	it, err := decodeItem(fields)
	if err != nil {
		return nil, err
	}

	switch {
	case q.Key.SortEquals != "" && it.GSI1SK != q.Key.SortEquals:
		return nil, nil
	case q.Key.SortPrefix != "" && !strings.HasPrefix(it.GSI1SK, q.Key.SortPrefix):
		return nil, nil
	case !kv.MatchesFilter(it.Attrs, filter):
		return nil, nil
	}
	// A partition holds one item, so any cursor has already returned it.
	if q.ExclusiveStartKey != nil {
		return nil, nil
	}
	return []kv.Item{it}, nil
}

func (s *Store) loadItems(ctx context.Context, ks keyspace, pk string, sortKeys []string) ([]kv.Item, error) {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sortKeys))
	for i, sk := range sortKeys {
		cmds[i] = pipe.HGetAll(ctx, ks.item(kv.Key{PK: pk, SK: sk}))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	items := make([]kv.Item, 0, len(sortKeys))
	for _, cmd := range cmds {
		fields := cmd.Val()
		// Deleted between the range read and the fetch.
		if len(fields) == 0 {
			continue
		}
		it, err := decodeItem(fields)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) UpdateItem(ctx context.Context, table string, key kv.Key, upd *kv.Update) (kv.Item, error) {
	const op = "kv.redis.UpdateItem"
	if err := kv.ValidateUpdate(op, table, key, upd); err != nil {
		return kv.Item{}, err
	}
	if err := validateSeparator(op, key.PK, key.SK); err != nil {
		return kv.Item{}, err
	}

	sets, err := kv.NormalizeAttributes(upd.Sets())
	if err != nil {
		return kv.Item{}, kv.Invalid(op, "update values are not encodable: %v", err)
	}

	ks := keyspace{table}
	key = key.Primary()
	ttlField := ""
	if s.opts.TTLAttribute != "" {
		ttlField = attrPrefix + s.opts.TTLAttribute
	}

	argv := []any{ref(key), ttlField, len(sets)}
	for name, v := range sets {
		raw, err := json.Marshal(v)
		if err != nil {
			return kv.Item{}, kv.Invalid(op, "attribute %q is not encodable: %v", name, err)
		}
		argv = append(argv, attrPrefix+name, string(raw))
	}
	for name, delta := range upd.Adds() {
		argv = append(argv, attrPrefix+name, delta)
	}

	res, err := updateScript.Run(ctx, s.rdb, []string{ks.item(key), ks.ttl()}, argv...).StringSlice()
	switch {
	case errors.Is(err, redis.Nil):
		return kv.Item{}, kv.NotFound(op, table, key)
	case err != nil && strings.HasPrefix(err.Error(), "NOT_NUMERIC"):
		return kv.Item{}, kv.Invalid(op, "attribute %q is not numeric", strings.TrimPrefix(strings.TrimPrefix(err.Error(), "NOT_NUMERIC "), attrPrefix))
	case err != nil:
		return kv.Item{}, kv.Unavailable(op, table, key, err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	it, err := decodeItem(fields)
	if err != nil {
		return kv.Item{}, kv.Unavailable(op, table, key, err)
	}
	return it, nil
}

func (s *Store) DeleteItem(ctx context.Context, table string, key kv.Key) error {
	_, err := s.remove(ctx, "kv.redis.DeleteItem", table, key)
	return err
}

// RemoveItem deletes key and reports whether the item hash existed.
func (s *Store) RemoveItem(ctx context.Context, table string, key kv.Key) (bool, error) {
	return s.remove(ctx, "kv.redis.RemoveItem", table, key)
}

func (s *Store) remove(ctx context.Context, op, table string, key kv.Key) (bool, error) {
	if err := kv.ValidateDelete(op, table, key); err != nil {
		return false, err
	}
	if err := validateSeparator(op, key.PK, key.SK); err != nil {
		return false, err
	}

	ks := keyspace{table}
	key = key.Primary()
	n, err := deleteScript.Run(ctx, s.rdb, ks.itemKeys(key), key.SK, ref(key)).Int64()
	if err != nil {
		return false, kv.Unavailable(op, table, key, err)
	}
	return n > 0, nil
}

// DeleteExpired removes items whose TTL attribute is below before, in batches.
func (s *Store) DeleteExpired(ctx context.Context, table string, before time.Time) (int64, error) {
	const op = "kv.redis.DeleteExpired"
	if err := kv.ValidateTable(op, table); err != nil {
		return 0, err
	}
	if s.opts.TTLAttribute == "" {
		return 0, kv.Invalid(op, "no TTL attribute configured")
	}

	ks := keyspace{table}
	cutoff := strconv.FormatInt(before.UnixMilli(), 10)
	var total int64
	for {
		refs, err := s.rdb.ZRangeByScore(ctx, ks.ttl(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + cutoff,
			Count: sweepBatch,
		}).Result()
		if err != nil {
			return total, kv.Unavailable(op, table, kv.Key{}, err)
		}

		for _, r := range refs {
			key, ok := parseRef(r)
			if !ok {
				if err := s.rdb.ZRem(ctx, ks.ttl(), r).Err(); err != nil {
					return total, kv.Unavailable(op, table, kv.Key{}, err)
				}
				continue
			}
			// The score is checked again inside the script: the item may
			// have been extended since the range was read.
			n, err := deleteScript.Run(ctx, s.rdb, ks.itemKeys(key), key.SK, r, cutoff).Int64()
			if err != nil {
				return total, kv.Unavailable(op, table, key, err)
			}
			total += n
		}

		if len(refs) < sweepBatch {
			return total, nil
		}
	}
}

func decodeItem(fields map[string]string) (kv.Item, error) {
	it := kv.Item{
		PK:     fields["pk"],
		SK:     fields["sk"],
		GSI1PK: fields["gsi1pk"],
		GSI1SK: fields["gsi1sk"],
		Attrs:  kv.Attributes{},
	}
	for field, raw := range fields {
		name, ok := strings.CutPrefix(field, attrPrefix)
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return kv.Item{}, fmt.Errorf("decode attribute %q: %w", name, err)
		}
		it.Attrs[name] = v
	}
	return it, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// lexRange is a ZRANGE BYLEX interval. min and max use Redis bound syntax.
type lexRange struct {
	min, max string
}

func newLexRange(c kv.KeyCondition) lexRange {
	switch {
	case c.SortEquals != "":
		return lexRange{min: "[" + c.SortEquals, max: "[" + c.SortEquals}
	case c.SortPrefix != "":
		r := lexRange{min: "[" + c.SortPrefix, max: "+"}
		if upper, ok := prefixUpperBound(c.SortPrefix); ok {
			r.max = "(" + upper
		}
		return r
	default:
		return lexRange{min: "-", max: "+"}
	}
}

// resumeAfter narrows the range to members strictly past sk in scan order.
func (r *lexRange) resumeAfter(sk string, newestFirst bool) {
	if newestFirst {
		if r.max == "+" || sk <= r.max[1:] {
			r.max = "(" + sk
		}
		return
	}
	if r.min == "-" || sk >= r.min[1:] {
		r.min = "(" + sk
	}
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
