// Package kv defines a single-table key-value store contract with conditional
// writes, ordered partition queries and one unique secondary index.
//
// Every item lives in a table addressed by a partition key (PK) and a sort key
// (SK). Items may also carry a GSI1 key pair; the GSI1 partition key is unique
// per table, so it can be used for direct lookups that do not depend on the
// primary layout. The store knows nothing about what the items mean.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IndexGSI1 names the only secondary index. An empty index name means the
// primary key.
const IndexGSI1 = "GSI1"

// MaxLimit caps the page size a single query may request.
const MaxLimit = 1000

var (
	// ErrValidation is wrapped by every input validation failure.
	ErrValidation = errors.New("kv: validation failed")
	// ErrCollision signals that a conditional put found an existing item.
	ErrCollision = errors.New("kv: conditional check failed")
	// ErrNotFound signals that the addressed item does not exist.
	ErrNotFound = errors.New("kv: item not found")
	// ErrSweepUnsupported is returned by SweeperOf consumers when a backend
	// cannot delete expired items.
	ErrSweepUnsupported = errors.New("kv: backend does not support expiry sweeping")
)

// Store is implemented by every backend.
type Store interface {
	// PutItem inserts item. Unless overwrite is set, it fails with
	// ErrCollision when the primary key or the GSI1 partition key is taken.
	PutItem(ctx context.Context, table string, item Item, overwrite bool) error
	// GetItems runs a key-condition query against the primary key or GSI1.
	GetItems(ctx context.Context, table string, q Query) (Page, error)
	// UpdateItem applies upd to exactly one existing item and returns the
	// item as stored after the update.
	UpdateItem(ctx context.Context, table string, key Key, upd *Update) (Item, error)
	// DeleteItem removes one item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, table string, key Key) error
}

// Remover is implemented by backends whose delete can report whether the
// item existed. Of several concurrent removals of one key exactly one
// reports true.
type Remover interface {
	RemoveItem(ctx context.Context, table string, key Key) (bool, error)
}

// Sweeper is implemented by backends that delete expired items on demand.
type Sweeper interface {
	DeleteExpired(ctx context.Context, table string, before time.Time) (int64, error)
}

// Key addresses an item. IndexPK and IndexSK are only set on keys returned by
// GSI1 queries, where they are needed to resume the scan.
type Key struct {
	PK      string `json:"pk"`
	SK      string `json:"sk"`
	IndexPK string `json:"ipk,omitempty"`
	IndexSK string `json:"isk,omitempty"`
}

// Primary strips the index part of the key.
func (k Key) Primary() Key {
	return Key{PK: k.PK, SK: k.SK}
}

func (k Key) String() string {
	return fmt.Sprintf("PK=%s SK=%s", k.PK, k.SK)
}

// Attributes holds the non-key fields of an item. Values must be JSON
// encodable; backends hand them back in their decoded JSON form.
type Attributes map[string]any

// Item is a stored record.
type Item struct {
	PK     string
	SK     string
	GSI1PK string
	GSI1SK string
	Attrs  Attributes
}

// Key returns the primary key of the item.
func (it Item) Key() Key {
	return Key{PK: it.PK, SK: it.SK}
}

// KeyFor returns the key a query on index would report for this item.
func (it Item) KeyFor(index string) Key {
	k := it.Key()
	if index == IndexGSI1 {
		k.IndexPK = it.GSI1PK
		k.IndexSK = it.GSI1SK
	}
	return k
}

// KeyCondition selects a single partition and, optionally, a sort-key range.
// SortPrefix and SortEquals are mutually exclusive.
type KeyCondition struct {
	Partition  string
	SortPrefix string
	SortEquals string
}

// Expression renders the condition the way the store logs it.
func (c KeyCondition) Expression(index string) string {
	pk, sk := "PK", "SK"
	if index == IndexGSI1 {
		pk, sk = "GSI1PK", "GSI1SK"
	}
	expr := pk + " = :pk"
	switch {
	case c.SortEquals != "":
		expr += " AND " + sk + " = :sk"
	case c.SortPrefix != "":
		expr += " AND begins_with(" + sk + ", :prefix)"
	}
	return expr
}

// Values returns the placeholder bindings for Expression.
func (c KeyCondition) Values() map[string]string {
	v := map[string]string{":pk": c.Partition}
	switch {
	case c.SortEquals != "":
		v[":sk"] = c.SortEquals
	case c.SortPrefix != "":
		v[":prefix"] = c.SortPrefix
	}
	return v
}

// Condition is an equality filter on one attribute.
type Condition struct {
	Name  string
	Value any
}

// Query describes a GetItems call.
type Query struct {
	IndexName         string
	Key               KeyCondition
	Filter            []Condition
	ExclusiveStartKey *Key
	NewestFirst       bool
	Limit             int
}

// FilterExpression renders the filter for logs, e.g. "#active = :active".
func (q Query) FilterExpression() string {
	if len(q.Filter) == 0 {
		return ""
	}
	parts := make([]string, len(q.Filter))
	for i, c := range q.Filter {
		parts[i] = "#" + c.Name + " = :" + c.Name
	}
	return strings.Join(parts, " AND ")
}

// Page is one page of query results. LastEvaluatedKey is nil when the query
// is exhausted.
type Page struct {
	Items            []Item
	LastEvaluatedKey *Key
}
