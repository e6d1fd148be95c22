package kv

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sifan077/shortlinkd/internal/errx"
)

var (
	tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,255}$`)
	attrNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

var reservedNames = map[string]bool{
	"pk":     true,
	"sk":     true,
	"gsi1pk": true,
	"gsi1sk": true,
}

// Invalid builds a validation error for op.
func Invalid(op, format string, args ...any) error {
	return errx.E(op, errx.Invalid, fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...))
}

// Collision builds the error returned when a conditional put finds an
// existing item.
func Collision(op, table string, key Key) error {
	return errx.E(op, errx.Conflict, fmt.Errorf("table %s, %s: %w", table, key, ErrCollision))
}

// NotFound builds the error returned when an update addresses a missing item.
func NotFound(op, table string, key Key) error {
	return errx.E(op, errx.NotFound, fmt.Errorf("table %s, %s: %w", table, key, ErrNotFound))
}

// Unavailable wraps a backend failure with the table and key involved.
func Unavailable(op, table string, key Key, err error) error {
	if key == (Key{}) {
		return errx.E(op, errx.Unavailable, fmt.Errorf("table %s: %w", table, err))
	}
	return errx.E(op, errx.Unavailable, fmt.Errorf("table %s, %s: %w", table, key, err))
}

// ValidateTable checks a table name.
func ValidateTable(op, table string) error {
	if table == "" {
		return Invalid(op, "table name is required")
	}
	if !tableNamePattern.MatchString(table) {
		return Invalid(op, "table name %q is malformed", table)
	}
	return nil
}

// ValidateKey checks that both halves of a primary key are present.
func ValidateKey(op string, key Key) error {
	if key.PK == "" || key.SK == "" {
		return Invalid(op, "partition key and sort key are required")
	}
	return nil
}

// ValidateAttributeName checks one attribute name.
func ValidateAttributeName(op, name string) error {
	if !attrNamePattern.MatchString(name) {
		return Invalid(op, "attribute name %q is malformed", name)
	}
	if reservedNames[strings.ToLower(name)] {
		return Invalid(op, "attribute name %q is reserved for keys", name)
	}
	return nil
}

// ValidatePut checks the arguments of PutItem.
func ValidatePut(op, table string, item Item) error {
	if err := ValidateTable(op, table); err != nil {
		return err
	}
	if err := ValidateKey(op, item.Key()); err != nil {
		return err
	}
	if item.GSI1SK != "" && item.GSI1PK == "" {
		return Invalid(op, "GSI1SK requires GSI1PK")
	}
	for name := range item.Attrs {
		if err := ValidateAttributeName(op, name); err != nil {
			return err
		}
	}
	if _, err := json.Marshal(item.Attrs); err != nil {
		return Invalid(op, "attributes are not encodable: %v", err)
	}
	return nil
}

// ValidateQuery checks the arguments of GetItems.
func ValidateQuery(op, table string, q Query) error {
	if err := ValidateTable(op, table); err != nil {
		return err
	}
	if q.IndexName != "" && q.IndexName != IndexGSI1 {
		return Invalid(op, "unknown index %q", q.IndexName)
	}
	if q.Key.Partition == "" {
		return Invalid(op, "key condition requires a partition value")
	}
	if q.Key.SortPrefix != "" && q.Key.SortEquals != "" {
		return Invalid(op, "key condition accepts a sort prefix or an exact sort key, not both")
	}
	if q.Limit <= 0 || q.Limit > MaxLimit {
		return Invalid(op, "limit must be between 1 and %d, got %d", MaxLimit, q.Limit)
	}
	for _, c := range q.Filter {
		if err := ValidateAttributeName(op, c.Name); err != nil {
			return err
		}
	}
	if sk := q.ExclusiveStartKey; sk != nil {
		if err := ValidateKey(op, sk.Primary()); err != nil {
			return err
		}
		if q.IndexName == IndexGSI1 && sk.IndexPK != q.Key.Partition {
			return Invalid(op, "exclusive start key does not belong to the queried partition")
		}
		if q.IndexName == "" && sk.PK != q.Key.Partition {
			return Invalid(op, "exclusive start key does not belong to the queried partition")
		}
	}
	return nil
}

// ValidateUpdate checks the arguments of UpdateItem.
func ValidateUpdate(op, table string, key Key, upd *Update) error {
	if err := ValidateTable(op, table); err != nil {
		return err
	}
	if err := ValidateKey(op, key); err != nil {
		return err
	}
	if upd.Len() == 0 {
		return Invalid(op, "update expression is required")
	}
	names := upd.attributeNames()
	for i, name := range names {
		if err := ValidateAttributeName(op, name); err != nil {
			return err
		}
		if i > 0 && names[i-1] == name {
			return Invalid(op, "attribute %q appears twice in the update expression", name)
		}
	}
	if _, err := json.Marshal(upd.Sets()); err != nil {
		return Invalid(op, "update values are not encodable: %v", err)
	}
	return nil
}

// ValidateDelete checks the arguments of DeleteItem.
func ValidateDelete(op, table string, key Key) error {
	if err := ValidateTable(op, table); err != nil {
		return err
	}
	return ValidateKey(op, key)
}

// NormalizeAttributes returns attrs in decoded JSON form (numbers become
// float64, structs become maps). Backends use it so that every store hands
// back the same shapes.
func NormalizeAttributes(attrs Attributes) (Attributes, error) {
	if attrs == nil {
		return Attributes{}, nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	out := Attributes{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeValue returns v in decoded JSON form.
func NormalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode copies the attributes of item into v, which is typically a pointer
// to a struct with json tags.
func (it Item) Decode(v any) error {
	raw, err := json.Marshal(it.Attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
