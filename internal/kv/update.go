package kv

import (
	"sort"
	"strings"
)

type updateOp uint8

const (
	opSet updateOp = iota
	opAdd
)

type updateAction struct {
	op    updateOp
	name  string
	value any
}

// Update is a partial-update expression made of SET and ADD clauses. It is
// built incrementally and rendered as
//
//	SET #a = :a, #b = :b ADD #c :c
//
// with matching name and value placeholders.
type Update struct {
	actions []updateAction
}

// NewUpdate returns an empty update expression.
func NewUpdate() *Update {
	return &Update{}
}

// Set assigns value to the named attribute.
func (u *Update) Set(name string, value any) *Update {
	u.actions = append(u.actions, updateAction{op: opSet, name: name, value: value})
	return u
}

// Add increments the named numeric attribute by delta, treating a missing
// attribute as zero.
func (u *Update) Add(name string, delta int64) *Update {
	u.actions = append(u.actions, updateAction{op: opAdd, name: name, value: delta})
	return u
}

// Len reports the number of clauses.
func (u *Update) Len() int {
	if u == nil {
		return 0
	}
	return len(u.actions)
}

// Expression renders the update the way the store logs it.
func (u *Update) Expression() string {
	if u.Len() == 0 {
		return ""
	}
	var sets, adds []string
	for _, a := range u.actions {
		switch a.op {
		case opSet:
			sets = append(sets, "#"+a.name+" = :"+a.name)
		case opAdd:
			adds = append(adds, "#"+a.name+" :"+a.name)
		}
	}
	var b strings.Builder
	if len(sets) > 0 {
		b.WriteString("SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	if len(adds) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("ADD ")
		b.WriteString(strings.Join(adds, ", "))
	}
	return b.String()
}

// Names returns the attribute-name placeholders used by Expression.
func (u *Update) Names() map[string]string {
	names := make(map[string]string, u.Len())
	for _, a := range u.actions {
		names["#"+a.name] = a.name
	}
	return names
}

// Values returns the value placeholders used by Expression.
func (u *Update) Values() map[string]any {
	values := make(map[string]any, u.Len())
	for _, a := range u.actions {
		values[":"+a.name] = a.value
	}
	return values
}

// Sets returns the SET clauses keyed by attribute name.
func (u *Update) Sets() map[string]any {
	out := make(map[string]any)
	for _, a := range u.actions {
		if a.op == opSet {
			out[a.name] = a.value
		}
	}
	return out
}

// Adds returns the ADD clauses keyed by attribute name.
func (u *Update) Adds() map[string]int64 {
	out := make(map[string]int64)
	for _, a := range u.actions {
		if a.op == opAdd {
			out[a.name] = a.value.(int64)
		}
	}
	return out
}

// attributeNames lists every attribute the update touches, sorted.
func (u *Update) attributeNames() []string {
	names := make([]string, 0, u.Len())
	for _, a := range u.actions {
		names = append(names, a.name)
	}
	sort.Strings(names)
	return names
}
