// Package scopes implements the OAuth2 scope set: an order-insensitive,
// duplicate-free collection of scope tokens that serializes to a
// space-joined string.
package scopes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Set is a set of scope tokens. The zero value is an empty set.
// Tokens keep the order in which they were first added so that String is
// stable, but equality and subset checks ignore order.
type Set struct {
	items []string
}

// Parse splits s on whitespace and removes duplicates.
func Parse(s string) Set {
	return New(strings.Fields(s)...)
}

// New builds a set from the given tokens, skipping blanks and duplicates.
func New(tokens ...string) Set {
	var out Set
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" || out.Has(t) {
			continue
		}
		out.items = append(out.items, t)
	}
	return out
}

// Valid reports whether raw is a usable scope parameter: no tab, carriage
// return or line feed inside it.
func Valid(raw string) bool {
	return !strings.ContainsAny(raw, "\r\n\t")
}

// String returns the space-joined representation.
func (s Set) String() string {
	return strings.Join(s.items, " ")
}

// Len returns the number of scopes.
func (s Set) Len() int { return len(s.items) }

// IsEmpty reports whether the set has no scopes.
func (s Set) IsEmpty() bool { return len(s.items) == 0 }

// All returns a copy of the scope tokens.
func (s Set) All() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Has reports whether scope is in the set.
func (s Set) Has(scope string) bool {
	for _, it := range s.items {
		if it == scope {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one of the given scopes is in the set.
func (s Set) HasAny(scopes ...string) bool {
	for _, sc := range scopes {
		if s.Has(sc) {
			return true
		}
	}
	return false
}

// IsSubsetOf reports whether every scope of s is present in other.
// The empty set is a subset of every set.
func (s Set) IsSubsetOf(other Set) bool {
	for _, it := range s.items {
		if !other.Has(it) {
			return false
		}
	}
	return true
}

// Union returns the scopes present in either set.
func (s Set) Union(other Set) Set {
	return New(append(s.All(), other.items...)...)
}

// Intersect returns the scopes present in both sets, in the order of s.
func (s Set) Intersect(other Set) Set {
	var out Set
	for _, it := range s.items {
		if other.Has(it) {
			out.items = append(out.items, it)
		}
	}
	return out
}

// Equal reports set equality regardless of order.
func (s Set) Equal(other Set) bool {
	return s.Len() == other.Len() && s.IsSubsetOf(other)
}

// Value implements driver.Valuer.
func (s Set) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *Set) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = Set{}
	case string:
		*s = Parse(v)
	case []byte:
		*s = Parse(string(v))
	default:
		return fmt.Errorf("scopes: cannot scan %T", src)
	}
	return nil
}

// MarshalJSON encodes the set as its space-joined string.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a space-joined string.
func (s *Set) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Parse(raw)
	return nil
}
