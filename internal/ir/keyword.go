package ir

import (
	"fmt"
	"strings"
)

// Keyword is a namespaced identifier such as ":foo/bar".
//
// Keywords name attributes, vocabularies, and enum values. A Keyword is
// always stored with its leading colon.
type Keyword string

// NewKeyword builds ":namespace/name".
func NewKeyword(namespace, name string) Keyword {
	return Keyword(":" + namespace + "/" + name)
}

// ParseKeyword validates s and returns it as a namespaced Keyword.
// The leading colon is optional on input.
func ParseKeyword(s string) (Keyword, error) {
	if !strings.HasPrefix(s, ":") {
		s = ":" + s
	}
	k := Keyword(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// MustKeyword is like ParseKeyword but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustKeyword(s string) Keyword {
	k, err := ParseKeyword(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Namespace returns the part between the colon and the slash.
func (k Keyword) Namespace() string {
	ns, _, ok := strings.Cut(strings.TrimPrefix(string(k), ":"), "/")
	if !ok {
		return ""
	}
	return ns
}

// Name returns the part after the slash, or the whole keyword body if it
// has no namespace.
func (k Keyword) Name() string {
	body := strings.TrimPrefix(string(k), ":")
	if _, name, ok := strings.Cut(body, "/"); ok {
		return name
	}
	return body
}

// IsNamespaced reports whether k has both a namespace and a name.
func (k Keyword) IsNamespaced() bool {
	return k.Namespace() != "" && k.Name() != ""
}

// Validate checks that k is of the form ":ns/name" with no whitespace and
// exactly one slash.
func (k Keyword) Validate() error {
	s := string(k)
	if !strings.HasPrefix(s, ":") {
		return fmt.Errorf("invalid keyword %q: missing leading ':'", s)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return fmt.Errorf("invalid keyword %q: contains whitespace", s)
	}
	if strings.Count(s, "/") != 1 {
		return fmt.Errorf("invalid keyword %q: expected exactly one '/'", s)
	}
	if !k.IsNamespaced() {
		return fmt.Errorf("invalid keyword %q: namespace and name must be non-empty", s)
	}
	return nil
}

// String returns the keyword including its leading colon.
func (k Keyword) String() string {
	return string(k)
}

func (Keyword) entityRef() {}
func (Keyword) value()     {}
