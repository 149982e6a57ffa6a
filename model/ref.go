package model

import (
	"fmt"
	"strings"
)

// Ref is a parsed "provider:model" reference, e.g. "openai:gpt-4o-mini".
type Ref struct {
	Provider string
	Name     string
}

// ParseRef parses s into a Ref. Both parts must be non-empty.
func ParseRef(s string) (Ref, error) {
	provider, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Ref{}, fmt.Errorf("model reference %q must have the form provider:model", s)
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	name = strings.TrimSpace(name)

	if provider == "" || name == "" {
		return Ref{}, fmt.Errorf("model reference %q must have the form provider:model", s)
	}

	return Ref{Provider: provider, Name: name}, nil
}

func (r Ref) String() string { return r.Provider + ":" + r.Name }
