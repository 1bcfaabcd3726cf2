// Package identity finds existing visitor records. Matching is exact only:
// differently spelled names are never merged.
package identity

import (
	"context"
	"strings"

	"visitorlog/internal/model"
)

// Finder is the storage lookup the resolver needs.
type Finder interface {
	FindVisitorByName(ctx context.Context, name string) (*model.Visitor, error)
	FindVisitorByEmail(ctx context.Context, email string) (*model.Visitor, error)
}

// Resolver finds visitors by their matching keys.
type Resolver struct {
	finder Finder
}

func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder}
}

// FindByName matches the trimmed name case-insensitively. Nil means no match.
func (r *Resolver) FindByName(ctx context.Context, name string) (*model.Visitor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return r.finder.FindVisitorByName(ctx, name)
}

// FindByEmail matches the trimmed email exactly, case included. Nil means no match.
func (r *Resolver) FindByEmail(ctx context.Context, email string) (*model.Visitor, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	return r.finder.FindVisitorByEmail(ctx, email)
}

// Resolve tries the name first and falls back to the email.
func (r *Resolver) Resolve(ctx context.Context, name, email string) (*model.Visitor, error) {
	v, err := r.FindByName(ctx, name)
	if err != nil || v != nil {
		return v, err
	}
	return r.FindByEmail(ctx, email)
}

// NameEquals is the name comparison used everywhere a visitor is matched.
func NameEquals(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ContainsFold reports whether s contains substr, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// HasPrefixFold reports whether s starts with prefix, ignoring case.
func HasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}
