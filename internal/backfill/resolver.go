package backfill

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// CatalogLookup is the read side the resolver needs.
type CatalogLookup interface {
	FindCatalogItemID(ctx context.Context, name string) (uuid.UUID, error)
}

// Resolver maps catalog item names to ids. Lookups are exact and case-sensitive;
// when the store holds duplicates the first row in insertion order wins.
type Resolver struct {
	lookup CatalogLookup
	cache  map[string]uuid.UUID
}

// NewResolver constructs a resolver with an empty per-run cache.
func NewResolver(lookup CatalogLookup) *Resolver {
	return &Resolver{lookup: lookup, cache: make(map[string]uuid.UUID)}
}

// ResolveItemID returns the id for name or ErrNotFound.
func (r *Resolver) ResolveItemID(ctx context.Context, name string) (uuid.UUID, error) {
	if r == nil || r.lookup == nil {
		return uuid.Nil, ErrRepositoryNotInitialised
	}
	if id, ok := r.cache[name]; ok {
		return id, nil
	}
	id, err := r.lookup.FindCatalogItemID(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, storeErr("find catalog item", err)
	}
	r.cache[name] = id
	return id, nil
}
