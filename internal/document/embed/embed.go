// Package embed defines the boundary to the embedding resolver, the
// external collaborator that augments document views with referenced
// documents. The core treats it as opaque.
package embed

import (
	"context"

	"docstate/internal/document/model"
	"docstate/internal/resource"
)

type Resolver interface {
	ResolveMany(ctx context.Context, r *resource.Resource, embed []string, user *model.User, docs []*model.DocumentView, others map[string]*resource.Resource) error
	ResolveOne(ctx context.Context, r *resource.Resource, embed []string, user *model.User, doc *model.DocumentView, others map[string]*resource.Resource) error
}

// Noop leaves views untouched; used when no resolver is wired.
type Noop struct{}

func (Noop) ResolveMany(context.Context, *resource.Resource, []string, *model.User, []*model.DocumentView, map[string]*resource.Resource) error {
	return nil
}

func (Noop) ResolveOne(context.Context, *resource.Resource, []string, *model.User, *model.DocumentView, map[string]*resource.Resource) error {
	return nil
}
