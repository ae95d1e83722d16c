package graph

import (
	"context"
	"iter"
	"slices"

	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// Options controls which relations RecursiveResolve follows.
type Options struct {
	// Inwards follows referencing-inward relations of entities whose type
	// is in FilterClass.
	Inwards bool

	// Outwards follows referencing relations and the reference fields held
	// by each entity.
	Outwards bool

	// FilterClass lists the types whose inward relations are followed.
	FilterClass []string

	// FilterSetAssignment narrows, per type, which referencing types are
	// followed inwards. Types without an entry follow all of them.
	FilterSetAssignment map[string][]string
}

// DefaultOptions follows relations in both directions.
func DefaultOptions() Options {
	return Options{Inwards: true, Outwards: true}
}

// Resolved is the ordered set of entities collected by a traversal. An
// entity is identified by its type and id.
type Resolved struct {
	entities []*core.Entity
	seen     map[core.Identity]struct{}
}

// NewResolved creates an empty set.
func NewResolved() *Resolved {
	return &Resolved{seen: make(map[core.Identity]struct{})}
}

// Contains reports whether an entity of typeName with id was collected.
func (r *Resolved) Contains(typeName, id string) bool {
	_, ok := r.seen[core.Identity{Type: typeName, ID: id}]
	return ok
}

// Entities returns the collected entities in the order they were reached.
func (r *Resolved) Entities() []*core.Entity {
	return r.entities
}

// Len returns the number of collected entities.
func (r *Resolved) Len() int {
	return len(r.entities)
}

func (r *Resolved) add(e *core.Entity) bool {
	id := e.Identity()
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	r.entities = append(r.entities, e)
	return true
}

type resolver struct {
	reader   storage.Reader
	registry *core.Registry
	resolved *Resolved
	opts     Options
	inwards  map[string]struct{}
	unknown  map[string]struct{}
}

// RecursiveResolve adds entity and everything reachable from it under opts
// to resolved. Entities already in resolved are not visited again, which
// bounds the traversal on cyclic graphs. References that cannot be resolved
// are logged and skipped.
func RecursiveResolve(ctx context.Context, r storage.Reader, entity *core.Entity, resolved *Resolved, opts Options) error {
	res := &resolver{
		reader:   r,
		registry: r.Serializer().Registry(),
		resolved: resolved,
		opts:     opts,
		inwards:  make(map[string]struct{}, len(opts.FilterClass)),
		unknown:  make(map[string]struct{}),
	}
	for _, name := range opts.FilterClass {
		res.inwards[name] = struct{}{}
	}
	return res.resolve(ctx, entity)
}

// ResolveSubgraph resolves every seed into one set. A new cache access
// cycle starts for each seed.
func ResolveSubgraph(ctx context.Context, r storage.Reader, seeds []*core.Entity, opts Options) (*Resolved, error) {
	resolved := NewResolved()
	for _, seed := range seeds {
		r.Cache().NewCycle()
		if err := RecursiveResolve(ctx, r, seed, resolved, opts); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func (res *resolver) resolve(ctx context.Context, entity *core.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateEntity(entity); err != nil {
		return err
	}
	if !res.resolved.add(entity) {
		return nil
	}

	if _, ok := res.inwards[entity.Type]; res.opts.Inwards && ok {
		rels, err := collect(LoadReferencingInwards(ctx, res.reader, entity.Type, entity.ID))
		if err != nil {
			return err
		}
		allow, narrowed := res.opts.FilterSetAssignment[entity.Type]
		for _, rel := range rels {
			if res.resolved.Contains(rel.Type, rel.ID) {
				continue
			}
			if narrowed && !slices.Contains(allow, rel.Type) {
				continue
			}
			if _, err := res.follow(ctx, rel.Type, rel.ID); err != nil {
				return err
			}
		}
	}

	if !res.opts.Outwards {
		return nil
	}
	rels, err := collect(LoadReferencing(ctx, res.reader, entity.Type, entity.ID))
	if err != nil {
		return err
	}
	for _, rel := range rels {
		if res.resolved.Contains(rel.Type, rel.ID) {
			continue
		}
		if _, err := res.follow(ctx, rel.Type, rel.ID); err != nil {
			return err
		}
	}

	// References held in the entity itself, including those inside nested
	// entities that have no index rows of their own.
	for n := range res.registry.Walk(entity) {
		if !n.IsReference() || n.Reference.Ref == "" {
			continue
		}
		target := n.Reference.TargetType()
		if !res.registry.Known(target) {
			if _, seen := res.unknown[target]; !seen {
				res.unknown[target] = struct{}{}
				res.reader.Logger().Warn("reference class cannot be found in registry", "class", target, "ref", n.Reference.Ref)
			}
			continue
		}
		if res.resolved.Contains(target, n.Reference.Ref) {
			continue
		}
		found, err := res.follow(ctx, target, n.Reference.Ref)
		if err != nil {
			return err
		}
		if !found {
			res.reader.Logger().Warn("cannot resolve reference", "class", target, "ref", n.Reference.Ref)
		}
	}
	return nil
}

// follow loads the entity of typeName with id, from its own sub-store or
// else as the parent that embeds it, and resolves it.
func (res *resolver) follow(ctx context.Context, typeName, id string) (bool, error) {
	entity, err := res.reader.GetSingle(ctx, typeName, id, "")
	if err != nil {
		return false, err
	}
	if entity == nil {
		for parent, err := range LoadEmbeddedTransparent(ctx, res.reader, typeName, id, 1, true) {
			if err != nil {
				return false, err
			}
			entity = parent
		}
	}
	if entity == nil {
		return false, nil
	}
	return true, res.resolve(ctx, entity)
}

func collect(seq iter.Seq2[storage.Relation, error]) ([]storage.Relation, error) {
	var rels []storage.Relation
	for rel, err := range seq {
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}
