// Package graph walks the referral tree. It never takes member locks.
package graph

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

var ErrCycle = errors.New("referral cycle")

const defaultCacheSize = 100_000

// Hop is one upline member, Depth hops above the starting member.
type Hop struct {
	MemberID string
	Depth    int
}

type Graph struct {
	store store.Store
	// Referrer edges are written once at registration, so they never go stale.
	parents *lru.Cache[string, string]
}

func New(s store.Store, cacheSize int) (*Graph, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Graph{store: s, parents: cache}, nil
}

func (g *Graph) referrer(ctx context.Context, id string) (string, error) {
	if p, ok := g.parents.Get(id); ok {
		return p, nil
	}
	p, err := g.store.ReferrerID(ctx, id)
	if err != nil {
		return "", err
	}
	g.parents.Add(id, p)
	return p, nil
}

// UplineChain returns up to maxDepth referrers of memberID, nearest first.
//
// When a referrer record is missing the chain still contains its id, stops
// there, and the error wraps store.ErrMemberNotFound. A cycle stops the walk
// with ErrCycle. In both cases the hops collected so far are returned.
func (g *Graph) UplineChain(ctx context.Context, memberID string, maxDepth int) ([]Hop, error) {
	current, err := g.referrer(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("upline of %s: %w", memberID, err)
	}

	hops := make([]Hop, 0, maxDepth)
	seen := map[string]struct{}{memberID: {}}
	for depth := 1; depth <= maxDepth && current != ""; depth++ {
		if _, ok := seen[current]; ok {
			return hops, fmt.Errorf("upline of %s revisits %s: %w", memberID, current, ErrCycle)
		}
		seen[current] = struct{}{}
		hops = append(hops, Hop{MemberID: current, Depth: depth})

		if depth == maxDepth {
			break
		}
		next, err := g.referrer(ctx, current)
		if err != nil {
			return hops, fmt.Errorf("upline of %s broken at %s: %w", memberID, current, err)
		}
		current = next
	}
	return hops, nil
}

func (g *Graph) DirectActiveChildren(ctx context.Context, memberID string) ([]models.Member, error) {
	return g.store.ActiveChildren(ctx, []string{memberID})
}

// CountActiveDescendantsAtDepth counts active members exactly depth hops below
// memberID, following only active members. Depth 0 counts memberID itself.
func (g *Graph) CountActiveDescendantsAtDepth(ctx context.Context, memberID string, depth int) (int64, error) {
	if depth < 0 {
		return 0, fmt.Errorf("negative depth %d", depth)
	}
	if depth == 0 {
		m, err := g.store.Member(ctx, memberID)
		if err != nil {
			return 0, err
		}
		if m.IsActive {
			return 1, nil
		}
		return 0, nil
	}

	ids, err := g.ActiveDescendantsAtDepth(ctx, memberID, depth)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// ActiveDescendantsAtDepth lists the members CountActiveDescendantsAtDepth
// counts, breadth first. depth must be at least 1.
func (g *Graph) ActiveDescendantsAtDepth(ctx context.Context, memberID string, depth int) ([]string, error) {
	if depth < 1 {
		return nil, fmt.Errorf("descendant depth %d below 1", depth)
	}
	frontier := []string{memberID}
	for i := 0; i < depth; i++ {
		children, err := g.store.ActiveChildren(ctx, frontier)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return nil, nil
		}
		frontier = make([]string, 0, len(children))
		for _, c := range children {
			frontier = append(frontier, c.ID)
		}
	}
	return frontier, nil
}
