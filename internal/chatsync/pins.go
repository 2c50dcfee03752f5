package chatsync

import (
	"context"
	"sort"
)

// PinStore persists the set of pinned chat identities outside the session.
type PinStore interface {
	LoadPins(ctx context.Context) ([]string, error)
	SavePins(ctx context.Context, ids []string) error
}

// PinSet is a client-local set of pinned server chat ids.
type PinSet map[string]struct{}

func NewPinSet(ids []string) PinSet {
	set := make(PinSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func (p PinSet) Has(id string) bool {
	_, ok := p[id]
	return ok
}

// Toggle flips membership of id and returns the new membership.
func (p PinSet) Toggle(id string) bool {
	if p.Has(id) {
		delete(p, id)
		return false
	}
	p[id] = struct{}{}
	return true
}

func (p PinSet) Remove(id string) bool {
	if !p.Has(id) {
		return false
	}
	delete(p, id)
	return true
}

// IDs returns the members in sorted order.
func (p PinSet) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p PinSet) pinned(id ID) bool {
	serverID, ok := id.ServerID()
	return ok && p.Has(serverID)
}
