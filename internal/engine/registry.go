package engine

import (
	"sync"

	"github.com/ardenq/fleettrader/internal/position"
)

// positionRegistry is the worker-local, in-memory store of open
// positions per symbol (spec.md §4.4 Persistence: reconstructed
// lazily on restart, never shared across workers).
type positionRegistry struct {
	mu   sync.Mutex
	byID map[string][]position.OpenPosition
}

func newPositionRegistry() *positionRegistry {
	return &positionRegistry{byID: map[string][]position.OpenPosition{}}
}

func (r *positionRegistry) Register(symbol string, pos position.OpenPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[symbol] = append(r.byID[symbol], pos)
}

func (r *positionRegistry) OpenForSymbol(symbol string) []position.OpenPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]position.OpenPosition, len(r.byID[symbol]))
	copy(out, r.byID[symbol])
	return out
}

func (r *positionRegistry) Update(symbol string, pos position.OpenPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byID[symbol]
	for i, p := range list {
		if p.Ticket == pos.Ticket {
			list[i] = pos
			return
		}
	}
}

// Remove drops a position once the terminal reports it closed, e.g.
// after an emergency close-all (spec.md §4.4 "destroyed when the
// position closes on the terminal").
func (r *positionRegistry) Remove(symbol string, ticket int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byID[symbol]
	for i, p := range list {
		if p.Ticket == ticket {
			r.byID[symbol] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (r *positionRegistry) OpenPositionsTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.byID {
		n += len(v)
	}
	return n
}

func (r *positionRegistry) OpenPositionsForSymbol(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID[symbol])
}

func (r *positionRegistry) allSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byID))
	for s := range r.byID {
		out = append(out, s)
	}
	return out
}
