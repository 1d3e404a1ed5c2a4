package persona

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mwatts/peanutgallery/internal/logging"
)

// Registry holds every known roster and tracks which variant is active.
// Safe for concurrent use; ActivePersonas returns copies so callers never
// observe a mid-switch roster.
type Registry struct {
	mu       sync.RWMutex
	rosters  map[string][]Persona
	active   string
	watchers []func(variantID string)
}

// NewRegistry builds a registry from the given rosters and activates
// DefaultVariantID when present, otherwise the first roster by name.
func NewRegistry(rosters []Roster) (*Registry, error) {
	if len(rosters) == 0 {
		return nil, fmt.Errorf("no rosters provided")
	}
	r := &Registry{rosters: make(map[string][]Persona, len(rosters))}
	for _, roster := range rosters {
		r.rosters[roster.VariantID] = roster.Personas
	}
	if _, ok := r.rosters[DefaultVariantID]; ok {
		r.active = DefaultVariantID
	} else {
		names := r.variantIDsLocked()
		r.active = names[0]
	}
	return r, nil
}

// ActiveVariant returns the id of the roster currently in use
func (r *Registry) ActiveVariant() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ActivePersonas returns a copy of the active roster's personas
func (r *Registry) ActivePersonas() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.rosters[r.active]
	out := make([]Persona, len(src))
	copy(out, src)
	return out
}

// Lookup finds a persona by id in the active roster
func (r *Registry) Lookup(id string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.rosters[r.active] {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// Variants lists known variant ids in sorted order
func (r *Registry) Variants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.variantIDsLocked()
}

func (r *Registry) variantIDsLocked() []string {
	names := make([]string, 0, len(r.rosters))
	for name := range r.rosters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetVariant switches the active roster. Watchers fire after the switch
// so the engine can invalidate persona-derived state. Switching to the
// already-active variant is a no-op and does not notify.
func (r *Registry) SetVariant(variantID string) error {
	r.mu.Lock()
	if _, ok := r.rosters[variantID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown roster variant %q", variantID)
	}
	if variantID == r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = variantID
	watchers := make([]func(string), len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.Unlock()

	logging.Info("persona", "roster variant switched to %s", variantID)
	for _, fn := range watchers {
		fn(variantID)
	}
	return nil
}

// Subscribe registers a callback invoked after every variant switch
func (r *Registry) Subscribe(fn func(variantID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}
