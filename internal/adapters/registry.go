package adapters

import "sort"

// Registry holds the configured network adapters keyed by network id.
type Registry struct {
	adapters map[string]NetworkAdapter
}

// NewRegistry creates a registry with all simulated networks registered.
func NewRegistry(opts SimOptions) *Registry {
	r := &Registry{adapters: make(map[string]NetworkAdapter)}
	for _, a := range []NetworkAdapter{
		NewStripeCardAdapter(opts),
		NewPolygonUSDCAdapter(opts),
		NewMpesaAdapter(opts),
		NewGcashAdapter(opts),
		NewRWATreasuryAdapter(opts),
	} {
		r.Register(a)
	}
	return r
}

// NewEmptyRegistry creates a registry with nothing registered. Tests use
// it to install stub adapters.
func NewEmptyRegistry() *Registry {
	return &Registry{adapters: make(map[string]NetworkAdapter)}
}

// Register adds or replaces an adapter under its configured id.
func (r *Registry) Register(a NetworkAdapter) {
	r.adapters[a.Config().ID] = a
}

// Get returns the adapter for a network id.
func (r *Registry) Get(networkID string) (NetworkAdapter, error) {
	a, ok := r.adapters[networkID]
	if !ok {
		return nil, &UnknownNetworkError{NetworkID: networkID}
	}
	return a, nil
}

// List returns the configs of all registered networks sorted by id.
func (r *Registry) List() []NetworkConfig {
	out := make([]NetworkConfig, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Config())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
