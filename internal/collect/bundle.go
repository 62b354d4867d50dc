package collect

// Bundle is the per-request container of all collectors' raw results. The
// orchestrator creates one per analysis, fills a slot per requested module,
// and hands it whole to the normalizer. Bundles are never shared across
// requests.
type Bundle struct {
	Target    Target
	Requested []Module
	Results   map[Module]Result
}

// NewBundle allocates a bundle for the requested module set.
func NewBundle(target Target, requested []Module) *Bundle {
	return &Bundle{
		Target:    target,
		Requested: requested,
		Results:   make(map[Module]Result, len(requested)),
	}
}
