package nudenet

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// endpointPool routes requests across sidecar replicas using atomic
// round-robin selection.
type endpointPool struct {
	urls    []string
	counter atomic.Uint64
}

// newEndpointPool creates a pool from a list of base URLs.
// At least one URL is required.
func newEndpointPool(urls []string) (*endpointPool, error) {
	var clean []string
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("nudenet: at least one sidecar URL is required")
	}
	for i, u := range clean {
		slog.Info("nudenet sidecar registered", "index", i, "url", u)
	}
	return &endpointPool{urls: clean}, nil
}

// Next returns the next base URL. Safe for concurrent use.
func (p *endpointPool) Next() string {
	idx := p.counter.Add(1) - 1
	return p.urls[idx%uint64(len(p.urls))]
}

// Len returns the number of replicas.
func (p *endpointPool) Len() int {
	return len(p.urls)
}

// All returns every base URL, e.g. for health checks.
func (p *endpointPool) All() []string {
	return p.urls
}
