// Package gateway defines the Gateway collaborator contract the decision
// engine relies on to remove and restore backends from an upstream's
// serving pool, plus a small set of concrete adapters (NGINX over SSH, a
// cloud load balancer, and a static no-op gateway for sites with no
// configured recovery).
package gateway

import "context"

// Gateway abstracts an upstream that forwards traffic to a site's backend
// pool. Offline and Online must be idempotent: calling either on a host
// already in the desired state is a no-op success.
type Gateway interface {
	// GetServers enumerates the backends currently known to the gateway.
	// Used at startup when a site's config omits a static server list.
	GetServers(ctx context.Context) (map[string]struct{}, error)

	// Offline removes host from the serving pool.
	Offline(ctx context.Context, host string) error

	// Online restores host to the serving pool.
	Online(ctx context.Context, host string) error
}

// Static is a Gateway backed by a fixed server set. Offline/Online are
// no-ops — appropriate for sites with recovery disabled, where the
// Supervisor never calls them anyway, or for test fixtures.
type Static struct {
	Servers map[string]struct{}
}

// NewStatic creates a Static gateway over the given server set.
func NewStatic(servers map[string]struct{}) *Static {
	return &Static{Servers: servers}
}

func (s *Static) GetServers(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(s.Servers))
	for host := range s.Servers {
		out[host] = struct{}{}
	}
	return out, nil
}

func (s *Static) Offline(ctx context.Context, host string) error { return nil }

func (s *Static) Online(ctx context.Context, host string) error { return nil }
