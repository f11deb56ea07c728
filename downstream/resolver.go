// Package downstream routes outbound calls to the audience they need and
// swaps the caller's bearer token for an on-behalf-of token on the way out.
package downstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

var ErrInvalidRoute = errors.New("downstream: invalid route")

// Route maps a host pattern to the audience of the service behind it.
// Passthrough forwards the request without touching its credentials.
type Route struct {
	Host        string `yaml:"host"`
	Audience    string `yaml:"audience,omitempty"`
	Passthrough bool   `yaml:"passthrough,omitempty"`
}

// Resolver maps a destination host to its route. A nil route with a nil
// error means the host is not managed.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*Route, error)
}

type routeEntry struct {
	glob  glob.Glob
	route Route
}

// StaticResolver matches hosts against glob patterns in declaration order.
// '.' separates pattern segments, so *.example.com does not match
// a.b.example.com while **.example.com does.
type StaticResolver struct {
	mu     sync.RWMutex
	routes []routeEntry
}

var _ Resolver = (*StaticResolver)(nil)

func NewStaticResolver(routes ...Route) (*StaticResolver, error) {
	r := &StaticResolver{}
	if err := r.Replace(routes...); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRoutes reads a YAML list of routes. A missing file yields no routes.
func LoadRoutes(path string) ([]Route, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var routes []Route
	if err := yaml.Unmarshal(content, &routes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoute, err)
	}
	return routes, nil
}

// Replace swaps the route table. On error the previous table is kept.
func (r *StaticResolver) Replace(routes ...Route) error {
	entries := make([]routeEntry, 0, len(routes))
	var errs []error
	for i, route := range routes {
		route.Host = strings.ToLower(strings.TrimSpace(route.Host))
		if route.Host == "" {
			errs = append(errs, fmt.Errorf("%w: route %d has no host", ErrInvalidRoute, i))
			continue
		}
		if route.Audience == "" && !route.Passthrough {
			errs = append(errs, fmt.Errorf("%w: route %q needs an audience or passthrough", ErrInvalidRoute, route.Host))
			continue
		}
		g, err := glob.Compile(route.Host, '.')
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: pattern %q: %w", ErrInvalidRoute, route.Host, err))
			continue
		}
		entries = append(entries, routeEntry{glob: g, route: route})
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.mu.Lock()
	r.routes = entries
	r.mu.Unlock()
	return nil
}

func (r *StaticResolver) Resolve(_ context.Context, host string) (*Route, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.routes {
		if entry.glob.Match(host) {
			route := entry.route
			return &route, nil
		}
	}
	return nil, nil
}
