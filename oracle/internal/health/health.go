// Package health probes the oracle's collaborators for the health endpoints.
// Results are cached so frequent liveness checks do not turn into traffic
// against the system of record or the verification service.
package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL is how long a probe result is reused.
const DefaultTTL = 15 * time.Second

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Result is the outcome of one probe.
type Result struct {
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type target struct {
	endpoint string
	probe    Probe
}

// Checker runs registered probes with cached results.
type Checker struct {
	mu     sync.RWMutex
	probes map[string]target
	cache  *gocache.Cache
}

// NewChecker creates a Checker caching results for ttl.
func NewChecker(ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Checker{
		probes: make(map[string]target),
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// Register adds a named probe, replacing any probe with the same name.
// endpoint is reported alongside the result; it must not carry credentials.
func (c *Checker) Register(name, endpoint string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = target{endpoint: endpoint, probe: p}
	c.cache.Delete(name)
}

// Check runs every probe whose cached result has expired. Probes run
// concurrently; results are sorted by name.
func (c *Checker) Check(ctx context.Context) []Result {
	c.mu.RLock()
	probes := make(map[string]target, len(c.probes))
	for name, t := range c.probes {
		probes[name] = t
	}
	c.mu.RUnlock()

	results := make([]Result, 0, len(probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, t := range probes {
		if cached, ok := c.cache.Get(name); ok {
			mu.Lock()
			results = append(results, cached.(Result))
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(name string, t target) {
			defer wg.Done()
			r := run(ctx, name, t)
			c.cache.SetDefault(name, r)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(name, t)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func run(ctx context.Context, name string, t target) (r Result) {
	r = Result{Name: name, Endpoint: t.endpoint, CheckedAt: time.Now().UTC()}
	defer func() {
		if p := recover(); p != nil {
			r.Healthy = false
			r.Error = fmt.Sprintf("probe panicked: %v", p)
		}
	}()
	if err := t.probe(ctx); err != nil {
		r.Error = err.Error()
		return r
	}
	r.Healthy = true
	return r
}

// Healthy reports whether every result is healthy.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// HTTPProbe treats any HTTP response from url as reachable. Only transport
// failures count against the collaborator.
func HTTPProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s returned %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Endpoint strips userinfo and query parameters from a connection URL so it
// can be reported on the health endpoint. Unparseable input yields "".
func Endpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}
