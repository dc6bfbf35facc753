// Package prober issues concurrent HTTP health probes against a site's pool
// of backend servers.
package prober

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abstractivemachines/backendwatch/internal/types"
)

// Result is one probe outcome: the backend that was probed and the HTTP
// status it returned (or types.TimeoutStatus on any failure to obtain one).
type Result struct {
	Server string
	Status int
}

// Target describes the servers and parameters for one probing pass.
type Target struct {
	Hostname string // HTTP Host header
	Path     string
	Method   string // GET | POST | HEAD
	PostBody string
	Timeout  time.Duration
	Servers  map[string]struct{} // host:port
}

// Prober issues one HTTP request per server concurrently and collapses any
// network, DNS, TLS, or timeout failure to the 504 sentinel. It never
// retries — debouncing across cycles is the SiteRecord's job.
type Prober struct {
	client *http.Client
}

// New creates a Prober. Each probe gets its own per-request deadline derived
// from the Target; a non-zero Timeout on the given client applies as well.
func New(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{client: client}
}

// Probe issues one request per server in Target.Servers concurrently and
// blocks until every probe has produced a status or been classified as a
// timeout. The returned slice has no guaranteed order.
func (p *Prober) Probe(ctx context.Context, target Target) []Result {
	results := make([]Result, len(target.Servers))

	var wg sync.WaitGroup
	idx := 0
	for server := range target.Servers {
		wg.Add(1)
		i := idx
		idx++
		go func(server string) {
			defer wg.Done()
			results[i] = Result{
				Server: server,
				Status: p.probeOne(ctx, target, server),
			}
		}(server)
	}
	wg.Wait()

	return results
}

func (p *Prober) probeOne(ctx context.Context, target Target, server string) int {
	reqCtx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	url := "http://" + server + target.Path

	var body io.Reader
	method := strings.ToUpper(target.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method == http.MethodPost && target.PostBody != "" {
		body = strings.NewReader(target.PostBody)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return types.TimeoutStatus
	}
	req.Host = target.Hostname
	req.Header.Set("Host", target.Hostname)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.TimeoutStatus
	}
	defer resp.Body.Close()

	return resp.StatusCode
}
