package catalogs

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Provider yields catalog snapshots. Implementations must be safe for use from
// one goroutine at a time.
type Provider interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// FileProvider serves the bundled catalog file.
type FileProvider struct {
	Path   string
	Schema *jsonschema.Schema
}

func (p *FileProvider) Fetch(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(raw, "file:"+p.Path, p.Schema)
}

const maxCatalogBytes = 8 << 20

// HTTPProvider fetches <endpoint>/api/buildings from the catalog service.
type HTTPProvider struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPProvider(endpoint string) (*HTTPProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("missing catalog endpoint")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}
	return &HTTPProvider{
		endpoint:   strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *HTTPProvider) Endpoint() string { return p.endpoint }

func (p *HTTPProvider) Fetch(ctx context.Context) (Snapshot, error) {
	raw, err := p.FetchRaw(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(raw, p.endpoint, nil)
}

// FetchRaw returns the undecoded catalog document.
func (p *HTTPProvider) FetchRaw(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/buildings", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch catalog: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// FallbackProvider tries Primary first. On failure it returns the last
// snapshot Primary produced, and if there is none, the Bundled one. Errors are
// logged, never returned, unless every source fails.
type FallbackProvider struct {
	Primary Provider
	Bundled Provider
	Logger  *log.Logger

	mu   sync.Mutex
	last *Snapshot
}

func (p *FallbackProvider) Fetch(ctx context.Context) (Snapshot, error) {
	if p.Primary != nil {
		s, err := p.Primary.Fetch(ctx)
		if err == nil {
			p.mu.Lock()
			p.last = &s
			p.mu.Unlock()
			return s, nil
		}
		p.logf("primary catalog failed: %v", err)

		p.mu.Lock()
		last := p.last
		p.mu.Unlock()
		if last != nil {
			return *last, nil
		}
	}
	if p.Bundled == nil {
		return Snapshot{}, fmt.Errorf("no catalog source available")
	}
	s, err := p.Bundled.Fetch(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("bundled catalog: %w", err)
	}
	return s, nil
}

func (p *FallbackProvider) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}
