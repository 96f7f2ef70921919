package resolver

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// HTTPResolver fetches content directly via HTTP(S) (§4.9 "HTTP(S)").
type HTTPResolver struct {
	client *http.Client
}

// NewHTTPResolver creates an HTTP(S) resolver.
func NewHTTPResolver(client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{client: client}
}

func (h *HTTPResolver) Name() string        { return "http" }
func (h *HTTPResolver) Description() string { return "direct HTTP(S) fetch" }
func (h *HTTPResolver) Type() Type          { return TypeInput }

func (h *HTTPResolver) CanResolve(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (h *HTTPResolver) Resolve(ctx context.Context, ref string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.TransportError, err, "building request for %s", ref)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.TransportError, err, "fetching %s", ref)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, mllderr.New(mllderr.TransportError, "%s returned %d", ref, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.TransportError, err, "reading response for %s", ref)
	}
	return Result{Content: string(body), Metadata: Metadata{Source: ref, TaintLevel: "network"}}, nil
}

func (h *HTTPResolver) ValidateConfig(cfg map[string]interface{}) []error { return nil }
func (h *HTTPResolver) CheckAccess(ref, mode string) bool                 { return mode == "read" }
func (h *HTTPResolver) Write(ctx context.Context, ref, content string) error {
	return mllderr.New(mllderr.InvalidRequest, "http resolver is read-only")
}

// CacheTTLSeconds: generic network fetches get a short default TTL so
// content can't go stale indefinitely without a resolved version pin.
func (h *HTTPResolver) CacheTTLSeconds() int64 { return 300 }
