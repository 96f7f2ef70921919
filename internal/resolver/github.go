package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// GitHubConfig is the GitHub resolver's configuration (§4.9).
type GitHubConfig struct {
	Repository string // "owner/repo"
	Branch     string
	BasePath   string
}

// GitHubResolver fetches file contents from a GitHub repository's raw
// content endpoint.
type GitHubResolver struct {
	cfg    GitHubConfig
	client *http.Client
}

// NewGitHubResolver creates a GitHub resolver.
func NewGitHubResolver(cfg GitHubConfig, client *http.Client) *GitHubResolver {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &GitHubResolver{cfg: cfg, client: client}
}

func (g *GitHubResolver) Name() string        { return "github" }
func (g *GitHubResolver) Description() string { return "fetches file contents from a GitHub repository" }
func (g *GitHubResolver) Type() Type          { return TypeInput }

func (g *GitHubResolver) CanResolve(ref string) bool {
	return strings.HasPrefix(ref, "github:") || strings.HasPrefix(ref, "gh:")
}

func (g *GitHubResolver) rawURL(ref string) string {
	path := strings.TrimPrefix(strings.TrimPrefix(ref, "github:"), "gh:")
	if g.cfg.BasePath != "" {
		path = strings.TrimSuffix(g.cfg.BasePath, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", g.cfg.Repository, g.cfg.Branch, strings.TrimPrefix(path, "/"))
}

func (g *GitHubResolver) Resolve(ctx context.Context, ref string) (Result, error) {
	url := g.rawURL(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.TransportError, err, "building GitHub request for %s", url)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.TransportError, err, "fetching %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Result{}, mllderr.New(mllderr.FileNotFound, "GitHub: %s not found", url)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, mllderr.New(mllderr.TransportError, "GitHub: %s returned %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.TransportError, err, "reading GitHub response for %s", url)
	}
	return Result{Content: string(body), Metadata: Metadata{Source: url, TaintLevel: "network"}}, nil
}

func (g *GitHubResolver) ValidateConfig(cfg map[string]interface{}) []error {
	return githubConfigSchema.Validate(cfg)
}

func (g *GitHubResolver) CheckAccess(ref, mode string) bool { return mode == "read" }
func (g *GitHubResolver) Write(ctx context.Context, ref, content string) error {
	return mllderr.New(mllderr.InvalidRequest, "github resolver is read-only")
}

// CacheTTLSeconds: GitHub content at a pinned branch/commit is treated as
// content-addressed and never expires once fetched.
func (g *GitHubResolver) CacheTTLSeconds() int64 { return 0 }
