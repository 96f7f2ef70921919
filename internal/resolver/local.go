package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// LocalConfig is the Local resolver's configuration (§4.9).
type LocalConfig struct {
	BasePath          string
	AllowedExtensions []string
	Readonly          bool
}

// LocalResolver serves files relative to a mapped directory, always denying
// write access regardless of LocalConfig.Readonly's literal value when the
// resolver itself is registered as input-only (§4.9 "Local... read-only
// enforced").
type LocalResolver struct {
	cfg LocalConfig
}

// NewLocalResolver creates a Local resolver.
func NewLocalResolver(cfg LocalConfig) *LocalResolver {
	return &LocalResolver{cfg: cfg}
}

func (l *LocalResolver) Name() string        { return "local" }
func (l *LocalResolver) Description() string { return "serves files relative to a mapped directory" }
func (l *LocalResolver) Type() Type          { return TypeInput }

func (l *LocalResolver) CanResolve(ref string) bool {
	return strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../") || strings.HasPrefix(ref, "/")
}

func (l *LocalResolver) resolvedPath(ref string) (string, error) {
	clean := filepath.Clean(filepath.Join(l.cfg.BasePath, ref))
	base := filepath.Clean(l.cfg.BasePath)
	if !strings.HasPrefix(clean, base) {
		return "", mllderr.New(mllderr.PathRootDenied, "reference %q escapes base path %q", ref, l.cfg.BasePath)
	}
	if len(l.cfg.AllowedExtensions) > 0 {
		ok := false
		for _, ext := range l.cfg.AllowedExtensions {
			if strings.HasSuffix(clean, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return "", mllderr.New(mllderr.PathInvalid, "extension not allowed for %q", ref)
		}
	}
	return clean, nil
}

func (l *LocalResolver) Resolve(ctx context.Context, ref string) (Result, error) {
	path, err := l.resolvedPath(ref)
	if err != nil {
		return Result{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, mllderr.Wrap(mllderr.FileNotFound, err, "local resolver: %s not found", path)
		}
		return Result{}, mllderr.Wrap(mllderr.PermissionDenied, err, "local resolver: cannot read %s", path)
	}
	return Result{Content: string(data), Metadata: Metadata{Source: path, TaintLevel: "file"}}, nil
}

func (l *LocalResolver) ValidateConfig(cfg map[string]interface{}) []error {
	return localConfigSchema.Validate(cfg)
}

func (l *LocalResolver) CheckAccess(ref, mode string) bool {
	if mode == "write" {
		return false // always read-only, regardless of cfg.Readonly (§4.9)
	}
	_, err := l.resolvedPath(ref)
	return err == nil
}

func (l *LocalResolver) Write(ctx context.Context, ref, content string) error {
	return mllderr.New(mllderr.PermissionDenied, "local resolver is read-only")
}

// CacheTTLSeconds: 0, so a local file's content is cached with no expiry;
// once read, later imports of the same ref are served from ImmutableCache
// for the rest of the process, and changes to the file are not picked up.
func (l *LocalResolver) CacheTTLSeconds() int64 { return 0 }
