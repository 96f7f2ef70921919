package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/mod/semver"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// RegistryFetcher fetches raw module content from the registry repository
// given a normalized module coordinate (user/module@resolvedVersion); wired
// externally so this package doesn't hard-depend on a particular transport.
type RegistryFetcher func(ctx context.Context, coordinate string) (Result, error)

// RegistryResolver implements the `@user/module[@version|@tag]` resolver
// (§4.9 "Registry").
type RegistryResolver struct {
	seed    []byte // project seed for cache-key derivation
	fetch   RegistryFetcher
	tagResolve func(ctx context.Context, user, module, tag string) (string, error) // tag -> concrete version
}

// NewRegistryResolver creates a Registry resolver. seed is the project's
// signing seed (from the lock file); fetch performs the actual content
// retrieval.
func NewRegistryResolver(seed []byte, fetch RegistryFetcher, tagResolve func(ctx context.Context, user, module, tag string) (string, error)) *RegistryResolver {
	return &RegistryResolver{seed: seed, fetch: fetch, tagResolve: tagResolve}
}

func (r *RegistryResolver) Name() string        { return "registry" }
func (r *RegistryResolver) Description() string { return "fetches @user/module[@version|@tag] from the registry" }
func (r *RegistryResolver) Type() Type          { return TypeInput }

func (r *RegistryResolver) CanResolve(ref string) bool {
	return strings.HasPrefix(ref, "@") && strings.Count(ref, "/") >= 1
}

// parseRef splits "@user/module@version" into (user, module, version).
// version is "" when absent (caller should then fall back to "latest").
func parseRef(ref string) (user, module, version string) {
	trimmed := strings.TrimPrefix(ref, "@")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return trimmed, "", ""
	}
	user = parts[0]
	rest := parts[1]
	if i := strings.Index(rest, "@"); i >= 0 {
		return user, rest[:i], rest[i+1:]
	}
	return user, rest, ""
}

func (r *RegistryResolver) Resolve(ctx context.Context, ref string) (Result, error) {
	user, module, version := parseRef(ref)
	if module == "" {
		return Result{}, mllderr.New(mllderr.ModuleNotFound, "malformed registry reference %q", ref)
	}

	resolved := version
	if resolved == "" {
		resolved = "latest"
	}
	if !semver.IsValid(canonicalizeSemver(resolved)) && resolved != "latest" && r.tagResolve != nil {
		v, err := r.tagResolve(ctx, user, module, resolved)
		if err != nil {
			return Result{}, mllderr.Wrap(mllderr.ModuleNotFound, err, "resolving tag %q for %s/%s", resolved, user, module)
		}
		resolved = v
	}

	coordinate := fmt.Sprintf("%s/%s@%s", user, module, resolved)
	result, err := r.fetch(ctx, coordinate)
	if err != nil {
		return Result{}, err
	}
	result.Metadata.Source = coordinate
	return result, nil
}

// canonicalizeSemver prefixes a bare "1.2.3" with "v" since golang.org/x/mod/semver
// requires the "v" prefix mlld module versions omit.
func canonicalizeSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CompareVersions orders two mlld module version strings using semver
// precedence.
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalizeSemver(a), canonicalizeSemver(b))
}

func (r *RegistryResolver) ValidateConfig(cfg map[string]interface{}) []error {
	return nil
}

func (r *RegistryResolver) CheckAccess(ref, mode string) bool { return mode == "read" }

func (r *RegistryResolver) Write(ctx context.Context, ref, content string) error {
	return mllderr.New(mllderr.InvalidRequest, "registry resolver is read-only")
}

// CacheTTLSeconds: registry content is content-addressed by resolved version,
// so once fetched it never needs to expire.
func (r *RegistryResolver) CacheTTLSeconds() int64 { return 0 }

// DeriveModuleKey derives a per-module signing key from the resolver's
// project seed via HKDF (blake2s as the underlying hash), analogous to the
// teacher's HMAC-derived display-id keys but scoped to one module coordinate
// instead of one plan.
func (r *RegistryResolver) DeriveModuleKey(coordinate string) ([]byte, error) {
	newHash := func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}
	reader := hkdf.New(newHash, r.seed, nil, []byte(coordinate))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// fallbackFingerprint gives a sha256-based coordinate fingerprint used where
// a lighter-weight identity (not a key) is needed, e.g. log correlation.
func fallbackFingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
