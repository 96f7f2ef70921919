package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// DNSResolver implements the `@user/module` fallback resolver (§4.9 "DNS"):
// module content is published as a TXT record at
// <module>.<user>.public.mlld.ai and cached with a 1-hour TTL.
type DNSResolver struct {
	lookupTXT func(name string) ([]string, error)
}

// NewDNSResolver creates a DNS resolver; lookupTXT defaults to net.LookupTXT
// when nil (seam for tests).
func NewDNSResolver(lookupTXT func(name string) ([]string, error)) *DNSResolver {
	if lookupTXT == nil {
		lookupTXT = func(name string) ([]string, error) { return net.LookupTXT(name) }
	}
	return &DNSResolver{lookupTXT: lookupTXT}
}

func (d *DNSResolver) Name() string        { return "dns" }
func (d *DNSResolver) Description() string { return "fallback resolver querying TXT records" }
func (d *DNSResolver) Type() Type          { return TypeInput }

func (d *DNSResolver) CanResolve(ref string) bool {
	return strings.HasPrefix(ref, "@") && strings.Count(ref, "/") == 1
}

func (d *DNSResolver) Resolve(ctx context.Context, ref string) (Result, error) {
	user, module, _ := parseRef(ref)
	if module == "" {
		return Result{}, mllderr.New(mllderr.ModuleNotFound, "malformed DNS reference %q", ref)
	}
	name := fmt.Sprintf("%s.%s.public.mlld.ai", module, user)
	records, err := d.lookupTXT(name)
	if err != nil {
		return Result{}, mllderr.Wrap(mllderr.ModuleNotFound, err, "DNS TXT lookup failed for %s", name)
	}
	if len(records) == 0 {
		return Result{}, mllderr.New(mllderr.ModuleNotFound, "no TXT records at %s", name)
	}
	return Result{
		Content:  strings.Join(records, ""),
		Metadata: Metadata{Source: name, TaintLevel: string("network")},
	}, nil
}

func (d *DNSResolver) ValidateConfig(cfg map[string]interface{}) []error { return nil }
func (d *DNSResolver) CheckAccess(ref, mode string) bool                 { return mode == "read" }
func (d *DNSResolver) Write(ctx context.Context, ref, content string) error {
	return mllderr.New(mllderr.InvalidRequest, "DNS resolver is read-only")
}

// CacheTTLSeconds: DNS TXT records are cached for 1 hour per §4.9.
func (d *DNSResolver) CacheTTLSeconds() int64 { return 3600 }
