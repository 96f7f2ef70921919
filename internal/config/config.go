// Package config models the interpreter's recognized configuration surface
// (§9 of the specification) and the project lock file (§6.2).
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects the final document rendering delegated to a collaborator.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatXML      Format = "xml"
)

// Mode selects interpretation strictness presets.
type Mode string

const (
	ModeMarkdown Mode = "markdown"
	ModeStrict   Mode = "strict"
)

// Options is the recognized interpretation configuration surface.
type Options struct {
	Strict              bool
	NormalizeBlankLines bool
	Mode                Mode
	AllowAbsolutePaths  bool
	Format              Format

	// Pipeline retry default.
	PipelineMaxRetries int

	// For-loop defaults.
	ForParallel int
	ForPacing   time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Strict:              false,
		NormalizeBlankLines: true,
		Mode:                ModeMarkdown,
		AllowAbsolutePaths:  false,
		Format:              FormatMarkdown,
		PipelineMaxRetries:  3,
		ForParallel:         1,
	}
}

// CallOptions are per-call overrides (e.g. `with { stream: true }`).
type CallOptions struct {
	Stream  *bool
	Timeout time.Duration
}

// ResolverBinding is one ordered prefix->resolver entry from the lock file's
// config.resolvers.registries[] (or the legacy flat resolverPrefixes map).
type ResolverBinding struct {
	Prefix   string                 `yaml:"prefix"`
	Resolver string                 `yaml:"resolver"`
	Type     string                 `yaml:"type"` // input|output|io
	Config   map[string]interface{} `yaml:"config"`
	Priority int                    `yaml:"priority"`
}

// ModuleEntry records a registered module's content hash, dependencies and
// advisories.
type ModuleEntry struct {
	Hash         string   `yaml:"hash"`
	Dependencies []string `yaml:"dependencies"`
	Advisories   []string `yaml:"advisories"`
}

// LockFile is the project root configuration document.
type LockFile struct {
	Version int `yaml:"version"`
	Config  struct {
		Resolvers struct {
			Registries []ResolverBinding `yaml:"registries"`
		} `yaml:"resolvers"`
		// Legacy flat shape, tolerated per §6.2.
		ResolverPrefixes map[string]string `yaml:"resolverPrefixes"`
	} `yaml:"config"`
	Modules  map[string]ModuleEntry `yaml:"modules"`
	Security struct {
		AllowedEnv []string `yaml:"allowedEnv"`
	} `yaml:"security"`
}

// ParseLockFile parses a lock file document (YAML superset accepted; the
// canonical on-disk format is JSON, which YAML parses without a separate
// code path).
func ParseLockFile(data []byte) (*LockFile, error) {
	var lf LockFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, err
	}
	return &lf, nil
}

// Bindings returns the resolver bindings in resolution order: the nested
// registries list first (already ordered by priority/insertion), followed
// by any legacy flat resolverPrefixes entries converted to input bindings.
// Each legacy binding's Priority is one more than its index in the returned
// slice; the legacy entries follow map iteration, so their order among
// themselves is not defined.
func (lf *LockFile) Bindings() []ResolverBinding {
	out := append([]ResolverBinding{}, lf.Config.Resolvers.Registries...)
	for prefix, resolver := range lf.Config.ResolverPrefixes {
		out = append(out, ResolverBinding{Prefix: prefix, Resolver: resolver, Type: "input", Priority: len(out) + 1})
	}
	return out
}
