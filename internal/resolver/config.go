package resolver

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mlld-lang/mlld/internal/mllderr"
)

// SchemaValidator validates a resolver's config blob against a declared
// JSON schema (§4.9 Resolver.validateConfig), one layer above each
// resolver's own ad-hoc required-field checks: this catches malformed
// lock-file resolver entries before a resolver ever sees them.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document (as raw JSON bytes) for
// later use validating resolver config blobs.
func CompileSchema(name string, schemaJSON []byte) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
		return nil, mllderr.Wrap(mllderr.ValidationFailed, err, "compiling resolver config schema %q", name)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, mllderr.Wrap(mllderr.ValidationFailed, err, "resolving resolver config schema %q", name)
	}
	return &SchemaValidator{schema: schema}, nil
}

// localConfigSchema and githubConfigSchema are the compiled schemas backing
// LocalResolver.ValidateConfig and GitHubResolver.ValidateConfig: each
// resolver's required fields are expressed once here instead of as scattered
// ad-hoc presence checks.
var (
	localConfigSchema  = mustCompileSchema("local-config.json", localConfigSchemaJSON)
	githubConfigSchema = mustCompileSchema("github-config.json", githubConfigSchemaJSON)
)

var localConfigSchemaJSON = []byte(`{
	"type": "object",
	"required": ["basePath"],
	"properties": {
		"basePath": {"type": "string", "minLength": 1}
	}
}`)

var githubConfigSchemaJSON = []byte(`{
	"type": "object",
	"required": ["repository"],
	"properties": {
		"repository": {"type": "string", "minLength": 1, "pattern": "^[^/]+/[^/]+$"},
		"branch": {"type": "string"},
		"basePath": {"type": "string"}
	}
}`)

// mustCompileSchema compiles a schema baked into the binary; a compile
// failure here is a programming error, not a runtime condition.
func mustCompileSchema(name string, schemaJSON []byte) *SchemaValidator {
	v, err := CompileSchema(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks cfg against the compiled schema, returning one
// mllderr.Error (VALIDATION_FAILED) per violation.
func (v *SchemaValidator) Validate(cfg map[string]interface{}) []error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return []error{mllderr.Wrap(mllderr.ValidationFailed, err, "marshaling resolver config for validation")}
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []error{mllderr.Wrap(mllderr.ValidationFailed, err, "decoding resolver config for validation")}
	}
	if err := v.schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			var errs []error
			for _, cause := range verr.Causes {
				errs = append(errs, mllderr.New(mllderr.ValidationFailed, "%s", cause.Error()))
			}
			if len(errs) == 0 {
				errs = append(errs, mllderr.New(mllderr.ValidationFailed, "%s", verr.Error()))
			}
			return errs
		}
		return []error{mllderr.Wrap(mllderr.ValidationFailed, err, "resolver config validation failed")}
	}
	return nil
}
