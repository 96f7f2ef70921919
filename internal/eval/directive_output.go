package eval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/emitter"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/mllderr"
)

// nowUnix is a seam so state-write timestamps are deterministic in tests
// that don't care about wall-clock freshness; production callers get real
// time.
var nowUnix = func() int64 { return time.Now().Unix() }

const stateScheme = "state://"

// evalOutput implements /output and /append (§4.6). Targets: stdout
// (handled by the caller rendering intents, so a bare stdout target is a
// no-op write here beyond emitting the value), a state:// sink (recorded
// in the ordered state-writes buffer), or a file path (.jsonl appends
// newline-delimited JSON, .json is forbidden, anything else is a plain
// text write/append).
func (ev *Evaluator) evalOutput(ctx context.Context, env *environment.Environment, d *ast.Directive, appendMode bool) error {
	expr, _ := d.Fields["expr"].(ast.Node)
	if expr == nil {
		return mllderr.New(mllderr.InvalidDirective, "/output requires an expression").At(loc(d.Loc()))
	}
	v, err := ev.evalNode(ctx, env, expr)
	if err != nil {
		return err
	}
	target, _ := d.Fields["target"].(string)

	if target == "" || target == "stdout" {
		env.EmitIntent(emitter.Content(stringify(v), emitter.SourceDirective, emitter.VisibilityAlways))
		return nil
	}
	if strings.HasPrefix(target, stateScheme) {
		path := strings.TrimPrefix(target, stateScheme)
		env.AppendStateWrite(path, rawValue(v), nowUnix())
		return nil
	}

	ext := strings.ToLower(filepath.Ext(target))
	if ext == ".json" {
		return mllderr.New(mllderr.AssignMismatch, "cannot write/append a single JSON document to %q, use .jsonl", target).At(loc(d.Loc()))
	}

	if dir := filepath.Dir(target); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return mllderr.Wrap(mllderr.PermissionDenied, err, "creating directory for %q", target)
		}
	}

	var payload string
	if ext == ".jsonl" {
		encoded, err := json.Marshal(rawValue(v))
		if err != nil {
			return mllderr.New(mllderr.AssignMismatch, "value written to %q is not JSON-serializable: %v", target, err).At(loc(d.Loc()))
		}
		payload = string(encoded) + "\n"
	} else {
		payload = stringify(v)
		if payload != "" && !strings.HasSuffix(payload, "\n") {
			payload += "\n"
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode || ext == ".jsonl" {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(target, flags, 0o644)
	if err != nil {
		return mllderr.Wrap(mllderr.PermissionDenied, err, "opening %q", target)
	}
	defer f.Close()
	if _, err := f.WriteString(payload); err != nil {
		return mllderr.Wrap(mllderr.PermissionDenied, err, "writing %q", target)
	}
	return nil
}
