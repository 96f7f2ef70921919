package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/config"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/exec"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/logging"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/pipeline"
	"github.com/mlld-lang/mlld/internal/resolver"
)

func main() {
	var (
		strict   bool
		debug    bool
		lockPath string
	)

	rootCmd := &cobra.Command{
		Use:           "mlld [file]",
		Short:         "Run an mlld document and print its reconstructed output",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], strict, debug, lockPath)
		},
	}

	rootCmd.Flags().BoolVar(&strict, "strict", false, "Fail on directives that would otherwise warn")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&lockPath, "lock-file", "mlld.lock.yaml", "Path to the project lock file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mlld: %v\n", err)
		os.Exit(1)
	}
}

// run wires the interpreter's collaborators (§4) against the real exec and
// resolver implementations, evaluates file's document, and prints the
// reconstructed text to stdout.
func run(file string, strict, debug bool, lockPath string) error {
	ctx, cancel := cancellableContext()
	defer cancel()

	source, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	opts := config.DefaultOptions()
	opts.Strict = strict

	bindings, err := loadBindings(lockPath)
	if err != nil {
		return err
	}
	resolverMgr := resolver.NewManager(bindings, resolver.NewImmutableCache())

	debugLevel := logging.DebugOff
	if debug {
		debugLevel = logging.DebugVerbose
	}
	logger := logging.New(os.Stderr, debugLevel, logging.TelemetryOff)
	runner := exec.New(exec.Config{EnhancedBashMode: true}, logger)

	hookRegistry := hooks.NewRegistry()
	root := environment.NewRoot(opts, hookRegistry, resolverMgr, runner)

	pipeCfg := pipeline.Config{MaxAttempts: opts.PipelineMaxRetries}
	ev := eval.New(hookRegistry, pipeCfg, unavailableModuleParser)

	doc, err := parseEntryDocument(string(source))
	if err != nil {
		return err
	}

	output, err := ev.EvaluateDocument(ctx, root, doc)
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", file, err)
	}

	fmt.Print(output)
	return nil
}

// unavailableModuleParser is the /import collaborator's parser seam: the
// grammar front end that turns source text into *ast.Document lives outside
// this module, so imports surface a clear MODULE_NOT_FOUND instead of a nil
// dereference until a real front end is wired in.
func unavailableModuleParser(source string) (*ast.Document, error) {
	return nil, mllderr.New(mllderr.ModuleNotFound, "no grammar front end is wired into this build; /import cannot resolve module source")
}

// parseEntryDocument is the same seam as unavailableModuleParser applied to
// the entry file itself: this binary demonstrates the evaluator wired to
// real exec/resolver/hook collaborators, but producing an *ast.Document from
// mlld source text is the external grammar's job.
func parseEntryDocument(source string) (*ast.Document, error) {
	return nil, mllderr.New(mllderr.InvalidDirective, "no grammar front end is wired into this build; cannot parse entry document")
}

func loadBindings(lockPath string) ([]resolver.Binding, error) {
	data, err := os.ReadFile(lockPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lock file %s: %w", lockPath, err)
	}
	lf, err := config.ParseLockFile(data)
	if err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", lockPath, err)
	}

	var out []resolver.Binding
	for _, b := range lf.Bindings() {
		res := builtinResolver(b.Resolver, b.Config)
		if res == nil {
			return nil, fmt.Errorf("lock file %s: unknown resolver %q for prefix %q", lockPath, b.Resolver, b.Prefix)
		}
		if errs := res.ValidateConfig(b.Config); len(errs) > 0 {
			return nil, fmt.Errorf("lock file %s: invalid config for prefix %q: %w", lockPath, b.Prefix, errs[0])
		}
		out = append(out, resolver.Binding{
			Prefix:   b.Prefix,
			Resolver: res,
			Type:     resolver.Type(b.Type),
			Config:   b.Config,
			Priority: b.Priority,
		})
	}
	return out, nil
}

// builtinResolver instantiates one of the built-in resolvers (§4.9) by the
// name used in the lock file's `resolver:` field.
func builtinResolver(name string, cfg map[string]interface{}) resolver.Resolver {
	switch name {
	case "local":
		basePath, _ := cfg["basePath"].(string)
		return resolver.NewLocalResolver(resolver.LocalConfig{BasePath: basePath})
	case "http":
		return resolver.NewHTTPResolver(nil)
	case "github":
		repository, _ := cfg["repository"].(string)
		branch, _ := cfg["branch"].(string)
		basePath, _ := cfg["basePath"].(string)
		return resolver.NewGitHubResolver(resolver.GitHubConfig{Repository: repository, Branch: branch, BasePath: basePath}, nil)
	default:
		return nil
	}
}

func cancellableContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}
