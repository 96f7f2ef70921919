package eval

import (
	"context"
	"sort"
	"sync"

	"github.com/mlld-lang/mlld/internal/ast"
	gocontext "github.com/mlld-lang/mlld/internal/context"
	"github.com/mlld-lang/mlld/internal/environment"
	"github.com/mlld-lang/mlld/internal/hooks"
	"github.com/mlld-lang/mlld/internal/mllderr"
	"github.com/mlld-lang/mlld/internal/structured"
	"github.com/mlld-lang/mlld/internal/variable"
)

func (ev *Evaluator) evalFor(ctx context.Context, env *environment.Environment, d *ast.Directive) error {
	f, _ := d.Fields["for"].(*ast.ForExpression)
	if f == nil {
		return mllderr.New(mllderr.InvalidDirective, "/for requires a collection and body").At(loc(d.Loc()))
	}
	_, err := ev.evalForExpr(ctx, env, f)
	return err
}

// evalForExpr implements iteration over an array or object collection
// (§4.5). Sequential by default (batch size 1); `for N parallel` runs
// batches of N concurrently, sequentially between batches. Each
// iteration's intents are buffered in its own child environment and
// flushed to env in input order once its batch completes, so concurrent
// completion order never reorders the output (§8 invariant #2, S4).
func (ev *Evaluator) evalForExpr(ctx context.Context, env *environment.Environment, f *ast.ForExpression) (*variable.Variable, error) {
	collVar, err := ev.evalNode(ctx, env, f.Coll)
	if err != nil {
		return nil, err
	}
	items, keys, err := iterableOf(collVar)
	if err != nil {
		return nil, err
	}

	batchSize := f.Parallel
	if batchSize <= 0 {
		batchSize = 1
	}

	ctxMgr := env.GetContextManager()
	results := make([]*variable.Variable, len(items))
	total := len(items)

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batchIndex := start / batchSize
		size := end - start

		ctxMgr.PushOperation(gocontext.OperationFrame{Type: "for:batch"})
		beforeBatch := hooks.RunBefore(ctx, ctxMgr, ev.hooks.MatchingBefore("op:for:batch", nil, "", ""), nil)
		if beforeBatch.Denied {
			ctxMgr.PopOperation()
			return nil, mllderr.New(mllderr.GuardDeny, "%s", beforeBatch.Message)
		}

		childEnvs := make([]*environment.Environment, size)
		errs := make([]error, size)
		var wg sync.WaitGroup
		var mu sync.Mutex // serializes ContextManager for-frame access within the batch

		for i := 0; i < size; i++ {
			idx := start + i
			localI := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				child := env.CreateChild()
				childEnvs[localI] = child

				if f.KeyVar != "" {
					child.SetVariable(f.KeyVar, keys[idx])
				}
				child.SetVariable(f.ValueVar, items[idx])

				mu.Lock()
				ctxMgr.PushFor(gocontext.ForFrame{Index: idx, Total: total, BatchIndex: batchIndex, BatchSize: size})
				before := hooks.RunBefore(ctx, ctxMgr, ev.hooks.MatchingBefore("op:for:iteration", nil, "", ""), nil)
				mu.Unlock()

				if before.Denied {
					ctxMgr.PopFor()
					errs[localI] = mllderr.New(mllderr.GuardDeny, "%s", before.Message)
					return
				}

				v, err := ev.evalNode(ctx, child, f.Body)

				mu.Lock()
				hooks.RunAfter(ctx, ctxMgr, ev.hooks.MatchingAfter("op:for:iteration", nil, "", ""), nil)
				ctxMgr.PopFor()
				mu.Unlock()

				if err != nil {
					errs[localI] = err
					return
				}
				results[idx] = v
			}()
		}
		wg.Wait()

		for i := 0; i < size; i++ {
			if childEnvs[i] != nil {
				childEnvs[i].FlushIntentsTo(env)
			}
			if errs[i] != nil {
				ctxMgr.PopOperation()
				return nil, errs[i]
			}
		}

		hooks.RunAfter(ctx, ctxMgr, ev.hooks.MatchingAfter("op:for:batch", nil, "", ""), nil)
		if err := ctxMgr.PopOperation(); err != nil {
			return nil, err
		}
	}

	out := make([]interface{}, len(results))
	for i, r := range results {
		if r != nil {
			out[i] = rawValue(r)
		}
	}
	return variable.CreateStructured("", structured.FromArray(out), variable.Source{Directive: "for"}, variable.Options{}), nil
}

// iterableOf adapts a collection Variable into parallel items/keys slices:
// arrays yield numeric-string indices as keys, objects yield their own
// keys in sorted (byte-wise) order.
func iterableOf(v *variable.Variable) (items []*variable.Variable, keys []*variable.Variable, err error) {
	sv, ok := v.Value.(structured.Value)
	if !ok {
		return nil, nil, mllderr.New(mllderr.InvalidValueType, "/for requires an array or object collection")
	}
	if arr, ok := sv.AsArray(); ok {
		items = make([]*variable.Variable, len(arr))
		keys = make([]*variable.Variable, len(arr))
		for i, el := range arr {
			items[i] = wrapVariable("", el)
			keys[i] = variable.CreatePrimitive("", variable.Primitive{Kind: variable.PrimitiveNumber, Number: float64(i)}, variable.Source{}, variable.Options{})
		}
		return items, keys, nil
	}
	if obj, ok := sv.AsObject(); ok {
		sortedKeys := make([]string, 0, len(obj))
		for k := range obj {
			sortedKeys = append(sortedKeys, k)
		}
		sort.Strings(sortedKeys)

		items = make([]*variable.Variable, 0, len(obj))
		keys = make([]*variable.Variable, 0, len(obj))
		for _, k := range sortedKeys {
			items = append(items, wrapVariable("", obj[k]))
			keys = append(keys, variable.CreateSimpleText("", k, variable.Source{}, variable.Options{}))
		}
		return items, keys, nil
	}
	return nil, nil, mllderr.New(mllderr.InvalidValueType, "/for requires an array or object collection")
}
