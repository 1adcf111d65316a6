// Package coderun implements CodeRunner collaborators. The
// default runner embeds github.com/traefik/yaegi as an interpreter to run
// Go source directly in-process. Runners for js/node/python/sh are
// separate collaborator implementations behind the same CodeRunner
// interface — they are not part of the core and are intentionally not
// implemented here.
package coderun

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// GoRunner interprets Go source via yaegi. Bindings are injected as a
// generated `var` preamble ahead of the snippet, since yaegi exposes host
// values to interpreted code through package symbols rather than a
// generic "inject this map" call. Before handing source to yaegi, the
// snippet is parsed with tree-sitter's Go grammar to catch a binding name
// that never appears as an identifier in the body — a cheap pre-flight
// that turns a confusing yaegi "declared and not used" failure into a
// clearer diagnostic naming the unused binding.
type GoRunner struct{}

// NewGoRunner builds the default "go" CodeRunner.
func NewGoRunner() *GoRunner { return &GoRunner{} }

func (r *GoRunner) Language() string { return "go" }

// Run evaluates source with the Go stdlib loaded and bindings spliced in
// as top-level variable declarations, returning whatever the snippet's
// final expression evaluates to.
func (r *GoRunner) Run(ctx context.Context, source string, bindings map[string]any) (any, error) {
	if unused := unusedBindings(source, bindings); len(unused) > 0 {
		return nil, mlerr.New(mlerr.ExecutionFailed, "binding(s) %v declared but never referenced in code body", unused).
			WithContext("unused", unused)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, mlerr.Wrap(mlerr.ExecutionFailed, err, "loading yaegi stdlib symbols")
	}

	full := injectBindingsPreamble(bindings) + source

	type outcome struct {
		val reflect.Value
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		val, err := i.EvalWithContext(ctx, full)
		resultCh <- outcome{val: val, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, mlerr.Wrap(mlerr.Aborted, ctx.Err(), "go code runner cancelled")
	case res := <-resultCh:
		if res.err != nil {
			return nil, mlerr.Wrap(mlerr.ExecutionFailed, res.err, "evaluating go snippet")
		}
		if !res.val.IsValid() || (res.val.Kind() == reflect.Interface && res.val.IsNil()) {
			return nil, nil
		}
		return res.val.Interface(), nil
	}
}

// injectBindingsPreamble renders bindings as `var name = <literal>`
// declarations. Only JSON-shaped values (strings, numbers, bools, nil,
// slices, maps) are supported — matching what the evaluator ever hands a
// code runner as bindings (interpolated variable values).
func injectBindingsPreamble(bindings map[string]any) string {
	preamble := ""
	for name, v := range bindings {
		preamble += fmt.Sprintf("var %s = %s\n", name, goLiteral(v))
	}
	return preamble
}

func goLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "interface{}(nil)"
	case string:
		return fmt.Sprintf("%q", t)
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%#v", t)
	}
}

// unusedBindings parses source with tree-sitter's Go grammar and returns
// the subset of binding names that never occur as an identifier node
// anywhere in the body (a coarse but cheap "declared but unused" check —
// it does not distinguish a shadowing redeclaration from a genuine
// reference, and is not a full semantic pass).
func unusedBindings(source string, bindings map[string]any) []string {
	if len(bindings) == 0 {
		return nil
	}
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(source))
	if err != nil {
		return nil // parse failure is yaegi's job to report; skip the pre-flight
	}
	defer tree.Close()

	seen := map[string]bool{}
	src := []byte(source)
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "identifier" {
			seen[string(src[n.StartByte():n.EndByte()])] = true
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())

	var unused []string
	for name := range bindings {
		if !seen[name] {
			unused = append(unused, name)
		}
	}
	return unused
}
