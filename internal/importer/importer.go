// Package importer implements `/import`/`/export` module resolution
//: resolving a module specifier through the
// ModuleResolver collaborator, evaluating it in a fresh child Environment,
// detecting import cycles, and re-exposing its export table under the
// importing scope's chosen bindings.
package importer

import (
	"context"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
)

// EvalFunc runs a parsed Document against env, returning the first error
// surfaced during evaluation; wired from internal/eval to avoid an import
// cycle.
type EvalFunc func(ctx context.Context, doc *ast.Document, env *environment.Environment) error

// Resolver resolves and caches imported modules, tracking the in-flight
// import chain to detect cycles.
type Resolver struct {
	eval     EvalFunc
	cache    map[string]*environment.Environment // specifier -> evaluated module scope
	inFlight map[string]bool
}

// New builds a Resolver bound to eval, the evaluator entry point.
func New(eval EvalFunc) *Resolver {
	return &Resolver{
		eval: eval,
		cache: map[string]*environment.Environment{},
		inFlight: map[string]bool{},
	}
}

// Import resolves specifier (relative path, `@scope/name`, or registry
// URL — left to the ModuleResolver collaborator to interpret), evaluates
// it once per specifier (subsequent imports of the same specifier reuse
// the cached module scope), and copies the requested bindings from its
// export table into dest under the names in bindings (local-name ->
// exported-name; empty bindings imports every exported name as-is).
func (r *Resolver) Import(ctx context.Context, env *environment.Environment, specifier string, bindings map[string]string, dest *environment.Environment) error {
	if r.inFlight[specifier] {
		return mlerr.New(mlerr.ImportCycle, "import cycle detected at %q", specifier).WithContext("specifier", specifier)
	}

	modEnv, ok := r.cache[specifier]
	if !ok {
		r.inFlight[specifier] = true
		defer delete(r.inFlight, specifier)

		doc, err := env.Collaborators.Resolver.Resolve(ctx, specifier, env.CurrentFilePath)
		if err != nil {
			return mlerr.Wrap(mlerr.ImportNotFound, err, "resolving %q", specifier)
		}

		modEnv = env.CreateChild()
		modEnv.CurrentFilePath = specifier
		if err := r.eval(ctx, doc, modEnv); err != nil {
			return err
		}
		r.cache[specifier] = modEnv
	}

	exports := modEnv.ExportTable()
	if len(bindings) == 0 {
		for name, v := range exports {
			dest.SetVariable(name, v)
		}
		return nil
	}
	for localName, exportedName := range bindings {
		v, ok := exports[exportedName]
		if !ok {
			return mlerr.New(mlerr.ImportNotFound, "module %q does not export %q", specifier, exportedName).
				WithContext("specifier", specifier, "name", exportedName)
		}
		dest.SetVariable(localName, v)
	}
	return nil
}

// ExportedNames lists every binding a cached module specifier exposes,
// without re-running the module; it returns nil for an uncached specifier.
func (r *Resolver) ExportedNames(specifier string) []string {
	modEnv, ok := r.cache[specifier]
	if !ok {
		return nil
	}
	exports := modEnv.ExportTable()
	out := make([]string, 0, len(exports))
	for name := range exports {
		out = append(out, name)
	}
	return out
}
