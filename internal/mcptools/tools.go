// Package mcptools implements ToolsCollection validation and MCP exposure:
// reshaping executables for MCP-client consumption with bind/expose
// parameter routing.
package mcptools

import (
	"context"
	"fmt"

	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

// Build validates raw tool entries (the Tools map of a
// variable.ToolsCollectionValue) and returns them unchanged, enforcing:
// - mlld must reference a declared Executable.
// - bind/expose keys must be actual parameters.
// - expose ∩ bind = ∅.
// - the prefix of positional params up to the last in bind∪expose must
// be fully covered.
func Build(env *environment.Environment, entries map[string]variable.ToolSpec) (map[string]variable.ToolSpec, error) {
	for toolName, spec := range entries {
		if spec.MlldRef == "" {
			return nil, invalid(toolName, "missing mlld reference")
		}
		refName := trimAt(spec.MlldRef)
		target := env.GetVariable(refName)
		if target == nil || target.Kind != variable.KindExecutable {
			return nil, invalid(toolName, fmt.Sprintf("mlld reference %q is not an executable", spec.MlldRef))
		}
		exe, ok := target.Value.(variable.Executable)
		if !ok {
			return nil, invalid(toolName, fmt.Sprintf("mlld reference %q has no executable payload", spec.MlldRef))
		}
		params := make(map[string]bool, len(exe.Params))
		for _, p := range exe.Params {
			params[p] = true
		}
		for k := range spec.Bind {
			if !params[k] {
				return nil, invalid(toolName, fmt.Sprintf("bind key %q is not a parameter of %s", k, spec.MlldRef))
			}
		}
		exposed := map[string]bool{}
		for _, k := range spec.Expose {
			if !params[k] {
				return nil, invalid(toolName, fmt.Sprintf("expose key %q is not a parameter of %s", k, spec.MlldRef))
			}
			if _, bound := spec.Bind[k]; bound {
				return nil, invalid(toolName, fmt.Sprintf("%q is both bound and exposed", k))
			}
			exposed[k] = true
		}
		// Coverage: the prefix of positional params up to the last
		// covered one must be fully covered by bind∪expose.
		lastCovered := -1
		for i, p := range exe.Params {
			if _, bound := spec.Bind[p]; bound || exposed[p] {
				lastCovered = i
			}
		}
		for i := 0; i <= lastCovered; i++ {
			p := exe.Params[i]
			_, bound := spec.Bind[p]
			if !bound && !exposed[p] {
				return nil, invalid(toolName, fmt.Sprintf("parameter %q (position %d) is not covered by bind or expose", p, i))
			}
		}
	}
	return entries, nil
}

func trimAt(ref string) string {
	if len(ref) > 0 && ref[0] == '@' {
		return ref[1:]
	}
	return ref
}

func invalid(tool, reason string) error {
	return mlerr.New(mlerr.ToolsCollectionInvalid, "tool %q: %s", tool, reason).WithContext("tool", tool)
}

// Invoker calls an Executable Variable with positional arguments; wired
// from internal/eval to avoid an import cycle.
type Invoker func(ctx context.Context, env *environment.Environment, exeName string, args map[string]any) (any, error)

// AsMCP registers every tool in a ToolsCollection with server on an
// in-memory collab.StaticMCP, applying bind/expose parameter routing and
// tagging every *svalue.Value call result with src:mcp provenance: taint
// ["src:mcp"] plus sources ["mcp:<toolName>"] layered on top of whatever
// taint the underlying executable produced (e.g. src:exec). Results of any
// other type are returned as they are, without src:mcp taint. src:mcp is
// protected and cannot be stripped by later transforms
// (internal/security.LabelProtected).
func AsMCP(mcp *collab.StaticMCP, server string, tools map[string]variable.ToolSpec, invoke Invoker, env *environment.Environment) {
	for toolName, spec := range tools {
		toolName, spec := toolName, spec
		mcp.Register(server, collab.StaticTool{
			Spec: collab.ToolSpec{Name: toolName, Description: spec.Description},
			Call: func(ctx context.Context, args map[string]any) (any, error) {
				full := make(map[string]any, len(spec.Bind)+len(args))
				for k, v := range spec.Bind {
					full[k] = v
				}
				for _, k := range spec.Expose {
					if v, ok := args[k]; ok {
						full[k] = v
					}
				}
				result, err := invoke(ctx, env, trimAt(spec.MlldRef), full)
				if err != nil {
					return nil, err
				}
				return tagMCPResult(result, toolName), nil
			},
		})
	}
}

func tagMCPResult(result any, toolName string) any {
	// StructuredValue is the common case; other shapes pass through
	// untagged (primitives carry no descriptor to merge into).
	sv, ok := result.(*svalue.Value)
	if !ok {
		return result
	}
	mx := security.Derive(sv.Descriptor(), "mcp:"+toolName, "src:mcp")
	return sv.WithDescriptor(mx)
}
