// Package environment implements the Environment: a
// hierarchical scope holding variables, collaborator handles, the policy
// registry, installed guards, and the current pipeline stack.
package environment

import (
	"context"
	"sync"

	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/obslog"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
	"github.com/mlld-lang/mlld-sub002/internal/variable"
)

// GuardClause is one installed guard. The evaluation
// of its condition AST is delegated to a GuardEvaluator supplied by
// internal/guard, avoiding an import cycle between environment and guard.
type GuardClause struct {
	Name      string
	Phase     GuardPhase
	Operation string // "run", "exe", "http", "fs", "mcp", "import"
	Eval      GuardEvaluator
}

// GuardPhase selects before/after consultation.
type GuardPhase string

const (
	GuardBefore GuardPhase = "before"
	GuardAfter  GuardPhase = "after"
)

// GuardEvaluator evaluates one guard's `when` arms against a match
// context built from the operation in flight. Returns (true, "", nil) to
// allow, or (false, reason, nil) to deny; a non-nil err aborts the operation.
type GuardEvaluator func(ctx context.Context, mctx MatchContext) (allowed bool, reason string, err error)

// MatchContext is the read-only context guards evaluate against: @mx,
// @input, @op.
type MatchContext struct {
	Operation string
	Mx        security.Descriptor
	Input     map[string]any
}

// PipelineFrame is one entry of the pipeline stack — kept here as an opaque `any` to avoid an import cycle
// with internal/pipeline, which type-asserts it back.
type PipelineFrame = any

// Environment is the hierarchical scope that holds bound variables,
// collaborators, and security/guard state for one evaluation context.
type Environment struct {
	mu      sync.RWMutex
	parent  *Environment
	vars    map[string]*variable.Variable
	exports map[string]bool

	Collaborators collab.Collaborators

	CurrentFilePath  string
	WorkingDirectory string

	policyRegistry map[string]*security.Policy
	guards         []GuardClause
	pipelineStack  []PipelineFrame

	Auditor *obslog.Auditor
}

// New creates a root Environment.
func New(collaborators collab.Collaborators, workingDirectory string) *Environment {
	return &Environment{
		vars:             map[string]*variable.Variable{},
		exports:          map[string]bool{},
		Collaborators:    collaborators,
		WorkingDirectory: workingDirectory,
		policyRegistry:   map[string]*security.Policy{},
		Auditor:          obslog.NewAuditor(),
	}
}

// CreateChild returns a new Environment whose parent is e; it shares
// collaborators and inherits lookups but shadows writes.
func (e *Environment) CreateChild() *Environment {
	return &Environment{
		parent:           e,
		vars:             map[string]*variable.Variable{},
		exports:          map[string]bool{},
		Collaborators:    e.Collaborators,
		CurrentFilePath:  e.CurrentFilePath,
		WorkingDirectory: e.WorkingDirectory,
		policyRegistry:   map[string]*security.Policy{},
		Auditor:          e.Auditor,
	}
}

// GetVariable walks the parent chain, returning the first hit or nil.
func (e *Environment) GetVariable(name string) *variable.Variable {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		v, ok := env.vars[name]
		env.mu.RUnlock()
		if ok {
			return v
		}
	}
	return nil
}

// SetVariable writes in the current scope only; overwrites silently.
func (e *Environment) SetVariable(name string, v *variable.Variable) {
	e.mu.Lock()
	e.vars[name] = v
	e.mu.Unlock()
}

// MarkExported records name as an exported binding for this module scope.
func (e *Environment) MarkExported(name string) {
	e.mu.Lock()
	e.exports[name] = true
	e.mu.Unlock()
}

// ExportTable returns the snapshot of {name: Variable} for every name
// marked exported in this scope.
func (e *Environment) ExportTable() map[string]*variable.Variable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*variable.Variable, len(e.exports))
	for name := range e.exports {
		if v, ok := e.vars[name]; ok {
			out[name] = v
		}
	}
	return out
}

// VisibleVariableNames lists every name bound anywhere in this scope's
// parent chain, nearest-scope-wins on shadowing, used to build
// code-runner bindings.
func (e *Environment) VisibleVariableNames() []string {
	seen := map[string]bool{}
	out := []string{}
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		for name := range env.vars {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
		env.mu.RUnlock()
	}
	return out
}

// ReadFile delegates to the filesystem collaborator.
func (e *Environment) ReadFile(ctx context.Context, path string) (string, error) {
	start := nowFunc()
	text, err := e.Collaborators.FS.Read(ctx, path)
	e.audit(obslog.EventFileRead, security.Descriptor{Taint: []string{"src:file"}, Sources: []string{"file:" + path}}, path, start)
	return text, err
}

// ExecuteCommand delegates to the shell collaborator, applies automatic
// JSON detection, and tags the result with src:exec provenance.
func (e *Environment) ExecuteCommand(ctx context.Context, cmd string, opts collab.ExecOptions) (*svalue.Value, error) {
	start := nowFunc()
	res, err := e.Collaborators.Shell.Exec(ctx, cmd, opts)
	mx := security.Descriptor{Taint: []string{"src:exec"}, Sources: []string{"cmd:" + firstToken(cmd)}}
	e.audit(obslog.EventCommandExec, mx, cmd, start)
	if err != nil {
		return nil, err
	}
	return svalue.DetectAndParse(res.Stdout, mx), nil
}

func firstToken(cmd string) string {
	for i, r := range cmd {
		if r == ' ' || r == '\t' {
			return cmd[:i]
		}
	}
	return cmd
}

// MergeSecurityDescriptors applies security.Merge across ds.
func (e *Environment) MergeSecurityDescriptors(ds ...security.Descriptor) security.Descriptor {
	return security.MergeAll(ds...)
}

// RecordPolicyConfig registers a named capability policy.
func (e *Environment) RecordPolicyConfig(name string, p *security.Policy) {
	e.mu.Lock()
	e.policyRegistry[name] = p
	e.mu.Unlock()
}

// LookupPolicy walks the parent chain for a named policy.
func (e *Environment) LookupPolicy(name string) *security.Policy {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		p, ok := env.policyRegistry[name]
		env.mu.RUnlock()
		if ok {
			return p
		}
	}
	return nil
}

// InstallGuard adds g to this scope's guard list.
func (e *Environment) InstallGuard(g GuardClause) {
	e.mu.Lock()
	e.guards = append(e.guards, g)
	e.mu.Unlock()
}

// Guards returns every guard installed in this scope or any ancestor,
// outer to inner, so outer-scope guards fire for inner-scope operations
// they were never installed against.
func (e *Environment) Guards() []GuardClause {
	var chain []*Environment
	for env := e; env != nil; env = env.parent {
		chain = append(chain, env)
	}
	var out []GuardClause
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		out = append(out, chain[i].guards...)
		chain[i].mu.RUnlock()
	}
	return out
}

// PushPipelineFrame / PopPipelineFrame manage the nested-pipeline stack.
func (e *Environment) PushPipelineFrame(f PipelineFrame) {
	e.mu.Lock()
	e.pipelineStack = append(e.pipelineStack, f)
	e.mu.Unlock()
}

func (e *Environment) PopPipelineFrame() {
	e.mu.Lock()
	if len(e.pipelineStack) > 0 {
		e.pipelineStack = e.pipelineStack[:len(e.pipelineStack)-1]
	}
	e.mu.Unlock()
}

func (e *Environment) CurrentPipelineFrame() PipelineFrame {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.pipelineStack) == 0 {
		return nil
	}
	return e.pipelineStack[len(e.pipelineStack)-1]
}

func (e *Environment) audit(event obslog.EventType, mx security.Descriptor, detail string, start int64) {
	if e.Auditor == nil {
		return
	}
	e.Auditor.Emit(obslog.Record{
		Event:      event,
		Labels:     mx.Labels,
		Taint:      mx.Taint,
		Sources:    mx.Sources,
		Detail:     detail,
		DurationMs: nowFunc() - start,
	})
}

// ErrGuardDenied wraps a guard denial into mlerr's taxonomy.
func ErrGuardDenied(name, reason string) error {
	return mlerr.New(mlerr.GuardDenied, "%s", reason).WithContext("guard", name)
}
