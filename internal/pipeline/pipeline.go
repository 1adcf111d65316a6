// Package pipeline implements the pipeline state machine:
// threading a StructuredValue through `| @stage1 | @stage2 …` with
// retries, resets, hints and bracketed parallel stages.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/mlconfig"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/obslog"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
	"golang.org/x/sync/errgroup"
)

// State is the per-pipeline-invocation state.
type State struct {
	Stage           int
	Attempt         int
	GlobalAttempt   int
	History         []*svalue.Value
	PreviousOutputs []*svalue.Value
	CurrentHint     string
	HintHistory     []string
	ContextID       string
	StreamID        string
}

// NewState builds a fresh pipeline state with generated context/stream ids.
func NewState() *State {
	return &State{
		Stage: 1,
		ContextID: uuid.NewString(),
		StreamID: uuid.NewString(),
	}
}

// Signal is what a stage function returns to drive the state machine,
// alongside its produced value.
type Signal string

const (
	SignalAdvance Signal = "advance" // normal return
	SignalRetry   Signal = "retry"
	SignalReset   Signal = "reset"
	SignalDone    Signal = "done"
)

// StageResult is what a single stage invocation yields.
type StageResult struct {
	Signal  Signal
	Value   *svalue.Value
	Hint    string
	ResetTo int
}

// StageFunc executes one pipeline stage given the current input value.
type StageFunc func(ctx context.Context, input *svalue.Value, st *State) (StageResult, error)

// Stage is one compiled pipeline step: either a single StageFunc or a
// bracketed group of StageFuncs to run concurrently.
type Stage struct {
	Name     string
	Run      StageFunc
	Parallel []Stage
}

// Limits bounds retry behaviour.
type Limits struct {
	MaxRetriesPerStage int
	MaxGlobalRetries   int
}

func limitsFrom(cfg mlconfig.LimitsConfig) Limits {
	return Limits{MaxRetriesPerStage: cfg.MaxRetriesPerStage, MaxGlobalRetries: cfg.MaxGlobalRetries}
}

// Execute runs seed through stages in order, applying retry/reset/done
// semantics, returning the final StructuredValue.
func Execute(ctx context.Context, env *environment.Environment, seed *svalue.Value, stages []Stage, limits Limits) (*svalue.Value, error) {
	st := NewState()
	current := seed
	env.PushPipelineFrame(st)
	defer env.PopPipelineFrame()

	for st.Stage >= 1 && st.Stage <= len(stages) {
		stage := stages[st.Stage-1]
		res, err := runOneStage(ctx, stage, current, st)
		if err != nil {
			return nil, err
		}

		env.Auditor.Emit(obslog.Record{
			Event: obslog.EventPipelineStage,
			Detail: stage.Name,
			Taint: current.Descriptor().Taint,
		})

		switch res.Signal {
		case SignalDone:
			return res.Value, nil
		case SignalRetry:
			st.Attempt++
			st.GlobalAttempt++
			st.CurrentHint = res.Hint
			st.HintHistory = append(st.HintHistory, res.Hint)
			env.Auditor.Emit(obslog.Record{Event: obslog.EventPipelineRetry, Detail: stage.Name})
			if st.Attempt > limits.MaxRetriesPerStage || st.GlobalAttempt > limits.MaxGlobalRetries {
				return nil, mlerr.New(mlerr.PipelineRetryExhausted, "stage %q exhausted retries", stage.Name).
					WithContext("stage", stage.Name, "attempt", st.Attempt, "globalAttempt", st.GlobalAttempt)
			}
			// Same input handed to the same stage again — "Pipeline
			// idempotence under retry": current is left
			// unchanged.
			continue
		case SignalReset:
			if res.ResetTo < 1 || res.ResetTo > len(stages) {
				return nil, mlerr.New(mlerr.PipelineResetInvalid, "reset target %d out of range", res.ResetTo).
					WithContext("to", res.ResetTo)
			}
			// Decision: attempt resets per-stage,
			// globalAttempt increments once per reset call.
			st.GlobalAttempt++
			st.Attempt = 0
			st.PreviousOutputs = nil
			st.Stage = res.ResetTo
			continue
		default: // SignalAdvance
			st.Attempt = 0
			st.History = append(st.History, res.Value)
			st.PreviousOutputs = append(st.PreviousOutputs, res.Value)
			current = res.Value
			st.Stage++
		}
	}
	return current, nil
}

func runOneStage(ctx context.Context, stage Stage, input *svalue.Value, st *State) (StageResult, error) {
	if len(stage.Parallel) > 0 {
		out, err := runParallel(ctx, stage.Parallel, input, st)
		if err != nil {
			return StageResult{}, err
		}
		out.Value = tagStage(out.Value, stage.Name, input)
		return out, nil
	}
	out, err := stage.Run(ctx, input, st)
	if err != nil {
		return StageResult{}, err
	}
	out.Value = tagStage(out.Value, stage.Name, input)
	return out, nil
}

// runParallel runs every bracketed peer concurrently via errgroup and,
// once every peer has completed, merges their results in index order; the
// first error or ctx cancellation aborts the rest. Only the results are
// ordered: whatever side effects a peer's StageFunc has take place while it
// runs, concurrently with its peers, and are not deferred to the bracket
// boundary.
func runParallel(ctx context.Context, peers []Stage, input *svalue.Value, st *State) (StageResult, error) {
	results := make([]StageResult, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range peers {
		i, p := i, p
		g.Go(func() error {
			out, err := p.Run(gctx, input, st)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageResult{}, err
	}

	// Reconcile: merge every peer's descriptor into one combined value,
	// data becomes an array of peer outputs in index order.
	mx := security.Empty()
	data := make([]any, len(results))
	for i, r := range results {
		if r.Value != nil {
			mx = security.Merge(mx, r.Value.Descriptor())
			data[i] = r.Value.AsData()
		}
	}
	merged := svalue.New(svalue.JSON, "", data, mx)
	return StageResult{Signal: SignalAdvance, Value: merged}, nil
}

// tagStage applies provenance: every stage output is tagged
// `src:pipeline:<stage-name>` plus the generic `src:pipeline`, merged with
// the input's own descriptor.
func tagStage(out *svalue.Value, stageName string, input *svalue.Value) *svalue.Value {
	if out == nil {
		return out
	}
	mx := security.Derive(
		security.Merge(input.Descriptor(), out.Descriptor()),
		"pipeline:"+stageName,
		"src:pipeline",
	)
	return out.WithDescriptor(mx)
}

// CompileStages converts parsed ast.PipeStage nodes into executable
// Stage values, given a stageInvoker that knows how to call a named
// executable or inline command (wired from internal/eval to avoid an
// import cycle).
func CompileStages(stages []ast.PipeStage, invoke func(ast.PipeStage) StageFunc) []Stage {
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if len(s.Parallel) > 0 {
			out = append(out, Stage{Name: "parallel", Parallel: CompileStages(s.Parallel, invoke)})
			continue
		}
		name := s.ExecutableRef
		if name == "" {
			name = "inline"
		}
		out = append(out, Stage{Name: name, Run: invoke(s)})
	}
	return out
}
