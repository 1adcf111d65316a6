package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/environment"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
)

func newEnv() *environment.Environment {
	return environment.New(collab.Collaborators{FS: collab.NewOSFileSystem()}, "/tmp")
}

func textResult(s string) StageResult {
	return StageResult{Signal: SignalAdvance, Value: svalue.New(svalue.Text, s, nil, security.Empty())}
}

func TestExecuteAdvancesThroughStagesInOrder(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	stages := []Stage{
		{Name: "upper", Run: func(_ context.Context, in *svalue.Value, _ *State) (StageResult, error) {
			return textResult(in.AsText() + "-upper"), nil
		}},
		{Name: "suffix", Run: func(_ context.Context, in *svalue.Value, _ *State) (StageResult, error) {
			return textResult(in.AsText() + "-suffix"), nil
		}},
	}

	out, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9})
	require.NoError(t, err)
	require.Equal(t, "seed-upper-suffix", out.AsText())
}

func TestExecuteTagsEveryStageOutputWithPipelineProvenance(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	stages := []Stage{
		{Name: "tagme", Run: func(_ context.Context, in *svalue.Value, _ *State) (StageResult, error) {
			return textResult(in.AsText()), nil
		}},
	}

	out, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9})
	require.NoError(t, err)
	require.True(t, out.Descriptor().HasTaint("src:pipeline"))
	require.Contains(t, out.Descriptor().Sources, "pipeline:tagme")
}

func TestExecuteRetriesSameStageOnRetrySignal(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	attempts := 0
	stages := []Stage{
		{Name: "flaky", Run: func(_ context.Context, in *svalue.Value, _ *State) (StageResult, error) {
			attempts++
			if attempts < 3 {
				return StageResult{Signal: SignalRetry, Hint: "try again"}, nil
			}
			return textResult(in.AsText() + "-done"), nil
		}},
	}

	out, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 5, MaxGlobalRetries: 9})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, "seed-done", out.AsText())
}

func TestExecuteExhaustsRetryBudgetAndErrors(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	stages := []Stage{
		{Name: "always-retry", Run: func(context.Context, *svalue.Value, *State) (StageResult, error) {
			return StageResult{Signal: SignalRetry, Hint: "nope"}, nil
		}},
	}

	_, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 2, MaxGlobalRetries: 9})
	require.Error(t, err)
}

func TestExecuteResetJumpsToTargetStage(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	resetDone := false
	stages := []Stage{
		{Name: "first", Run: func(_ context.Context, in *svalue.Value, _ *State) (StageResult, error) {
			return textResult(in.AsText() + "-first"), nil
		}},
		{Name: "second", Run: func(_ context.Context, in *svalue.Value, _ *State) (StageResult, error) {
			if !resetDone {
				resetDone = true
				return StageResult{Signal: SignalReset, ResetTo: 1}, nil
			}
			return textResult(in.AsText() + "-second"), nil
		}},
	}

	out, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9})
	require.NoError(t, err)
	require.Equal(t, "seed-first-first-second", out.AsText())
}

func TestExecuteResetOutOfRangeErrors(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	stages := []Stage{
		{Name: "bad-reset", Run: func(context.Context, *svalue.Value, *State) (StageResult, error) {
			return StageResult{Signal: SignalReset, ResetTo: 99}, nil
		}},
	}

	_, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9})
	require.Error(t, err)
}

func TestExecuteDoneShortCircuits(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	secondRan := false
	stages := []Stage{
		{Name: "finisher", Run: func(context.Context, *svalue.Value, *State) (StageResult, error) {
			return StageResult{Signal: SignalDone, Value: svalue.New(svalue.Text, "early-exit", nil, security.Empty())}, nil
		}},
		{Name: "never", Run: func(context.Context, *svalue.Value, *State) (StageResult, error) {
			secondRan = true
			return textResult("unreachable"), nil
		}},
	}

	out, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9})
	require.NoError(t, err)
	require.Equal(t, "early-exit", out.AsText())
	require.False(t, secondRan)
}

func TestExecuteParallelStageMergesPeerOutputsInOrder(t *testing.T) {
	env := newEnv()
	seed := svalue.New(svalue.Text, "seed", nil, security.Empty())

	stages := []Stage{
		{Name: "fanout", Parallel: []Stage{
			{Name: "a", Run: func(context.Context, *svalue.Value, *State) (StageResult, error) {
				return textResult("a-out"), nil
			}},
			{Name: "b", Run: func(context.Context, *svalue.Value, *State) (StageResult, error) {
				return textResult("b-out"), nil
			}},
		}},
	}

	out, err := Execute(context.Background(), env, seed, stages, Limits{MaxRetriesPerStage: 3, MaxGlobalRetries: 9})
	require.NoError(t, err)
	data, ok := out.AsData().([]any)
	require.True(t, ok)
	require.Equal(t, []any{"a-out", "b-out"}, data)
}
