package saksflyt

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/engine"
)

// TestStepOverheadUnder1ms runs a long pipeline of no-op steps in memory and
// checks the average cost of driving one step.
func TestStepOverheadUnder1ms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	orch := engine.NewInMemoryOrchestrator(nil)

	noop := func(context.Context, *ExecutionContext) error { return nil }
	const N = 200

	b := NewPipeline("perf")
	for i := 0; i < N; i++ {
		b = b.Action(fmt.Sprintf("s%04d", i), noop)
	}
	require.NoError(t, b.Register(orch))

	_, err := orch.HandleEvent(ctx, Event{ID: "warmup", Type: "perf"})
	require.NoError(t, err)

	start := time.Now()
	rec, err := orch.HandleEvent(ctx, Event{ID: "measured", Type: "perf"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	if avg := time.Since(start) / N; avg >= time.Millisecond {
		t.Fatalf("average overhead per step too high: %v", avg)
	}
}

func BenchmarkSuspendAndResume(b *testing.B) {
	ctx := context.Background()
	orch := engine.NewInMemoryOrchestrator(nil)
	NewPipeline("bench").Await("vent", "HentEnhet", nil, nil).MustRegister(orch)

	answer := json.RawMessage(`"0301"`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("E%d", i)
		if _, err := orch.HandleEvent(ctx, Event{ID: id, Type: "bench"}); err != nil {
			b.Fatal(err)
		}
		if _, err := orch.HandleSolution(ctx, Solution{EventID: id, Kind: "HentEnhet", Payload: answer}); err != nil {
			b.Fatal(err)
		}
	}
}
