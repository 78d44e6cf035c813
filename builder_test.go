package saksflyt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/engine"
)

func TestPipelineBuilder_BuildsDefinition(t *testing.T) {
	noop := func(context.Context, *ExecutionContext) error { return nil }
	b := NewPipeline("varsel").
		Action("a", noop).
		Await("b", "HentEnhet", nil, nil).
		Sequence("c", Action("c1", noop), Action("c2", noop))

	def := b.Definition()
	require.Equal(t, EventType("varsel"), def.EventType)
	require.Len(t, def.Steps, 3)
	require.Equal(t, "c", def.Steps[2].Name())

	// Definition hands out a copy.
	def.Steps[0] = nil
	require.NotNil(t, b.Definition().Steps[0])
}

func TestPipelineBuilder_PanicsOnInvalidSteps(t *testing.T) {
	require.Panics(t, func() { NewPipeline("x").Action("a", nil) })
	require.Panics(t, func() { NewPipeline("x").Step(nil) })
	require.Panics(t, func() {
		NewPipeline("x").Action("", func(context.Context, *ExecutionContext) error { return nil })
	})
}

func TestPipelineBuilder_Register(t *testing.T) {
	orch := engine.NewInMemoryOrchestrator(nil)
	b := NewPipeline("varsel").Action("a", func(context.Context, *ExecutionContext) error { return nil })

	require.NoError(t, b.Register(orch))
	require.Error(t, b.Register(orch))
	require.Panics(t, func() { b.MustRegister(orch) })

	require.Error(t, NewPipeline("tom").Register(orch))
}
