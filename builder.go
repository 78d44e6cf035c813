package saksflyt

import (
	"fmt"

	"github.com/petrijr/saksflyt/pkg/api"
)

// PipelineBuilder defines a pipeline step by step:
//
//	p := saksflyt.NewPipeline("varsel").
//	    Await("hent-enhet", "HentEnhet", params, storeUnit).
//	    Action("send-varsel", notify)
//
//	if err := p.Register(runner); err != nil {
//	    log.Fatal(err)
//	}
type PipelineBuilder struct {
	def api.PipelineDefinition
}

func NewPipeline(eventType EventType) *PipelineBuilder {
	return &PipelineBuilder{def: api.PipelineDefinition{EventType: eventType}}
}

func (b *PipelineBuilder) EventType() EventType {
	return b.def.EventType
}

// Definition returns a copy of the pipeline built so far.
func (b *PipelineBuilder) Definition() PipelineDefinition {
	def := b.def
	def.Steps = append([]api.Step(nil), b.def.Steps...)
	return def
}

// Step appends any Step implementation.
func (b *PipelineBuilder) Step(s Step) *PipelineBuilder {
	if s == nil {
		panic(fmt.Sprintf("saksflyt: nil step in pipeline %q", b.def.EventType))
	}
	if s.Name() == "" {
		panic(fmt.Sprintf("saksflyt: unnamed step in pipeline %q", b.def.EventType))
	}
	b.def.Steps = append(b.def.Steps, s)
	return b
}

// Action appends a step that completes when fn returns nil.
func (b *PipelineBuilder) Action(name string, fn ActionFunc) *PipelineBuilder {
	if fn == nil {
		panic(fmt.Sprintf("saksflyt: step %q has nil function", name))
	}
	return b.Step(api.Action(name, fn))
}

// Await appends a step that requests kind and suspends until it is
// answered. params and handle may be nil.
func (b *PipelineBuilder) Await(name string, kind NeedKind, params func(ec *ExecutionContext) map[string]string, handle SolutionFunc) *PipelineBuilder {
	return b.Step(api.AwaitNeed(name, kind, params, handle))
}

// Sequence appends children as one top-level step.
func (b *PipelineBuilder) Sequence(name string, children ...Step) *PipelineBuilder {
	return b.Step(api.Sequence(name, children...))
}

func (b *PipelineBuilder) Register(r Registrar) error {
	return r.Register(b.Definition())
}

// MustRegister is like Register but panics on error.
func (b *PipelineBuilder) MustRegister(r Registrar) {
	if err := b.Register(r); err != nil {
		panic(err)
	}
}
