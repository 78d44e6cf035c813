package api

import (
	"context"
	"encoding/json"
)

// Step is the unit of work in a pipeline.
//
// Execute is called the first time the step is reached. Resume is called on
// later invocations while the step is still incomplete, typically after a
// solution arrived. Both report whether the step is now complete. Resume must
// return false without side effects when the answer it waits for is still
// missing.
type Step interface {
	Name() string
	Execute(ctx context.Context, ec *ExecutionContext) (bool, error)
	Resume(ctx context.Context, ec *ExecutionContext) (bool, error)
}

// PipelineDefinition binds an event type to its ordered steps.
type PipelineDefinition struct {
	EventType EventType
	Steps     []Step
}

type sequence struct {
	name     string
	children []Step
}

// Sequence returns a composite step that runs children in declaration order.
// It is complete only when every child is complete and stops at the first
// incomplete child.
func Sequence(name string, children ...Step) Step {
	return &sequence{name: name, children: children}
}

func (s *sequence) Name() string { return s.name }

func (s *sequence) Execute(ctx context.Context, ec *ExecutionContext) (bool, error) {
	return s.run(ctx, ec)
}

func (s *sequence) Resume(ctx context.Context, ec *ExecutionContext) (bool, error) {
	return s.run(ctx, ec)
}

func (s *sequence) run(ctx context.Context, ec *ExecutionContext) (bool, error) {
	for i, child := range s.children {
		complete, err := ec.RunStep(ctx, i, child)
		if err != nil || !complete {
			return false, err
		}
	}
	return true, nil
}

// ActionFunc is the body of a step that never suspends.
type ActionFunc func(ctx context.Context, ec *ExecutionContext) error

type action struct {
	name string
	fn   ActionFunc
}

// Action returns a step that runs fn once and completes. If fn fails the
// step stays incomplete and fn runs again on the next attempt, so fn must be
// idempotent.
func Action(name string, fn ActionFunc) Step {
	return &action{name: name, fn: fn}
}

func (a *action) Name() string { return a.name }

func (a *action) Execute(ctx context.Context, ec *ExecutionContext) (bool, error) {
	if err := a.fn(ctx, ec); err != nil {
		return false, err
	}
	return true, nil
}

func (a *action) Resume(ctx context.Context, ec *ExecutionContext) (bool, error) {
	return a.Execute(ctx, ec)
}

// SolutionFunc handles the answer to a need.
type SolutionFunc func(ctx context.Context, ec *ExecutionContext, answer json.RawMessage) error

type awaitNeed struct {
	name   string
	kind   NeedKind
	params func(ec *ExecutionContext) map[string]string
	handle SolutionFunc
}

// AwaitNeed returns a step that requests kind and completes once the answer
// has been handled. params may be nil.
func AwaitNeed(name string, kind NeedKind, params func(ec *ExecutionContext) map[string]string, handle SolutionFunc) Step {
	return &awaitNeed{name: name, kind: kind, params: params, handle: handle}
}

func (a *awaitNeed) Name() string { return a.name }

func (a *awaitNeed) Execute(ctx context.Context, ec *ExecutionContext) (bool, error) {
	if done, err := a.Resume(ctx, ec); done || err != nil {
		return done, err
	}
	var p map[string]string
	if a.params != nil {
		p = a.params(ec)
	}
	ec.Need(a.kind, p)
	return false, nil
}

func (a *awaitNeed) Resume(ctx context.Context, ec *ExecutionContext) (bool, error) {
	answer, ok := ec.Solution(a.kind)
	if !ok {
		return false, nil
	}
	if a.handle != nil {
		if err := a.handle(ctx, ec, answer); err != nil {
			return false, err
		}
	}
	return true, nil
}
