package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExecutionContext is the mutable scratch space of one in-flight event.
// It is owned by a single invocation and rebuilt from its serialized form on
// the next one; no instance survives between invocations.
type ExecutionContext struct {
	event Event

	needs     []Need
	solutions map[NeedKind]json.RawMessage
	started   map[string]bool
	done      map[string]bool
	values    map[string]json.RawMessage
	terminal  bool

	// Not persisted.
	path     []int
	newNeeds []Need
}

// snapshot is the serialized form of an ExecutionContext. Sets are stored as
// sorted slices so that encoding is deterministic.
type snapshot struct {
	Needs     []Need                       `json:"needs"`
	Solutions map[NeedKind]json.RawMessage `json:"solutions"`
	Started   []string                     `json:"started"`
	Done      []string                     `json:"done"`
	Values    map[string]json.RawMessage   `json:"values"`
	Terminal  bool                         `json:"terminal"`
}

// NewExecutionContext returns an empty context for ev.
func NewExecutionContext(ev Event) *ExecutionContext {
	return &ExecutionContext{
		event:     ev,
		needs:     []Need{},
		solutions: map[NeedKind]json.RawMessage{},
		started:   map[string]bool{},
		done:      map[string]bool{},
		values:    map[string]json.RawMessage{},
	}
}

// RestoreExecutionContext rebuilds the context persisted as state.
// An empty state yields a fresh context.
func RestoreExecutionContext(ev Event, state []byte) (*ExecutionContext, error) {
	ec := NewExecutionContext(ev)
	if len(state) == 0 {
		return ec, nil
	}
	var s snapshot
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("decode execution context for event %s: %w", ev.ID, err)
	}
	if s.Needs != nil {
		ec.needs = s.Needs
	}
	for k, v := range s.Solutions {
		ec.solutions[k] = v
	}
	for _, k := range s.Started {
		ec.started[k] = true
	}
	for _, k := range s.Done {
		ec.done[k] = true
	}
	for k, v := range s.Values {
		ec.values[k] = v
	}
	ec.terminal = s.Terminal
	return ec, nil
}

// Encode serializes the persistent part of the context.
func (ec *ExecutionContext) Encode() ([]byte, error) {
	s := snapshot{
		Needs:     ec.needs,
		Solutions: ec.solutions,
		Started:   sortedKeys(ec.started),
		Done:      sortedKeys(ec.done),
		Values:    ec.values,
		Terminal:  ec.terminal,
	}
	return json.Marshal(s)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Event returns the event the context belongs to.
func (ec *ExecutionContext) Event() Event { return ec.event }

// Need registers a request for external information. It is a no-op when the
// kind is already pending or already answered.
func (ec *ExecutionContext) Need(kind NeedKind, params map[string]string) {
	if _, ok := ec.solutions[kind]; ok {
		return
	}
	for _, n := range ec.needs {
		if n.Kind == kind {
			return
		}
	}
	n := Need{EventID: ec.event.ID, Kind: kind, Params: params}
	ec.needs = append(ec.needs, n)
	ec.newNeeds = append(ec.newNeeds, n)
}

// PendingNeeds returns the requested-but-unanswered needs in request order.
func (ec *ExecutionContext) PendingNeeds() []Need {
	out := make([]Need, len(ec.needs))
	copy(out, ec.needs)
	return out
}

// NewNeeds returns the needs registered during this invocation.
func (ec *ExecutionContext) NewNeeds() []Need {
	out := make([]Need, len(ec.newNeeds))
	copy(out, ec.newNeeds)
	return out
}

// AddSolution records s. It reports false without changing anything when
// the kind was never requested or already answered.
func (ec *ExecutionContext) AddSolution(s Solution) bool {
	if _, ok := ec.solutions[s.Kind]; ok {
		return false
	}
	idx := -1
	for i, n := range ec.needs {
		if n.Kind == s.Kind {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	ec.needs = append(ec.needs[:idx:idx], ec.needs[idx+1:]...)
	payload := s.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	ec.solutions[s.Kind] = payload
	return true
}

// Solution returns the raw answer for kind, if received.
func (ec *ExecutionContext) Solution(kind NeedKind) (json.RawMessage, bool) {
	raw, ok := ec.solutions[kind]
	return raw, ok
}

// DecodeSolution unmarshals the answer for kind into v. It reports false if
// no answer has been received.
func (ec *ExecutionContext) DecodeSolution(kind NeedKind, v any) (bool, error) {
	raw, ok := ec.solutions[kind]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("malformed %s solution for event %s: %w", kind, ec.event.ID, err)
	}
	return true, nil
}

// Set stores a value for later steps.
func (ec *ExecutionContext) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value %q: %w", key, err)
	}
	ec.values[key] = raw
	return nil
}

// Get loads a value stored with Set. It reports false if the key is unset.
func (ec *ExecutionContext) Get(key string, v any) (bool, error) {
	raw, ok := ec.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode value %q: %w", key, err)
	}
	return true, nil
}

// Terminate ends the pipeline after the current step, skipping the rest.
func (ec *ExecutionContext) Terminate() { ec.terminal = true }

// Terminal reports whether Terminate was called.
func (ec *ExecutionContext) Terminal() bool { return ec.terminal }

// StepDone reports whether the top-level step at index has completed.
func (ec *ExecutionContext) StepDone(index int) bool {
	return ec.done[strconv.Itoa(index)]
}

// RunStep drives child index of the current scope. The first visit calls
// Execute, later visits call Resume, and a completed child is not called at
// all.
func (ec *ExecutionContext) RunStep(ctx context.Context, index int, step Step) (bool, error) {
	ec.path = append(ec.path, index)
	key := ec.pathKey()
	defer func() { ec.path = ec.path[:len(ec.path)-1] }()

	if ec.done[key] {
		return true, nil
	}

	var (
		complete bool
		err      error
	)
	if ec.started[key] {
		complete, err = step.Resume(ctx, ec)
	} else {
		ec.started[key] = true
		complete, err = step.Execute(ctx, ec)
	}
	if err != nil || !complete {
		return false, err
	}

	ec.done[key] = true
	delete(ec.started, key)
	ec.forgetDescendants(key)
	return true, nil
}

func (ec *ExecutionContext) pathKey() string {
	parts := make([]string, len(ec.path))
	for i, p := range ec.path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, "/")
}

// forgetDescendants drops progress of the children of a completed composite;
// only the composite's own completion needs to survive.
func (ec *ExecutionContext) forgetDescendants(key string) {
	prefix := key + "/"
	for k := range ec.started {
		if strings.HasPrefix(k, prefix) {
			delete(ec.started, k)
		}
	}
	for k := range ec.done {
		if strings.HasPrefix(k, prefix) {
			delete(ec.done, k)
		}
	}
}
