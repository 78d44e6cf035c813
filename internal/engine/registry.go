package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/saksflyt/pkg/api"
)

type pipelineRegistry struct {
	mu     sync.RWMutex
	byType map[api.EventType]api.PipelineDefinition
}

func newPipelineRegistry() *pipelineRegistry {
	return &pipelineRegistry{
		byType: make(map[api.EventType]api.PipelineDefinition),
	}
}

func (r *pipelineRegistry) Register(def api.PipelineDefinition) error {
	if def.EventType == "" {
		return errors.New("pipeline event type is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline %q must have at least one step", def.EventType)
	}
	for i, s := range def.Steps {
		if s == nil {
			return fmt.Errorf("pipeline %q step %d is nil", def.EventType, i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[def.EventType]; exists {
		return fmt.Errorf("pipeline %q already registered", def.EventType)
	}
	r.byType[def.EventType] = def
	return nil
}

func (r *pipelineRegistry) Get(t api.EventType) (api.PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byType[t]
	if !ok {
		return api.PipelineDefinition{}, fmt.Errorf("%w: %q", api.ErrUnknownEventType, t)
	}
	return def, nil
}

func (r *pipelineRegistry) Types() []api.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.EventType, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}
