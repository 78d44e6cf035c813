// Package advisory raises non-blocking warnings (varsler) on an episode from
// facts about the subject: guardianship and residency unit.
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/pkg/api"
)

// Need kinds requested by the evaluator.
const (
	// NeedGuardianship is answered with a GuardianshipFact object.
	NeedGuardianship api.NeedKind = "Vergemål"

	// NeedUnit is answered with the subject's unit number as a bare JSON
	// string, e.g. "0301". Any other shape fails the event.
	NeedUnit api.NeedKind = "HentEnhet"
)

// DefaultForeignUnits lists the units that handle subjects living abroad.
var DefaultForeignUnits = []string{"2101"}

// GuardianshipFact is the answer to NeedGuardianship.
type GuardianshipFact struct {
	HasGuardian bool `json:"harVergemål"`
}

// Config wires the evaluator.
type Config struct {
	Cache        FactCache
	Warnings     WarningStore
	ForeignUnits []string
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Evaluator checks the facts of an event's subject and appends warnings to
// its episode.
type Evaluator struct {
	cache    FactCache
	warnings WarningStore
	foreign  map[string]bool
	clock    clock.Clock
	logger   *slog.Logger
}

func NewEvaluator(cfg Config) *Evaluator {
	e := &Evaluator{
		cache:    cfg.Cache,
		warnings: cfg.Warnings,
		foreign:  make(map[string]bool),
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if e.cache == nil {
		e.cache = NewMemoryFactCache(0, cfg.Clock)
	}
	if e.warnings == nil {
		e.warnings = NewMemoryWarningStore()
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	units := cfg.ForeignUnits
	if len(units) == 0 {
		units = DefaultForeignUnits
	}
	for _, u := range units {
		e.foreign[u] = true
	}
	return e
}

// Step returns the vurder-varsler step: gather both facts, asking for the
// missing ones in one suspension, then append warnings.
func (e *Evaluator) Step() api.Step {
	return api.Sequence("vurder-varsler",
		&factsStep{name: "hent-fakta", kinds: []api.NeedKind{NeedGuardianship, NeedUnit}, cache: e.cache},
		api.Action("evaluer-varsler", e.evaluate),
	)
}

func factValueKey(kind api.NeedKind) string {
	return "advisory.fact." + string(kind)
}

// factsStep completes once every kind has a fact, taken from the cache or
// from a solution. Solutions are written through to the cache.
type factsStep struct {
	name  string
	kinds []api.NeedKind
	cache FactCache
}

func (s *factsStep) Name() string { return s.name }

func (s *factsStep) Execute(ctx context.Context, ec *api.ExecutionContext) (bool, error) {
	subject := ec.Event().Subject
	var missing []api.NeedKind
	for _, kind := range s.kinds {
		fact, ok, err := s.cache.Get(ctx, kind, subject)
		if err != nil {
			return false, fmt.Errorf("read cached %s: %w", kind, err)
		}
		if !ok || checkFact(kind, fact) != nil {
			missing = append(missing, kind)
			continue
		}
		if err := ec.Set(factValueKey(kind), fact); err != nil {
			return false, err
		}
	}
	for _, kind := range missing {
		ec.Need(kind, map[string]string{"fødselsnummer": subject})
	}
	return len(missing) == 0, nil
}

func (s *factsStep) Resume(ctx context.Context, ec *api.ExecutionContext) (bool, error) {
	complete := true
	for _, kind := range s.kinds {
		var fact json.RawMessage
		if ok, err := ec.Get(factValueKey(kind), &fact); err != nil {
			return false, err
		} else if ok {
			continue
		}
		answer, ok := ec.Solution(kind)
		if !ok {
			complete = false
			continue
		}
		if err := checkFact(kind, answer); err != nil {
			return false, fmt.Errorf("%s answer for event %s: %v: %w", kind, ec.Event().ID, err, api.ErrPermanent)
		}
		if err := s.cache.Put(ctx, kind, ec.Event().Subject, answer); err != nil {
			return false, fmt.Errorf("cache %s: %w", kind, err)
		}
		if err := ec.Set(factValueKey(kind), answer); err != nil {
			return false, err
		}
	}
	return complete, nil
}

// checkFact reports whether raw has the wire shape of an answer to kind.
func checkFact(kind api.NeedKind, raw json.RawMessage) error {
	switch kind {
	case NeedGuardianship:
		var fact GuardianshipFact
		return json.Unmarshal(raw, &fact)
	case NeedUnit:
		var unit string
		return json.Unmarshal(raw, &unit)
	}
	return nil
}

func (e *Evaluator) evaluate(ctx context.Context, ec *api.ExecutionContext) error {
	ev := ec.Event()
	if ev.Episode == "" {
		return fmt.Errorf("event %s has no episode: %w", ev.ID, api.ErrPermanent)
	}

	var guardian GuardianshipFact
	if _, err := ec.Get(factValueKey(NeedGuardianship), &guardian); err != nil {
		return fmt.Errorf("%s answer for event %s: %v: %w", NeedGuardianship, ev.ID, err, api.ErrPermanent)
	}
	var unit string
	if _, err := ec.Get(factValueKey(NeedUnit), &unit); err != nil {
		return fmt.Errorf("%s answer for event %s: %v: %w", NeedUnit, ev.ID, err, api.ErrPermanent)
	}

	var codes []Code
	if guardian.HasGuardian {
		codes = append(codes, CodeGuardianship)
	}
	if e.foreign[unit] {
		codes = append(codes, CodeForeignUnit)
	}
	for _, code := range codes {
		added, err := e.warnings.Add(ctx, Warning{
			EpisodeID: ev.Episode,
			Code:      code,
			Source:    ev.ID,
			CreatedAt: e.clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("add warning %s to episode %s: %w", code, ev.Episode, err)
		}
		if added {
			e.logger.InfoContext(ctx, "warning_added",
				slog.String("event_id", ev.ID),
				slog.String("episode_id", ev.Episode),
				slog.String("code", string(code)),
			)
		}
	}
	return nil
}
