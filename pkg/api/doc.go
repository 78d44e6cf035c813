// Package api contains the contract shared by the saksflyt orchestration
// engine and the domain packages that plug pipelines into it.
//
// # Concepts
//
//   - Event (hendelse): an immutable inbound trigger. Its Type selects the
//     pipeline to run and its ID keys all persisted progress.
//   - Need (behov): a typed request for external information. A step that
//     cannot finish without it registers the need on the ExecutionContext and
//     reports itself incomplete.
//   - Solution (løsning): the answer to a need, correlated purely by event id
//     and need kind.
//   - ExecutionContext: per-event scratch space holding pending needs,
//     received solutions, step progress and step-to-step values. It is
//     rebuilt from its serialized form on every invocation.
//   - Step: a unit of work with Execute (first visit) and Resume (later
//     visits after a solution arrived). Sequence composes steps in order and
//     stops at the first incomplete child.
//
// # Resume semantics
//
// The engine persists an event as (position, state). When a solution
// arrives, the context is restored, the solution is recorded, and execution
// continues at the first incomplete step. Completed steps are never executed
// again, and a step that was already started is resumed rather than
// re-executed.
//
// # Observability
//
// Observer receives lifecycle callbacks. LoggingObserver, BasicMetrics and
// TracingObserver are provided and can be combined with NewCompositeObserver.
package api
