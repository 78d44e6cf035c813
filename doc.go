// Package saksflyt embeds the case-processing orchestrator in a Go program.
//
// Domain events (hendelser) arrive on a message bus. Each event type has a
// pipeline of steps. A step that needs outside information registers a need
// (behov) and suspends; the orchestrator persists the event's position and
// state and publishes the needs. When the solution (løsning) arrives, the
// event resumes at its first incomplete step. Completed steps never run
// again.
//
// The built-in pipelines are:
//
//   - godkjenningsbehov: evaluate advisory warnings, create a case for the
//     caseworker and open a two-step review when the payload asks for one.
//   - overstyring: bind a caseworker override to its submitter, persist it
//     and announce it on the bus.
//   - totrinn_retur: return a review that awaits a decision-maker to the
//     caseworker.
//
// LocalRunner runs everything in process memory, which suits tests and
// development. NewSQLiteRunner keeps events, bus messages and casework in
// one SQLite database. The saksflyt command runs the same pipelines against
// the backends named in its configuration.
//
// Custom pipelines are defined with NewPipeline:
//
//	err := saksflyt.NewPipeline("varsel").
//	    Await("hent-enhet", "HentEnhet", nil, storeUnit).
//	    Action("send-varsel", notify).
//	    Register(runner)
package saksflyt
