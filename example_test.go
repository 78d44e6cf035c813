package saksflyt_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/petrijr/saksflyt"
)

// Example_localRunner publishes an approval request, answers the needs it
// raises and waits for the event to complete.
func Example_localRunner() {
	ctx := context.Background()

	runner, err := saksflyt.NewLocalRunner(saksflyt.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		log.Fatal(err)
	}
	if err := runner.StartWorkers(ctx, 1); err != nil {
		log.Fatal(err)
	}
	defer runner.Stop()

	ev := saksflyt.Event{
		ID:      "E1",
		Type:    "godkjenningsbehov",
		Subject: "12345678910",
		Episode: "P1",
		Payload: json.RawMessage(`{"utbetalingId":"U1"}`),
	}
	if err := runner.Publish(ctx, ev); err != nil {
		log.Fatal(err)
	}

	needs, err := runner.NextNeeds(ctx)
	if err != nil {
		log.Fatal(err)
	}
	answers := map[saksflyt.NeedKind]json.RawMessage{}
	for _, n := range needs {
		fmt.Println("need:", n.Kind)
		if n.Kind == "Vergemål" {
			answers[n.Kind] = json.RawMessage(`{"harVergemål":false}`)
		} else {
			answers[n.Kind] = json.RawMessage(`"0301"`)
		}
	}
	if err := runner.Answer(ctx, ev.ID, answers); err != nil {
		log.Fatal(err)
	}

	rec, err := runner.WaitFor(ctx, ev.ID, saksflyt.StatusCompleted, saksflyt.StatusFailed)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("status:", rec.Status)

	// Output:
	// need: Vergemål
	// need: HentEnhet
	// status: COMPLETED
}
