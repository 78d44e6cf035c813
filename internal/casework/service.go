package casework

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petrijr/saksflyt/internal/clock"
)

// Option configures the casework services.
type Option func(*deps)

type deps struct {
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
	newID    func() string
}

func WithNotifier(n Notifier) Option { return func(d *deps) { d.notifier = n } }

func WithClock(c clock.Clock) Option { return func(d *deps) { d.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(d *deps) { d.logger = l } }

// WithIDs replaces the uuid generator used for new cases, reviews and audit
// entries.
func WithIDs(fn func() string) Option { return func(d *deps) { d.newID = fn } }

func newDeps(opts []Option) deps {
	d := deps{
		notifier: NopNotifier{},
		clock:    clock.System{},
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// notify sends u after commit. Failures are logged only.
func (d deps) notify(ctx context.Context, u CaseUpdate) {
	if err := d.notifier.CaseUpdated(ctx, u); err != nil {
		d.logger.WarnContext(ctx, "case_update_not_sent",
			slog.String("case_id", u.CaseID),
			slog.Any("error", err),
		)
	}
}
