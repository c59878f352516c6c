package explain

import (
	"context"
	"log/slog"
	"time"

	"github.com/safepay/guard/internal/risk"
)

// AlertPatcher attaches a finished explanation to its alert.
// Satisfied by *alerts.Service.
type AlertPatcher interface {
	AttachExplanation(ctx context.Context, alertID, summary string, reasons []string, action string) error
}

// Worker runs explanation generation off the transaction path.
type Worker struct {
	gen     Generator // nil when no model backend is configured
	alerts  AlertPatcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewWorker creates an explanation worker. gen may be nil; every
// explanation is then served from the deterministic template.
func NewWorker(gen Generator, alerts AlertPatcher, timeout time.Duration, logger *slog.Logger) *Worker {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Worker{gen: gen, alerts: alerts, timeout: timeout, logger: logger}
}

// ExplainAsync generates and attaches an explanation in the background.
// The spawned goroutine carries its own deadline; the caller's context
// (an HTTP request) may be long gone by the time the model answers.
func (w *Worker) ExplainAsync(alertID string, rc *risk.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		w.explain(ctx, alertID, rc)
	}()
}

func (w *Worker) explain(ctx context.Context, alertID string, rc *risk.Context) {
	exp := w.generate(ctx, rc)
	if err := w.alerts.AttachExplanation(ctx, alertID, exp.Summary, exp.Reasons, exp.Action); err != nil {
		w.logger.Warn("failed to attach explanation", "alert_id", alertID, "error", err)
	}
}

func (w *Worker) generate(ctx context.Context, rc *risk.Context) *Explanation {
	if w.gen == nil {
		return Fallback(rc)
	}
	exp, err := w.gen.Explain(ctx, rc)
	if err != nil {
		w.logger.Warn("explanation generator failed, using template", "error", err)
		return Fallback(rc)
	}
	return exp
}
