// Package pipeline consumes queued scans and drives them through subject
// resolution and reconciliation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"schoolattend/internal/attendance"
	"schoolattend/internal/logging"
	"schoolattend/internal/metrics"
	"schoolattend/internal/queue"
	"schoolattend/internal/subject"
)

// Resolver maps a device code to a subject.
type Resolver interface {
	Resolve(ctx context.Context, code string) (subject.Subject, error)
}

// Reconciler applies a resolved scan.
type Reconciler interface {
	ReconcileStudent(ctx context.Context, st attendance.Student, evt attendance.ScanEvent) (attendance.StudentResult, error)
	ReconcileEmployee(ctx context.Context, emp attendance.Employee, evt attendance.ScanEvent) (attendance.EmployeeResult, error)
}

// Processor handles one scan at a time.
type Processor struct {
	resolver   Resolver
	reconciler Reconciler
	logger     *slog.Logger
}

// NewProcessor wires a processor.
func NewProcessor(resolver Resolver, reconciler Reconciler, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{resolver: resolver, reconciler: reconciler, logger: logger.With("component", "pipeline")}
}

// Process resolves and reconciles one scan. Unknown and ambiguous codes are
// logged and dropped; only storage failures are returned.
func (p *Processor) Process(ctx context.Context, evt attendance.ScanEvent) error {
	logger := p.logger.With("code", evt.SubjectCode, "device", evt.DeviceSerial, "scan", evt.Timestamp)
	ctx = logging.ContextWithLogger(ctx, logger)

	subj, err := p.resolver.Resolve(ctx, evt.SubjectCode)
	switch {
	case errors.Is(err, subject.ErrNotFound):
		metrics.ScansResolved.WithLabelValues("not_found").Inc()
		logger.Info("scan from unknown code ignored")
		return nil
	case errors.Is(err, subject.ErrAmbiguousCode):
		metrics.ScansResolved.WithLabelValues("ambiguous").Inc()
		logger.Warn("scan code matches a student and an employee, ignored")
		return nil
	case err != nil:
		metrics.ScansResolved.WithLabelValues("error").Inc()
		return fmt.Errorf("resolve subject: %w", err)
	}
	metrics.ScansResolved.WithLabelValues(string(subj.Kind)).Inc()

	switch subj.Kind {
	case subject.KindStudent:
		_, err = p.reconciler.ReconcileStudent(ctx, *subj.Student, evt)
	case subject.KindEmployee:
		_, err = p.reconciler.ReconcileEmployee(ctx, *subj.Employee, evt)
	}
	return err
}

// Run drains the queue until ctx is cancelled or the queue closes.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	p.logger.Info("scan consumer started")
	for msg := range messages {
		evt, err := queue.DecodeScan(msg)
		if err != nil {
			p.logger.Warn("skipping queue message", "type", msg.Type, "error", err)
			continue
		}
		if err := p.Process(ctx, evt); err != nil {
			p.logger.Error("scan processing failed", "code", evt.SubjectCode, "error", err)
		}
	}
	p.logger.Info("scan consumer stopped")
	return nil
}
