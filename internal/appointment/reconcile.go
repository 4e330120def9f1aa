package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tunminster/by-the-app-demo/internal/slot"
)

type ReconcileReport struct {
	Scanned  int
	Released int
	Skipped  int
	Failed   int
}

// ReconcileSlots releases unavailable slots that no confirmed appointment
// references. Records touched within the grace window are ignored so that an
// in-flight booking, which claims before it writes, is never undone.
func (s *Service) ReconcileSlots(ctx context.Context) (report ReconcileReport, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.ReconcileSlots")
	start := s.now()
	defer func() {
		span.SetAttributes(
			attribute.Int("scanned", report.Scanned),
			attribute.Int("released", report.Released),
			attribute.Int("failed", report.Failed),
		)
		s.finish(span, "reconcile", start, &err)
	}()

	cutoff := s.now().Add(-s.cfg.ReconcileGrace)
	held, err := s.slots.ListHeld(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("list held slots: %w", err)
	}

	for _, ref := range held {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		released, err := s.reconcileOne(ctx, ref)
		switch {
		case err != nil:
			report.Failed++
			s.log.Warn().Err(err).Str("slot", ref.Key()).Msg("reconcile slot")
		case released:
			report.Released++
		default:
			report.Skipped++
		}
	}

	s.metrics.ObserveReconciled(report.Released)
	if report.Released > 0 || report.Failed > 0 {
		s.log.Info().
			Int("scanned", report.Scanned).
			Int("released", report.Released).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("slot reconciliation finished")
	}
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, ref slot.Ref) (bool, error) {
	var released bool
	err := s.locker.WithSlotLock(ctx, ref.Key(), func(lockCtx context.Context) error {
		holder, err := s.repo.FindActiveConflict(lockCtx, ref, nil)
		if err != nil {
			return err
		}
		if holder != nil {
			return nil
		}
		ok, err := s.slots.Release(lockCtx, ref)
		if err != nil {
			return err
		}
		released = ok
		return nil
	})
	if err != nil || !released {
		return false, err
	}

	s.log.Warn().Str("slot", ref.Key()).Msg("released orphaned slot")
	s.logEvent(ctx, uuid.Nil, EventSlotReconciled, map[string]any{
		"dentist_id": ref.DentistID.String(),
		"date":       ref.DateString(),
		"time":       ref.Start,
	})
	return true, nil
}
