package validator

import (
	"time"

	"servicebox.io/fsmcore/internal/domain"
)

const (
	futureSkewTolerance = 5 * time.Minute
	mobileDriftTolerance = 180 * time.Minute
)

// timeOutcome is the internal result of evaluating the time policy (spec
// §4.3.1) before it is folded into a Decision by the caller.
type timeOutcome struct {
	decision      domain.DecisionOutcome
	reasonCode    string
	effectiveTime time.Time
	details       map[string]any
}

// evaluateTimePolicy derives effective_time from the envelope and the
// existing projection (if any), applying future-skew rejection, mobile
// clock-drift review, and the WORK.COMPLETED end-before-start guard.
func evaluateTimePolicy(now time.Time, envelope domain.Envelope, actualStartEffective *time.Time) timeOutcome {
	reportedTime := reportedTimeFor(envelope)

	if reportedTime != nil && reportedTime.After(now.Add(futureSkewTolerance)) {
		return timeOutcome{
			decision:   domain.DecisionRejected,
			reasonCode: domain.ReasonGuardFailed,
			details:    map[string]any{"reason": "future skew"},
		}
	}

	if envelope.Source == domain.SourceMobile && reportedTime != nil {
		drift := reportedTime.Sub(now)
		if drift < 0 {
			drift = -drift
		}
		if drift > mobileDriftTolerance {
			return timeOutcome{
				decision:      domain.DecisionNeedsReview,
				reasonCode:    domain.ReasonAmbiguousTime,
				effectiveTime: now,
			}
		}
	}

	effectiveTime := now
	if reportedTime != nil {
		effectiveTime = *reportedTime
	}

	if envelope.EventType == domain.EventWorkCompleted && actualStartEffective != nil {
		if effectiveTime.Before(*actualStartEffective) {
			return timeOutcome{
				decision:   domain.DecisionRejected,
				reasonCode: domain.ReasonGuardFailed,
				details:    map[string]any{"reason": "end before start"},
			}
		}
	}

	return timeOutcome{decision: domain.DecisionAccepted, effectiveTime: effectiveTime.UTC()}
}

// reportedTimeFor resolves t_rep per spec §4.3.1: payload-level actual
// start/end time takes precedence over the envelope's created_at_reported.
func reportedTimeFor(envelope domain.Envelope) *time.Time {
	switch envelope.EventType {
	case domain.EventWorkStarted:
		var payload domain.WorkStartedPayload
		if decodeInto(envelope.Payload, &payload) && payload.ActualStartReported != nil {
			return payload.ActualStartReported
		}
	case domain.EventWorkCompleted:
		var payload domain.WorkCompletedPayload
		if decodeInto(envelope.Payload, &payload) && payload.ActualEndReported != nil {
			return payload.ActualEndReported
		}
	}
	if envelope.CreatedAtReported.IsZero() {
		return nil
	}
	t := envelope.CreatedAtReported
	return &t
}
