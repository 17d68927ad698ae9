package timewin

import (
	"errors"
	"time"
)

// ErrInvalidTimestamp is returned when a timestamp cannot be evaluated
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Phase indicates where "now" falls relative to a bounded interval
type Phase int

const (
	PhaseBefore Phase = iota
	PhaseDuring
	PhaseAfter
)

func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseDuring:
		return "during"
	case PhaseAfter:
		return "after"
	default:
		return "unknown"
	}
}

// Window is an immutable evaluation of a bounded time interval.
// A zero Start or End means the bound is unset. Exactly one of the
// phase predicates holds; an interval with both bounds unset evaluates
// to before.
type Window struct {
	Start     time.Time
	End       time.Time
	Now       time.Time
	Phase     Phase
	Countdown time.Duration
}

func (w Window) IsBefore() bool { return w.Phase == PhaseBefore }
func (w Window) IsDuring() bool { return w.Phase == PhaseDuring }
func (w Window) IsAfter() bool  { return w.Phase == PhaseAfter }

// Evaluate computes the phase of now relative to [start, end] and the
// countdown to the next relevant boundary: time until start if before,
// time until end if during, zero if after or if the relevant bound is
// unset. Timestamps outside the representable range are rejected with
// ErrInvalidTimestamp.
func Evaluate(start, end, now time.Time) (Window, error) {
	if now.IsZero() || !inRange(now) {
		return Window{}, ErrInvalidTimestamp
	}
	if !start.IsZero() && !inRange(start) {
		return Window{}, ErrInvalidTimestamp
	}
	if !end.IsZero() && !inRange(end) {
		return Window{}, ErrInvalidTimestamp
	}

	w := Window{Start: start, End: end, Now: now}

	switch {
	case start.IsZero() || now.Before(start):
		w.Phase = PhaseBefore
		if !start.IsZero() {
			w.Countdown = start.Sub(now)
		}
	case end.IsZero() || !now.After(end):
		w.Phase = PhaseDuring
		if !end.IsZero() {
			w.Countdown = end.Sub(now)
		}
	default:
		w.Phase = PhaseAfter
	}

	return w, nil
}

// AdjustForSkew compensates for server/client clock skew on session
// bounds. A begin timestamp in the future relative to the local clock
// is assumed to be skew (the backend stamps begin with its own "now"
// at session start), so both bounds are shifted back by the offset.
// The session duration is preserved.
func AdjustForSkew(begin, end, localNow time.Time) (time.Time, time.Time) {
	if begin.IsZero() || localNow.IsZero() {
		return begin, end
	}
	offset := begin.Sub(localNow)
	if offset <= 0 {
		return begin, end
	}
	adjustedBegin := begin.Add(-offset)
	adjustedEnd := end
	if !end.IsZero() {
		adjustedEnd = end.Add(-offset)
	}
	return adjustedBegin, adjustedEnd
}

// inRange rejects timestamps that cannot round-trip through the wire
// formats the backend uses (RFC3339 caps the year at four digits).
func inRange(t time.Time) bool {
	y := t.Year()
	return y >= 1 && y <= 9999
}
