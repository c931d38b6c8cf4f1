package schedule

import (
	"fmt"
	"time"
)

// OccurrenceParams is everything the generator needs to project a recurrence
// into concrete attempt windows.
type OccurrenceParams struct {
	Frequency Frequency
	Location  *time.Location

	// AnchorDate is the calendar day the recurrence starts on.
	AnchorDate time.Time

	// WindowStart is "HH:mm" wall-clock in Location.
	WindowStart string

	Attempts      int
	RetryInterval time.Duration
	Duration      time.Duration
}

// AddPeriods advances t by n frequency periods. This is the single calendar
// primitive shared by the horizon generator, the conflict detector, and the
// lifecycle manager's single-step calculator; keeping it in one place means
// monthly normalization (Jan 31 + 1 month -> Mar 2/3 via time.AddDate) cannot
// drift between them.
func AddPeriods(t time.Time, f Frequency, n int) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, n)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case FrequencyBiWeekly:
		return t.AddDate(0, 0, 14*n)
	case FrequencyMonthly:
		return t.AddDate(0, n, 0)
	default:
		return t
	}
}

// NextOnOrAfter returns the first occurrence of the recurrence anchored at
// anchor that is not before now. The elapsed period count is estimated
// arithmetically and then corrected, so a schedule whose anchor is years in
// the past costs a handful of AddPeriods calls rather than a day-by-day scan.
func NextOnOrAfter(anchor time.Time, f Frequency, now time.Time) time.Time {
	if !anchor.Before(now) {
		return anchor
	}

	var n int
	switch f {
	case FrequencyDaily:
		n = int(now.Sub(anchor).Hours() / 24)
	case FrequencyWeekly:
		n = int(now.Sub(anchor).Hours() / (24 * 7))
	case FrequencyBiWeekly:
		n = int(now.Sub(anchor).Hours() / (24 * 14))
	case FrequencyMonthly:
		n = (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	}
	if n < 0 {
		n = 0
	}

	// The estimate is off by at most one period in either direction
	// (variable month lengths, DST). Always re-derive from the anchor so
	// monthly day-of-month semantics are preserved.
	t := AddPeriods(anchor, f, n)
	for t.Before(now) {
		n++
		t = AddPeriods(anchor, f, n)
	}
	for n > 0 {
		prev := AddPeriods(anchor, f, n-1)
		if prev.Before(now) {
			break
		}
		n--
		t = prev
	}
	return t
}

// AttemptWindows projects the recurrence into the ordered sequence of
// half-open attempt windows between now and now+horizon. Each occurrence
// expands into Attempts sub-windows: attempt i starts i*RetryInterval after
// the occurrence and spans Duration.
func (p OccurrenceParams) AttemptWindows(now time.Time, horizonDays int) ([]Window, error) {
	if !p.Frequency.Valid() {
		return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidArgument, p.Frequency)
	}
	if p.Location == nil {
		return nil, fmt.Errorf("%w: location is required", ErrInvalidArgument)
	}
	if p.Attempts <= 0 {
		return nil, fmt.Errorf("%w: attempts must be positive", ErrInvalidArgument)
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}

	hour, minute, err := parseClock(p.WindowStart)
	if err != nil {
		return nil, err
	}

	anchorDay := p.AnchorDate.In(p.Location)
	anchor := time.Date(anchorDay.Year(), anchorDay.Month(), anchorDay.Day(), hour, minute, 0, 0, p.Location)

	first := NextOnOrAfter(anchor, p.Frequency, now)
	limit := first.AddDate(0, 0, horizonDays)

	var out []Window
	for k := 0; ; k++ {
		occ := AddPeriods(first, p.Frequency, k)
		if !occ.Before(limit) {
			break
		}
		for i := 0; i < p.Attempts; i++ {
			start := occ.Add(time.Duration(i) * p.RetryInterval)
			out = append(out, Window{Start: start, End: start.Add(p.Duration)})
		}
	}
	return out, nil
}

// occurrenceParams derives generator input from a stored schedule. When the
// schedule has no stored start date the recurrence anchors to now in the
// schedule's own timezone. The asymmetry with the single-occurrence calculator
// (which always anchors to now) is inherited source behavior; see DESIGN.md.
func occurrenceParams(s Schedule, now time.Time) (OccurrenceParams, error) {
	loc, err := s.Location()
	if err != nil {
		return OccurrenceParams{}, err
	}
	anchor := now.In(loc)
	if s.StartDate != nil {
		anchor = s.StartDate.In(loc)
	}
	return OccurrenceParams{
		Frequency:     s.Frequency,
		Location:      loc,
		AnchorDate:    anchor,
		WindowStart:   s.WindowStart,
		Attempts:      s.MaxAttempts,
		RetryInterval: s.RetryInterval(),
		Duration:      s.EstimatedDuration(),
	}, nil
}
