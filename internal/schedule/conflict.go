package schedule

import "time"

// FindConflict compares a candidate schedule's attempt windows against every
// other active schedule of the same patient over the horizon. It returns the
// first overlapping pair, iterating candidate windows outer and existing
// windows inner so the result is deterministic.
//
// Each existing schedule generates windows from its own stored parameters in
// its own timezone. This check runs only when a schedule is created or
// transitioned into ACTIVE status, never on read paths.
func FindConflict(candidate Schedule, others []Schedule, now time.Time, horizonDays int) (*ConflictError, error) {
	candParams, err := occurrenceParams(candidate, now)
	if err != nil {
		return nil, err
	}
	candWindows, err := candParams.AttemptWindows(now, horizonDays)
	if err != nil {
		return nil, err
	}
	if len(candWindows) == 0 {
		return nil, nil
	}

	for _, other := range others {
		if other.ID == candidate.ID || other.Status != StatusActive {
			continue
		}
		otherParams, err := occurrenceParams(other, now)
		if err != nil {
			return nil, err
		}
		otherWindows, err := otherParams.AttemptWindows(now, horizonDays)
		if err != nil {
			return nil, err
		}
		for _, cw := range candWindows {
			for _, ow := range otherWindows {
				if cw.Overlaps(ow) {
					return &ConflictError{
						ExistingScheduleID: other.ID,
						CandidateStart:     cw.Start,
						ExistingStart:      ow.Start,
					}, nil
				}
			}
		}
	}
	return nil, nil
}
