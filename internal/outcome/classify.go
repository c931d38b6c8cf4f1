package outcome

import (
	"strings"

	"carecall-platform/internal/calls"
)

// notConnectedReasons is the fixed allowlist of provider disconnection
// reasons that mean the patient was never reached. Anything else on an ended
// call counts as a completed conversation.
var notConnectedReasons = map[string]struct{}{
	"busy":              {},
	"dial_busy":         {},
	"no_answer":         {},
	"dial_no_answer":    {},
	"voicemail":         {},
	"voicemail_reached": {},
	"machine_detected":  {},
	"inactivity":        {},
	"declined":          {},
	"call_declined":     {},
}

// classifyCall maps the provider's status and disconnection reason to the
// terminal call classification.
func classifyCall(status, reason string) calls.CallStatus {
	normalized := normalizeReason(reason)
	if status == "error" || strings.HasPrefix(normalized, "error") {
		return calls.CallStatusError
	}
	if _, ok := notConnectedReasons[normalized]; ok {
		return calls.CallStatusNotConnected
	}
	return calls.CallStatusEnded
}

// classifyRunFailure picks the run failure status for a not-connected call by
// reason substring: BUSY and NO_ANSWER drive distinct alerting; everything
// else is a generic failure.
func classifyRunFailure(reason string) calls.RunStatus {
	normalized := normalizeReason(reason)
	switch {
	case strings.Contains(normalized, "busy"):
		return calls.RunStatusBusy
	case strings.Contains(normalized, "no_answer"),
		strings.Contains(normalized, "voicemail"),
		strings.Contains(normalized, "machine"):
		return calls.RunStatusNoAnswer
	default:
		return calls.RunStatusFailed
	}
}

func normalizeReason(reason string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(reason)), "-", "_")
}
