package admission

// State is a node of the per-request admission state machine.
type State string

const (
	StateReceived       State = "RECEIVED"
	StatePatternChecked State = "PATTERN_CHECKED"
	StateRateChecked    State = "RATE_CHECKED"
	StatePayloadChecked State = "PAYLOAD_CHECKED"
	StateAdmitted       State = "ADMITTED"
	StateRejected       State = "REJECTED"
	// StateAbandoned ends an evaluation whose client went away. Nothing is
	// recorded for it.
	StateAbandoned State = "ABANDONED"
)

// Reason explains a terminal state.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonSuspiciousURL     Reason = "suspicious_url"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonSuspiciousPayload Reason = "suspicious_payload"
	ReasonClientAbandoned   Reason = "client_abandoned"
)

var rejectionMessages = map[Reason]string{
	ReasonSuspiciousURL:     "Request blocked due to suspicious content",
	ReasonRateLimited:       "Too many requests, please try again later",
	ReasonSuspiciousPayload: "Request body contains suspicious content",
}

// Message is the client-facing text for a rejection reason.
func (r Reason) Message() string {
	if m, ok := rejectionMessages[r]; ok {
		return m
	}
	return "Request rejected"
}
