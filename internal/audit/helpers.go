package audit

import (
	"fmt"
	"strings"
	"time"
)

// SecurityEvent builds a SECURITY event for a detected threat or policy
// violation. details are copied into the metadata next to event and severity.
func SecurityEvent(event string, severity Severity, clientAddress string, details map[string]any) Event {
	md := make(map[string]any, len(details)+2)
	for k, v := range details {
		md[k] = v
	}
	md["event"] = event
	md["severity"] = string(severity)

	return Event{
		Level:         LevelSecurity,
		Category:      CategorySecurity,
		Message:       fmt.Sprintf("Security event: %s [%s]", event, strings.ToUpper(string(severity))),
		ClientAddress: clientAddress,
		Metadata:      md,
	}
}

// APIAccess builds the completion event for one handled request. Responses
// with status 400 and above are logged at WARN.
func APIAccess(method, endpoint string, status int, duration time.Duration, clientAddress, userAgent, actorID string) Event {
	level := LevelInfo
	if status >= 400 {
		level = LevelWarn
	}
	return Event{
		Level:         level,
		Category:      CategoryAPI,
		Message:       fmt.Sprintf("%s %s - %d", method, endpoint, status),
		Method:        method,
		Endpoint:      endpoint,
		StatusCode:    status,
		DurationMs:    duration.Milliseconds(),
		ClientAddress: clientAddress,
		UserAgent:     userAgent,
		ActorID:       actorID,
	}
}

// LoginAttempt builds the AUDIT event for an authentication outcome.
func LoginAttempt(identification, clientAddress, userAgent string, success bool, actorID, role string) Event {
	outcome := "failed"
	if success {
		outcome = "successful"
	}
	return Event{
		Level:         LevelAudit,
		Category:      CategoryAuth,
		Message:       fmt.Sprintf("Login %s for identification: %s", outcome, identification),
		ActorID:       actorID,
		ActorRole:     role,
		ClientAddress: clientAddress,
		UserAgent:     userAgent,
		Metadata: map[string]any{
			"action":         "LOGIN_ATTEMPT",
			"identification": identification,
			"outcome":        outcome,
		},
	}
}

// UserAction builds the AUDIT event for a state-changing user operation.
func UserAction(action, actorID, email, role, clientAddress string, metadata map[string]any) Event {
	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["action"] = action

	return Event{
		Level:         LevelAudit,
		Category:      CategoryUser,
		Message:       "User action: " + action,
		ActorID:       actorID,
		ActorEmail:    email,
		ActorRole:     role,
		ClientAddress: clientAddress,
		Metadata:      md,
	}
}
