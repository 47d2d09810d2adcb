package audit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 UTC layout with milliseconds used in log lines.
const TimeLayout = "2006-01-02T15:04:05.000Z"

const maxUserAgent = 100

// FormatLine renders e in the fixed field order
//
//	<timestamp> [LEVEL] [CATEGORY] message [Nms] [status] [User:id] [Email:e]
//	[Role:r] [IP:addr] [Endpoint:METHOD path] [Session:s] {metadata} [UA:agent]
//
// Empty optional fields are omitted. The user agent is cut to 100 runes.
func FormatLine(e Event) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.UTC().Format(TimeLayout))
	b.WriteString(" [")
	b.WriteString(string(e.Level))
	b.WriteString("] [")
	b.WriteString(string(e.Category))
	b.WriteString("] ")
	b.WriteString(oneLine(e.Message))

	if e.DurationMs > 0 {
		fmt.Fprintf(&b, " [%dms]", e.DurationMs)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " [%d]", e.StatusCode)
	}
	tag(&b, "User", e.ActorID)
	tag(&b, "Email", e.ActorEmail)
	tag(&b, "Role", e.ActorRole)
	tag(&b, "IP", e.ClientAddress)
	if e.Endpoint != "" {
		tag(&b, "Endpoint", strings.TrimSpace(e.Method+" "+e.Endpoint))
	}
	tag(&b, "Session", e.SessionID)
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			b.WriteByte(' ')
			b.Write(raw)
		}
	}
	if e.UserAgent != "" {
		ua := []rune(oneLine(e.UserAgent))
		if len(ua) > maxUserAgent {
			ua = ua[:maxUserAgent]
		}
		tag(&b, "UA", string(ua))
	}
	return b.String()
}

func tag(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(" [")
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(oneLine(value))
	b.WriteByte(']')
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

var (
	headRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z) \[(\w+)\] \[(\w+)\] (.*)$`)
	// first optional field after the message
	tailStartRe = regexp.MustCompile(` (\[(\d+ms|\d{3}|User:|Email:|Role:|IP:|Endpoint:|Session:|UA:)|\{)`)
	durationRe  = regexp.MustCompile(`^\[(\d+)ms\]`)
	statusRe    = regexp.MustCompile(`^\[(\d{3})\]`)
	tagRe       = regexp.MustCompile(`^\[(User|Email|Role|IP|Endpoint|Session):([^\]]*)\]`)
)

// ParseLine reads a line written by FormatLine back into an Event. Metadata
// that is not valid JSON is dropped.
func ParseLine(line string) (Event, error) {
	m := headRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return Event{}, ErrMalformedLine
	}
	ts, err := time.Parse(TimeLayout, m[1])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	e := Event{Timestamp: ts, Level: Level(m[2]), Category: Category(m[3])}

	rest := m[4]
	if loc := tailStartRe.FindStringIndex(rest); loc != nil {
		e.Message = rest[:loc[0]]
		rest = rest[loc[0]:]
	} else {
		e.Message = rest
		return e, nil
	}

	if i := strings.LastIndex(rest, " [UA:"); i >= 0 && strings.HasSuffix(rest, "]") {
		e.UserAgent = rest[i+len(" [UA:") : len(rest)-1]
		rest = rest[:i]
	}

	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if sm := durationRe.FindStringSubmatch(rest); sm != nil {
			e.DurationMs, _ = strconv.ParseInt(sm[1], 10, 64)
			rest = rest[len(sm[0]):]
			continue
		}
		if sm := statusRe.FindStringSubmatch(rest); sm != nil {
			e.StatusCode, _ = strconv.Atoi(sm[1])
			rest = rest[len(sm[0]):]
			continue
		}
		if sm := tagRe.FindStringSubmatch(rest); sm != nil {
			applyTag(&e, sm[1], sm[2])
			rest = rest[len(sm[0]):]
			continue
		}
		if strings.HasPrefix(rest, "{") {
			var md map[string]any
			if err := json.Unmarshal([]byte(rest), &md); err == nil {
				e.Metadata = md
			}
		}
		break
	}
	return e, nil
}

func applyTag(e *Event, name, value string) {
	switch name {
	case "User":
		e.ActorID = value
	case "Email":
		e.ActorEmail = value
	case "Role":
		e.ActorRole = value
	case "IP":
		e.ClientAddress = value
	case "Endpoint":
		if method, path, ok := strings.Cut(value, " "); ok {
			e.Method, e.Endpoint = method, path
		} else {
			e.Endpoint = value
		}
	case "Session":
		e.SessionID = value
	}
}
