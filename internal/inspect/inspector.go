package inspect

import (
	"errors"
	"net/url"
	"sort"
	"strconv"
)

var ErrInvalidSignature = errors.New("invalid pattern signature")

// MatchResult is Clean (the zero value) or Suspicious with the signature that
// matched first.
type MatchResult struct {
	Suspicious bool
	Signature  Signature
}

var Clean = MatchResult{}

func (m MatchResult) String() string {
	if !m.Suspicious {
		return "clean"
	}
	return string(m.Signature.Category) + ":" + m.Signature.Name
}

// FieldMatch names the first offending field of a structured payload.
type FieldMatch struct {
	Field string
	MatchResult
}

// Inspector holds compiled detection profiles. It has no mutable state and is
// safe for concurrent use.
type Inspector struct {
	url     []Signature
	payload []Signature
}

// New builds an Inspector from the built-in profiles plus extra payload
// signatures. A signature that fails to compile is reported as
// ErrInvalidSignature.
func New(extra ...string) (*Inspector, error) {
	custom, err := compileCustom(extra)
	if err != nil {
		return nil, err
	}
	return &Inspector{
		url:     URLSignatures(),
		payload: append(PayloadSignatures(), custom...),
	}, nil
}

// Default returns an Inspector with only the built-in signatures.
func Default() *Inspector {
	i, _ := New()
	return i
}

// Inspect checks text against the payload profile. First match wins.
func (i *Inspector) Inspect(text string) MatchResult {
	return firstMatch(i.payload, text)
}

// InspectAll returns every payload signature that matches text, in profile
// order.
func (i *Inspector) InspectAll(text string) []MatchResult {
	var out []MatchResult
	for _, s := range i.payload {
		if s.Pattern.MatchString(text) {
			out = append(out, MatchResult{Suspicious: true, Signature: s})
		}
	}
	return out
}

// InspectURL checks the path and the decoded query string against the URL
// profile.
func (i *Inspector) InspectURL(path, rawQuery string) MatchResult {
	if m := firstMatch(i.url, path); m.Suspicious {
		return m
	}
	if rawQuery == "" {
		return Clean
	}
	query, err := url.QueryUnescape(rawQuery)
	if err != nil {
		query = rawQuery
	}
	return firstMatch(i.url, query)
}

// InspectFields applies Inspect to every string value of a parsed payload.
// Keys are visited in sorted order; nested objects and arrays are walked and
// reported with dotted names such as "students.2.name".
func (i *Inspector) InspectFields(fields map[string]any) (FieldMatch, bool) {
	return i.walkObject("", fields)
}

// InspectUserAgent reports whether ua looks like an automated client.
func (i *Inspector) InspectUserAgent(ua string) bool {
	for _, re := range agentPatterns {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

func (i *Inspector) walkObject(prefix string, fields map[string]any) (FieldMatch, bool) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if fm, ok := i.walkValue(join(prefix, k), fields[k]); ok {
			return fm, true
		}
	}
	return FieldMatch{}, false
}

func (i *Inspector) walkValue(name string, v any) (FieldMatch, bool) {
	switch val := v.(type) {
	case string:
		if m := i.Inspect(val); m.Suspicious {
			return FieldMatch{Field: name, MatchResult: m}, true
		}
	case []string:
		for idx, s := range val {
			if fm, ok := i.walkValue(join(name, strconv.Itoa(idx)), s); ok {
				return fm, true
			}
		}
	case []any:
		for idx, item := range val {
			if fm, ok := i.walkValue(join(name, strconv.Itoa(idx)), item); ok {
				return fm, true
			}
		}
	case map[string]any:
		return i.walkObject(name, val)
	}
	return FieldMatch{}, false
}

func firstMatch(profile []Signature, text string) MatchResult {
	if text == "" {
		return Clean
	}
	for _, s := range profile {
		if s.Pattern.MatchString(text) {
			return MatchResult{Suspicious: true, Signature: s}
		}
	}
	return Clean
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
