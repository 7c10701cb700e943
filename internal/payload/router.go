// Package payload turns decoded QR text into typed commands.
package payload

import (
	"errors"
	"fmt"
	"strings"
)

// CodeKind classifies a decoded payload.
type CodeKind int

const (
	KindUnrecognized CodeKind = iota
	KindPrescription
	KindAppointment
	KindPatient
)

// String returns the wire name of the kind.
func (k CodeKind) String() string {
	switch k {
	case KindPrescription:
		return "prescription"
	case KindAppointment:
		return "appointment"
	case KindPatient:
		return "patient"
	default:
		return "unrecognized"
	}
}

// MarshalText implements encoding.TextMarshaler so kinds serialize by name
// in JSON, YAML and msgpack payloads.
func (k CodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CodeKind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind maps a kind name (case-insensitive) to its CodeKind.
func ParseKind(name string) (CodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "prescription":
		return KindPrescription, nil
	case "appointment":
		return KindAppointment, nil
	case "patient":
		return KindPatient, nil
	case "unrecognized":
		return KindUnrecognized, nil
	}
	return KindUnrecognized, fmt.Errorf("payload: unknown code kind %q", name)
}

// ParsedCode is the typed result of routing a decoded payload.
//
// For KindUnrecognized, Value holds the trimmed raw text and should be shown
// to the user rather than acted upon.
type ParsedCode struct {
	Kind  CodeKind `json:"kind" yaml:"kind" msgpack:"kind"`
	Value string   `json:"value" yaml:"value" msgpack:"value"`
}

// Recognized reports whether the code maps to a known kind.
func (p ParsedCode) Recognized() bool {
	return p.Kind != KindUnrecognized
}

// Rule maps a candidate prefix to a kind. Prefixes compare case-insensitively.
type Rule struct {
	Prefix string
	Kind   CodeKind
}

// DefaultRules is the prefix table used when none is configured.
// Order matters: first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "PRE", Kind: KindPrescription},
		{Prefix: "PR-", Kind: KindPrescription},
		{Prefix: "PAT", Kind: KindPatient},
		{Prefix: "APT", Kind: KindAppointment},
		{Prefix: "APPT", Kind: KindAppointment},
	}
}

var ErrEmptyPrefix = errors.New("payload: empty prefix in rule table")

// Router classifies decoded text against an ordered prefix table.
// A Router is immutable and safe for concurrent use.
type Router struct {
	rules []Rule
}

// NewRouter builds a Router from rules. A nil or empty table falls back to
// DefaultRules. Prefixes are normalized to upper case.
func NewRouter(rules []Rule) (*Router, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		prefix := strings.ToUpper(strings.TrimSpace(r.Prefix))
		if prefix == "" {
			return nil, fmt.Errorf("%w (rule %d)", ErrEmptyPrefix, i)
		}
		if r.Kind == KindUnrecognized {
			return nil, fmt.Errorf("payload: rule %d (%s) maps to unrecognized", i, prefix)
		}
		normalized = append(normalized, Rule{Prefix: prefix, Kind: r.Kind})
	}

	return &Router{rules: normalized}, nil
}

// Rules returns a copy of the router's prefix table.
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Route classifies raw decoded text. It never fails: anything that does not
// match the prefix table comes back as KindUnrecognized carrying the trimmed
// input.
//
// Grammar:
//   - "KEY:CODE|..." (a ':' before any '|'): the candidate is the token after
//     the first ':' in the first '|' segment.
//   - otherwise the candidate is the first '|' segment.
func (r *Router) Route(raw string) ParsedCode {
	trimmed := strings.TrimSpace(raw)
	candidate := extractCandidate(trimmed)

	upper := strings.ToUpper(candidate)
	for _, rule := range r.rules {
		if strings.HasPrefix(upper, rule.Prefix) {
			return ParsedCode{Kind: rule.Kind, Value: candidate}
		}
	}

	return ParsedCode{Kind: KindUnrecognized, Value: trimmed}
}

func extractCandidate(text string) string {
	first, _, _ := strings.Cut(text, "|")

	colon := strings.IndexByte(text, ':')
	pipe := strings.IndexByte(text, '|')
	if colon >= 0 && (pipe < 0 || colon < pipe) {
		parts := strings.Split(first, ":")
		return strings.TrimSpace(parts[1])
	}

	return strings.TrimSpace(first)
}
