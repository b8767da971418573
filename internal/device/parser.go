// Package device decodes the push payloads biometric terminals send.
package device

import (
	"errors"
	"net/url"
	"strings"

	"schoolattend/internal/attendance"
	"schoolattend/internal/civiltime"
)

// ErrIncompletePayload is returned when no strategy yields both a subject
// code and a timestamp.
var ErrIncompletePayload = errors.New("device: payload missing subject code or timestamp")

// Payload is everything a push request carried, already split by source.
type Payload struct {
	// Fields holds a decoded JSON object or form body.
	Fields map[string]string
	// Raw is the unparsed body text.
	Raw   string
	Query url.Values
}

// Result is a parsed event plus request metadata kept for logging.
type Result struct {
	Event  attendance.ScanEvent
	Table  string
	Format string
}

// candidate is what a single strategy extracted before normalization.
type candidate struct {
	code     string
	datetime string
	verify   string
	serial   string
}

type strategy struct {
	name string
	try  func(Payload) (candidate, bool)
}

var (
	codeKeys     = []string{"ID", "id", "PIN", "pin", "UserID"}
	datetimeKeys = []string{"DateTime", "datetime", "Date", "date"}
	verifyKeys   = []string{"Verify", "verify", "VerifyType"}
	serialKeys   = []string{"SN", "sn"}
	tableKeys    = []string{"table", "Table"}

	rawCodeKeys     = []string{"ID", "id", "PIN"}
	rawDatetimeKeys = []string{"DateTime", "datetime"}
	rawVerifyKeys   = []string{"Verify", "verify"}
)

// Parser turns payloads into scan events. Strategies run in order and the
// first one producing both a code and a timestamp wins.
type Parser struct {
	clock      *civiltime.Normalizer
	strategies []strategy
}

// NewParser builds the default strategy chain.
func NewParser(clock *civiltime.Normalizer) *Parser {
	return &Parser{
		clock: clock,
		strategies: []strategy{
			{name: "body", try: tryStructuredBody},
			{name: "text", try: tryRawText},
			{name: "query", try: tryQueryString},
		},
	}
}

// Parse runs the chain.
func (p *Parser) Parse(in Payload) (Result, error) {
	serial := firstQuery(in.Query, serialKeys)
	table := firstQuery(in.Query, tableKeys)

	for _, s := range p.strategies {
		c, ok := s.try(in)
		if !ok {
			continue
		}
		if c.serial != "" {
			serial = c.serial
		}
		return Result{
			Event: attendance.ScanEvent{
				SubjectCode:  c.code,
				Timestamp:    p.clock.Normalize(c.datetime),
				VerifyMethod: MapVerify(c.verify),
				DeviceSerial: serial,
			},
			Table:  table,
			Format: s.name,
		}, nil
	}
	return Result{Table: table}, ErrIncompletePayload
}

func tryStructuredBody(in Payload) (candidate, bool) {
	if len(in.Fields) == 0 {
		return candidate{}, false
	}
	get := func(keys []string) string { return firstField(in.Fields, keys) }
	c := candidate{code: get(codeKeys), datetime: get(datetimeKeys), verify: get(verifyKeys)}
	return c, c.complete()
}

func tryRawText(in Payload) (candidate, bool) {
	if strings.TrimSpace(in.Raw) == "" {
		return candidate{}, false
	}
	kv := splitLines(in.Raw)
	if len(kv) == 0 {
		return candidate{}, false
	}
	c := candidate{
		code:     firstField(kv, rawCodeKeys),
		datetime: firstField(kv, rawDatetimeKeys),
		verify:   firstField(kv, rawVerifyKeys),
		serial:   firstField(kv, serialKeys),
	}
	return c, c.complete()
}

func tryQueryString(in Payload) (candidate, bool) {
	if len(in.Query) == 0 {
		return candidate{}, false
	}
	c := candidate{
		code:     firstQuery(in.Query, codeKeys),
		datetime: firstQuery(in.Query, datetimeKeys),
		verify:   firstQuery(in.Query, verifyKeys),
	}
	return c, c.complete()
}

func (c candidate) complete() bool {
	return c.code != "" && c.datetime != ""
}

// splitLines reads KEY=VALUE lines, splitting on the first '='.
func splitLines(raw string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

func firstField(m map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func firstQuery(q url.Values, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
