package device

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/attendance"
	"schoolattend/internal/civiltime"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	clock, err := civiltime.Load(civiltime.DefaultZone, func() time.Time {
		return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	})
	require.NoError(t, err)
	return NewParser(clock)
}

func TestParseEncodingsAgree(t *testing.T) {
	p := newParser(t)
	query := url.Values{"SN": {"CQZ7224460246"}, "table": {"ATTLOG"}}

	encodings := map[string]Payload{
		"json": {
			Fields: map[string]string{"ID": "10234", "DateTime": "2025-01-20 07:55:00", "Verify": "15"},
			Query:  query,
		},
		"text": {
			Raw:   "ID=10234\nDateTime=2025-01-20 07:55:00\nVerify=15\n",
			Query: query,
		},
		"query": {
			Query: url.Values{
				"SN": {"CQZ7224460246"}, "table": {"ATTLOG"},
				"PIN": {"10234"}, "datetime": {"2025-01-20 07:55:00"}, "verify": {"15"},
			},
		},
	}

	var events []attendance.ScanEvent
	for name, payload := range encodings {
		res, err := p.Parse(payload)
		require.NoError(t, err, name)
		assert.Equal(t, "ATTLOG", res.Table, name)
		events = append(events, res.Event)
	}
	for _, evt := range events[1:] {
		assert.Equal(t, events[0].SubjectCode, evt.SubjectCode)
		assert.True(t, events[0].Timestamp.Equal(evt.Timestamp))
		assert.Equal(t, events[0].VerifyMethod, evt.VerifyMethod)
		assert.Equal(t, events[0].DeviceSerial, evt.DeviceSerial)
	}
	assert.Equal(t, attendance.VerifyFaceRecognition, events[0].VerifyMethod)
	assert.Equal(t, "CQZ7224460246", events[0].DeviceSerial)
}

func TestParseStrategyOrder(t *testing.T) {
	p := newParser(t)

	res, err := p.Parse(Payload{
		Fields: map[string]string{"UserID": "1", "date": "2025-01-20 08:00:00"},
		Raw:    "ID=2\nDateTime=2025-01-20 09:00:00",
		Query:  url.Values{"id": {"3"}, "DateTime": {"2025-01-20 10:00:00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", res.Event.SubjectCode)
	assert.Equal(t, "body", res.Format)

	res, err = p.Parse(Payload{
		Fields: map[string]string{"UserID": "1"},
		Raw:    "ID=2\nDateTime=2025-01-20 09:00:00",
		Query:  url.Values{"id": {"3"}, "DateTime": {"2025-01-20 10:00:00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2", res.Event.SubjectCode, "incomplete body falls through to text")
	assert.Equal(t, "text", res.Format)
}

func TestParseRawTextSerialOverridesQuery(t *testing.T) {
	p := newParser(t)

	res, err := p.Parse(Payload{
		Raw:   "PIN=77\r\nDateTime=2025-01-20 15:10:00\r\nSN=BODY-SN\r\nNote=a=b",
		Query: url.Values{"sn": {"QUERY-SN"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "BODY-SN", res.Event.DeviceSerial)
	assert.Equal(t, "77", res.Event.SubjectCode)
	assert.Equal(t, attendance.VerifyFaceRecognition, res.Event.VerifyMethod)
}

func TestParseIncomplete(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse(Payload{Raw: "garbage", Query: url.Values{"SN": {"X"}}})
	assert.ErrorIs(t, err, ErrIncompletePayload)

	_, err = p.Parse(Payload{Fields: map[string]string{"ID": "5"}})
	assert.ErrorIs(t, err, ErrIncompletePayload)
}

func TestParseUnparseableTimestampUsesNow(t *testing.T) {
	p := newParser(t)

	res, err := p.Parse(Payload{Fields: map[string]string{"id": "5", "DateTime": "yesterday"}})
	require.NoError(t, err)
	assert.True(t, res.Event.Timestamp.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMapVerify(t *testing.T) {
	cases := map[string]attendance.VerifyMethod{
		"0":        attendance.VerifyPassword,
		"1":        attendance.VerifyFingerprint,
		"4":        attendance.VerifyRFIDCard,
		"15":       attendance.VerifyFaceRecognition,
		"Face":     attendance.VerifyFaceRecognition,
		"Finger":   attendance.VerifyFingerprint,
		"Card":     attendance.VerifyRFIDCard,
		"Password": attendance.VerifyPassword,
		"":         attendance.VerifyFaceRecognition,
		"Palm":     attendance.VerifyMethod("Palm"),
		"25":       attendance.VerifyMethod("25"),
	}
	for in, want := range cases {
		assert.Equal(t, want, MapVerify(in), "input %q", in)
	}
}

func TestFromRequest(t *testing.T) {
	t.Run("json numbers keep their digits", func(t *testing.T) {
		body := []byte(`{"ID": 1023400, "DateTime": "2025-01-20 07:55:00", "Verify": 1}`)
		req := httptest.NewRequest("POST", "/iclock/cdata?SN=abc", nil)
		req.Header.Set("Content-Type", "application/json")

		p := FromRequest(req, body)
		assert.Equal(t, "1023400", p.Fields["ID"])
		assert.Equal(t, "1", p.Fields["Verify"])
		assert.Equal(t, "abc", p.Query.Get("SN"))
	})

	t.Run("form body", func(t *testing.T) {
		body := []byte("PIN=9&DateTime=2025-01-20+07%3A55%3A00")
		req := httptest.NewRequest("POST", "/iclock/cdata", nil)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		p := FromRequest(req, body)
		assert.Equal(t, "9", p.Fields["PIN"])
		assert.Equal(t, "2025-01-20 07:55:00", p.Fields["DateTime"])
	})

	t.Run("plain text", func(t *testing.T) {
		body := []byte("ID=3\nDateTime=2025-01-20 07:55:00")
		req := httptest.NewRequest("POST", "/iclock/cdata", strings.NewReader(""))
		req.Header.Set("Content-Type", "text/plain")

		p := FromRequest(req, body)
		assert.Empty(t, p.Fields)
		assert.Equal(t, string(body), p.Raw)
	})
}
