package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

var jsonAPI = sonic.Config{UseNumber: true}.Froze()

// maxMultipartMemory bounds form parsing for multipart pushes.
const maxMultipartMemory = 1 << 20

// FromRequest splits an inbound push into its body fields, raw text and
// query. body is the already-read request body.
func FromRequest(r *http.Request, body []byte) Payload {
	p := Payload{Query: r.URL.Query()}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "application/json" || looksLikeJSON(body):
		if fields, ok := decodeJSONObject(body); ok {
			p.Fields = fields
			return p
		}
	case mediaType == "application/x-www-form-urlencoded":
		if values, err := url.ParseQuery(string(body)); err == nil {
			p.Fields = flatten(values)
		}
	case mediaType == "multipart/form-data":
		r.Body = readCloser{bytes.NewReader(body)}
		if err := r.ParseMultipartForm(maxMultipartMemory); err == nil && r.MultipartForm != nil {
			p.Fields = flatten(r.MultipartForm.Value)
		}
		return p
	}
	p.Raw = string(body)
	return p
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decodeJSONObject(body []byte) (map[string]string, bool) {
	var obj map[string]any
	if err := jsonAPI.Unmarshal(body, &obj); err != nil {
		return nil, false
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, true
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = strings.TrimSpace(vs[0])
		}
	}
	return out
}

type readCloser struct{ *bytes.Reader }

func (readCloser) Close() error { return nil }
