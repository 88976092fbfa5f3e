package idempotency

import (
	"strings"

	"github.com/goccy/go-json"
)

// HeaderPair is one response header. Value holds the raw header bytes.
type HeaderPair struct {
	Name  string
	Value []byte
}

// Response is the snapshot stored on a completed record and replayed verbatim
// to duplicate requests. Header order is preserved.
type Response struct {
	StatusCode uint16
	Headers    []HeaderPair
	Body       []byte
}

// Header returns the value of the first header matching name, case-insensitively.
func (r *Response) Header(name string) ([]byte, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return nil, false
}

type headerPairJSON struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

func encodeHeaders(headers []HeaderPair) ([]byte, error) {
	out := make([]headerPairJSON, 0, len(headers))
	for _, h := range headers {
		out = append(out, headerPairJSON{Name: h.Name, Value: h.Value})
	}
	return json.Marshal(out)
}

func decodeHeaders(data []byte) ([]HeaderPair, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var in []headerPairJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}

	headers := make([]HeaderPair, 0, len(in))
	for _, h := range in {
		headers = append(headers, HeaderPair{Name: h.Name, Value: h.Value})
	}
	return headers, nil
}
