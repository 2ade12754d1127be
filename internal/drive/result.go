package drive

import (
	"encoding/json"
	"net/http"
)

// Response is a fully read HTTP response. The body is buffered so callers
// never have to close anything, and so a failed response can be reported
// with its text.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string, for error messages.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}

	return string(r.Body)
}

// Result is the uniform envelope for every API call. Success is true for
// status codes below 400. Data holds the parsed JSON object body and is an
// empty map, never nil, when the body is empty or not a JSON object.
type Result struct {
	Success  bool
	Data     map[string]any
	Response *Response
	URL      string
}

// StatusCode returns the HTTP status of the underlying response, or 0.
func (r *Result) StatusCode() int {
	if r == nil || r.Response == nil {
		return 0
	}

	return r.Response.StatusCode
}

// String returns Data[key] when it is a string, "" otherwise.
func (r *Result) String(key string) string {
	s, _ := r.Data[key].(string) //nolint:errcheck // type assertion, not an error

	return s
}

// newResult builds the envelope for a response.
func newResult(url string, resp *Response) *Result {
	return &Result{
		Success:  resp.StatusCode < http.StatusBadRequest,
		Data:     parseData(resp.Body),
		Response: resp,
		URL:      url,
	}
}

// parseData decodes a JSON object body. Anything else yields an empty map.
func parseData(body []byte) map[string]any {
	data := map[string]any{}
	if len(body) == 0 {
		return data
	}

	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return map[string]any{}
	}

	return data
}
