package mrbot

// Response is the decoded result of one API call. Data is the response body
// as arbitrary JSON; a body that is not valid JSON is preserved under the
// "raw_text" key so nothing the server said is ever dropped.
type Response struct {
	HTTPStatus int            `json:"http_status"`
	Data       map[string]any `json:"data"`
}

// OK reports whether the HTTP status is a 2xx.
func (r *Response) OK() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300
}

// StringField returns the first present field among keys rendered as a
// string, or "".
func (r *Response) StringField(keys ...string) string {
	for _, k := range keys {
		v, ok := r.Data[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// BoolField returns the first present boolean field among keys.
func (r *Response) BoolField(keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := r.Data[k].(bool); ok {
			return v, true
		}
	}
	return false, false
}

// ListLen returns the length of a JSON array field, or -1 when absent.
func (r *Response) ListLen(key string) int {
	if v, ok := r.Data[key].([]any); ok {
		return len(v)
	}
	return -1
}
