package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a non-2xx response. Detail holds the server's "detail" field
// when it sent one.
type Error struct {
	Status int
	Detail string
	Method string
	Path   string
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

func (e *Error) StatusCode() int { return e.Status }

func (e *Error) ServerDetail() string { return e.Detail }

// parseDetail reads {"detail": ...}. A non-string detail, as sent for
// validation errors, is kept as compact JSON. A body that is not a JSON
// object, such as a proxy error page, yields no detail.
func parseDetail(body []byte) string {
	var env struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Detail) == 0 || string(env.Detail) == "null" {
		return env.Message
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	return string(env.Detail)
}
