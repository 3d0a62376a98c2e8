package core

import (
	"errors"
	"net/http"
)

var ErrNoActiveRoom = errors.New("no active room")

// StatusError is implemented by transport errors that carry an HTTP status
// and an optional server supplied detail.
type StatusError interface {
	error
	StatusCode() int
	ServerDetail() string
}

func statusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}

func IsNotFound(err error) bool     { return statusOf(err) == http.StatusNotFound }
func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }
func IsForbidden(err error) bool    { return statusOf(err) == http.StatusForbidden }

// ErrorDetail returns the server supplied detail of err, or fallback.
func ErrorDetail(err error, fallback string) string {
	var se StatusError
	if errors.As(err, &se) && se.ServerDetail() != "" {
		return se.ServerDetail()
	}
	return fallback
}
