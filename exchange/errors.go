// exchange/errors.go
package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrOrderRejected means the exchange refused an order or it never filled.
	ErrOrderRejected = errors.New("order rejected")
	// ErrCloseFailed means a close-all did not leave the symbol flat.
	ErrCloseFailed = errors.New("close all positions failed")
	// ErrTransient marks failures worth retrying: network errors, 5xx, rate limits.
	ErrTransient = errors.New("transient exchange error")
)

// Binance error codes that are safe to retry.
var transientCodes = map[int]bool{
	-1000: true, // unknown error while processing
	-1001: true, // internal disconnect
	-1003: true, // too many requests
	-1007: true, // timeout waiting for backend
	-1008: true, // server overloaded
	-1021: true, // timestamp outside recvWindow
}

// Binance error codes that mean "already in the requested state".
const (
	codeNoNeedToChangeMargin   = -4046
	codeNoNeedToChangePosition = -4059
	codeUnknownOrder           = -2011 // cancel of an order that is already final
)

// APIError is a Binance error body together with the HTTP status.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (code: %d, HTTP %d)", e.Msg, e.Code, e.HTTPStatus)
}

// Unwrap lets errors.Is(err, ErrTransient) match retryable API errors.
func (e *APIError) Unwrap() error {
	if e.Transient() {
		return ErrTransient
	}
	return nil
}

func (e *APIError) Transient() bool {
	if e.HTTPStatus >= http.StatusInternalServerError || e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus == http.StatusTeapot {
		return true
	}
	return transientCodes[e.Code]
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func hasCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
