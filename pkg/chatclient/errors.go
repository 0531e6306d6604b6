package chatclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoIdentity means the session has no local key pair to encrypt or
	// decrypt with.
	ErrNoIdentity = errors.New("no local identity key")
	// ErrRecipientKeyMissing means a recipient has not registered a public
	// key, so nothing can be encrypted for them.
	ErrRecipientKeyMissing = errors.New("recipient has no active public key")
	// ErrKeyUnavailable means a message was sealed for a local key this
	// device does not hold.
	ErrKeyUnavailable = errors.New("message key not held by this device")
)

// APIError is a non-2xx server response. Message is the server's error text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrInvalidInput
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}
