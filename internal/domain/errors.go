package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")

	// ErrInvalidAttachment is an ErrInvalidInput.
	ErrInvalidAttachment = fmt.Errorf("%w: invalid attachment", ErrInvalidInput)
)
