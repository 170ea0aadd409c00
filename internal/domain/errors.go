package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidReview       = errors.New("invalid review action")
)
