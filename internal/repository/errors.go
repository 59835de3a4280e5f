package repository

import "errors"

var (
	ErrMessageLogNotFound = errors.New("message log not found")
	ErrInvalidInput       = errors.New("invalid input parameters")
)
