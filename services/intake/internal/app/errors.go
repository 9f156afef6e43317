package app

import (
	"errors"

	"greenlight/pkg/store"
)

var (
	ErrInvalidSynopsis = errors.New("invalid synopsis")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInProgress      = errors.New("analysis in progress")

	ErrInvalidID = store.ErrInvalidID
	ErrNotFound  = store.ErrNotFound
)
