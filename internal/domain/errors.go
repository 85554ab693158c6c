package domain

import "errors"

// Domain errors
var (
	ErrValidation     = errors.New("validation failed")
	ErrSelfRival      = errors.New("a player cannot be its own rival")
	ErrPlayerNotFound = errors.New("player not found")
	ErrSongNotFound   = errors.New("song not found")
	ErrScoreNotFound  = errors.New("score not found")
	ErrUnknownAPIKey  = errors.New("unknown api key")
	ErrPlayerExists   = errors.New("player already registered")
	ErrConflict       = errors.New("concurrent submission conflict")
	ErrStorage        = errors.New("storage failure")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal server error")
)

// IsNotFound checks if an error is a not-found type error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrSongNotFound) ||
		errors.Is(err, ErrScoreNotFound)
}

// IsValidation checks if an error was rejected before any store mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrSelfRival)
}
