package app

import "errors"

var (
	// ErrUserRequired indicates a blank user id.
	ErrUserRequired = errors.New("user id is required")
	// ErrBookRequired indicates a rating without a book id.
	ErrBookRequired = errors.New("book id is required")
	// ErrInvalidRating indicates a score outside 0..MaxRating.
	ErrInvalidRating = errors.New("rating must be between 0 and 10")
)
