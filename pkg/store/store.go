package store

import "bookcatalog/pkg/domain"

// RatingStore persists the ratings a user has given to books.
// A user holds at most one rating per book; saving again replaces the score.
type RatingStore interface {
	SaveRating(userID string, rating domain.Rating) error
	// ListRatings returns ratings in the order they were first recorded.
	ListRatings(userID string) ([]domain.Rating, error)
}
