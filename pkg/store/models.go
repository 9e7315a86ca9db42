package store

import "time"

// RatingModel is the GORM row for one user's rating of one book.
type RatingModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_ratings_user_book"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_ratings_user_book"`
	Score     int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RatingModel) TableName() string {
	return "ratings"
}
