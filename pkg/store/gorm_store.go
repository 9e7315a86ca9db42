package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookcatalog/pkg/domain"
)

// GormStore implements RatingStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreWithDB(db)
}

// NewGormStoreWithDB wraps an already opened connection.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&RatingModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveRating inserts or replaces the user's rating for the book.
func (s *GormStore) SaveRating(userID string, rating domain.Rating) error {
	now := time.Now().UTC()
	model := RatingModel{
		ID:        uuid.NewString(),
		UserID:    userID,
		BookID:    rating.BookID,
		Score:     rating.Rating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
	}).Create(&model).Error
}

// ListRatings returns the user's ratings ordered by created_at.
func (s *GormStore) ListRatings(userID string) ([]domain.Rating, error) {
	var models []RatingModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Rating, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Rating{BookID: m.BookID, Rating: m.Score})
	}
	return res, nil
}
