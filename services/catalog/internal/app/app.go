package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"bookcatalog/internal/breaker"
	"bookcatalog/internal/util"
	"bookcatalog/pkg/domain"
	"bookcatalog/pkg/store"
	"bookcatalog/services/catalog/internal/bookinfo"
)

const (
	// FallbackName is the catalog name returned when book-info cannot be read.
	FallbackName = "Book name not"
	// FallbackDescription is the catalog description returned on fallback.
	FallbackDescription = ""

	// DefaultConcurrency bounds parallel lookups for one user catalog.
	DefaultConcurrency = 4
	// MaxRating is the highest score accepted by RateBook.
	MaxRating = 10
)

// BookFetcher reads book metadata from the book-info provider.
type BookFetcher interface {
	FetchBook(ctx context.Context, id string) (domain.Book, error)
}

// Config wires dependencies for the catalog core.
type Config struct {
	Books       BookFetcher
	Ratings     store.RatingStore
	Breaker     breaker.Policy
	Concurrency int
}

// App is the catalog service core.
type App struct {
	books       BookFetcher
	ratings     store.RatingStore
	breaker     *breaker.Breaker[domain.Catalog]
	concurrency int
}

// New constructs the catalog core. Ratings default to an in-memory store.
func New(cfg Config) (*App, error) {
	if cfg.Books == nil {
		return nil, errors.New("book fetcher is required")
	}
	ratings := cfg.Ratings
	if ratings == nil {
		ratings = store.NewMemoryStore()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	policy := cfg.Breaker
	if policy.Name == "" {
		policy.Name = "book-info"
	}
	return &App{
		books:       cfg.Books,
		ratings:     ratings,
		breaker:     breaker.New[domain.Catalog](policy),
		concurrency: concurrency,
	}, nil
}

// GetCatalogItem fetches the rated book and merges it with the score.
// It never fails: any book-info error, including an open circuit, yields
// the fallback catalog carrying the same score.
func (a *App) GetCatalogItem(ctx context.Context, rating domain.Rating) domain.Catalog {
	return a.breaker.Call(
		func() (domain.Catalog, error) {
			book, err := a.books.FetchBook(ctx, rating.BookID)
			if err != nil {
				return domain.Catalog{}, err
			}
			return domain.Catalog{Name: book.Name, Description: book.Description, Rating: rating.Rating}, nil
		},
		func(err error) domain.Catalog {
			util.LoggerFromContext(ctx).Warn(
				"catalog_item_fallback",
				"book_id", rating.BookID,
				"reason", failureReason(err),
				"err", err,
			)
			return fallbackCatalog(rating)
		},
	)
}

// GetUserCatalog builds a catalog item for every rating of the user,
// keeping the order in which ratings were recorded.
func (a *App) GetUserCatalog(ctx context.Context, userID string) (domain.UserCatalog, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserCatalog{}, ErrUserRequired
	}
	ratings, err := a.ratings.ListRatings(userID)
	if err != nil {
		return domain.UserCatalog{}, fmt.Errorf("list ratings: %w", err)
	}

	items := make([]domain.Catalog, len(ratings))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, rating := range ratings {
		i, rating := i, rating
		g.Go(func() error {
			items[i] = a.GetCatalogItem(ctx, rating)
			return nil
		})
	}
	g.Wait() // lookups never fail
	return domain.UserCatalog{UserID: userID, Items: items}, nil
}

// RateBook records the user's score for a book, replacing any earlier one.
func (a *App) RateBook(userID string, rating domain.Rating) (domain.Rating, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Rating{}, ErrUserRequired
	}
	if strings.TrimSpace(rating.BookID) == "" {
		return domain.Rating{}, ErrBookRequired
	}
	if rating.Rating < 0 || rating.Rating > MaxRating {
		return domain.Rating{}, ErrInvalidRating
	}
	if err := a.ratings.SaveRating(userID, rating); err != nil {
		return domain.Rating{}, fmt.Errorf("save rating: %w", err)
	}
	return rating, nil
}

// BreakerState reports the book-info circuit state.
func (a *App) BreakerState() string {
	return a.breaker.State()
}

func fallbackCatalog(rating domain.Rating) domain.Catalog {
	return domain.Catalog{Name: FallbackName, Description: FallbackDescription, Rating: rating.Rating}
}

func failureReason(err error) string {
	var apiErr *bookinfo.APIError
	var netErr net.Error
	switch {
	case breaker.IsOpen(err):
		return "circuit_open"
	case errors.As(err, &apiErr):
		return "status"
	case errors.Is(err, bookinfo.ErrMalformedBody):
		return "decode"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "transport"
	}
}
