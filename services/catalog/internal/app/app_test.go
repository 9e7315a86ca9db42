package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookcatalog/internal/breaker"
	"bookcatalog/internal/util"
	"bookcatalog/pkg/domain"
	"bookcatalog/pkg/store"
	"bookcatalog/services/catalog/internal/bookinfo"
)

type fakeFetcher struct {
	calls atomic.Int32
	fetch func(ctx context.Context, id string) (domain.Book, error)
}

func (f *fakeFetcher) FetchBook(ctx context.Context, id string) (domain.Book, error) {
	f.calls.Add(1)
	return f.fetch(ctx, id)
}

func booksByID(books map[string]domain.Book) *fakeFetcher {
	return &fakeFetcher{fetch: func(_ context.Context, id string) (domain.Book, error) {
		book, ok := books[id]
		if !ok {
			return domain.Book{}, &bookinfo.APIError{Status: http.StatusNotFound, Message: "book not found"}
		}
		return book, nil
	}}
}

// lenientPolicy never trips within a test.
var lenientPolicy = breaker.Policy{Name: "test", MinRequests: 1000}

func newTestApp(t *testing.T, books BookFetcher, ratings store.RatingStore, policy breaker.Policy) *App {
	t.Helper()
	a, err := New(Config{Books: books, Ratings: ratings, Breaker: policy})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func fallback(score int) domain.Catalog {
	return domain.Catalog{Name: "Book name not", Description: "", Rating: score}
}

func TestGetCatalogItemScenarios(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/books/42":
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "Dune", "description": "Sci-fi"})
		case "/books/7":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := bookinfo.NewClient(srv.URL, bookinfo.WithTimeout(50*time.Millisecond))
	a := newTestApp(t, client, nil, lenientPolicy)

	tests := []struct {
		name   string
		rating domain.Rating
		want   domain.Catalog
	}{
		{name: "found", rating: domain.Rating{BookID: "42", Rating: 5}, want: domain.Catalog{Name: "Dune", Description: "Sci-fi", Rating: 5}},
		{name: "not found", rating: domain.Rating{BookID: "99", Rating: 3}, want: fallback(3)},
		{name: "timeout", rating: domain.Rating{BookID: "7", Rating: 1}, want: fallback(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.GetCatalogItem(context.Background(), tc.rating); got != tc.want {
				t.Fatalf("GetCatalogItem(%+v) = %+v, want %+v", tc.rating, got, tc.want)
			}
		})
	}
}

func TestGetCatalogItemFallsBackOnEveryFailureKind(t *testing.T) {
	refused := httptest.NewServer(http.NotFoundHandler())
	refusedURL := refused.URL
	refused.Close()

	serverError := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer serverError.Close()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":`))
	}))
	defer malformed.Close()

	nullBody := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer nullBody.Close()

	for name, url := range map[string]string{
		"connection refused": refusedURL,
		"server error":       serverError.URL,
		"malformed body":     malformed.URL,
		"null body":          nullBody.URL,
	} {
		t.Run(name, func(t *testing.T) {
			a := newTestApp(t, bookinfo.NewClient(url), nil, lenientPolicy)
			if got := a.GetCatalogItem(context.Background(), domain.Rating{BookID: "1", Rating: 4}); got != fallback(4) {
				t.Fatalf("expected fallback, got %+v", got)
			}
		})
	}
}

func TestGetCatalogItemShortCircuitsWhenOpen(t *testing.T) {
	healthy := false
	fetcher := &fakeFetcher{fetch: func(context.Context, string) (domain.Book, error) {
		if healthy {
			return domain.Book{Name: "Dune", Description: "Sci-fi"}, nil
		}
		return domain.Book{}, errors.New("connection reset")
	}}
	a := newTestApp(t, fetcher, nil, breaker.Policy{Name: "test", MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		a.GetCatalogItem(context.Background(), domain.Rating{BookID: "42", Rating: 5})
	}
	if a.BreakerState() != "open" {
		t.Fatalf("expected open circuit, got %s", a.BreakerState())
	}

	healthy = true
	before := fetcher.calls.Load()
	got := a.GetCatalogItem(context.Background(), domain.Rating{BookID: "42", Rating: 2})
	if got != fallback(2) {
		t.Fatalf("expected fallback while open, got %+v", got)
	}
	if fetcher.calls.Load() != before {
		t.Fatalf("book-info must not be called while the circuit is open")
	}
}

func TestGetCatalogItemIsIdempotent(t *testing.T) {
	a := newTestApp(t, booksByID(map[string]domain.Book{"42": {Name: "Dune", Description: "Sci-fi"}}), nil, lenientPolicy)
	for _, rating := range []domain.Rating{{BookID: "42", Rating: 5}, {BookID: "missing", Rating: 3}} {
		first := a.GetCatalogItem(context.Background(), rating)
		second := a.GetCatalogItem(context.Background(), rating)
		if first != second {
			t.Fatalf("repeated lookups differ: %+v vs %+v", first, second)
		}
	}
}

func TestGetCatalogItemKeepsRatingOnBothPaths(t *testing.T) {
	ok := booksByID(map[string]domain.Book{"b": {Name: "n", Description: "d"}})
	failing := &fakeFetcher{fetch: func(context.Context, string) (domain.Book, error) {
		return domain.Book{}, errors.New("boom")
	}}
	okApp := newTestApp(t, ok, nil, lenientPolicy)
	failingApp := newTestApp(t, failing, nil, lenientPolicy)

	for score := -3; score <= 12; score++ {
		rating := domain.Rating{BookID: "b", Rating: score}
		if got := okApp.GetCatalogItem(context.Background(), rating); got.Rating != score {
			t.Fatalf("success path changed rating %d to %d", score, got.Rating)
		}
		if got := failingApp.GetCatalogItem(context.Background(), rating); got.Rating != score {
			t.Fatalf("fallback path changed rating %d to %d", score, got.Rating)
		}
	}
}

func TestGetCatalogItemLogsFallbackReason(t *testing.T) {
	var buf bytes.Buffer
	logger := util.NewLogger(&buf, "warn")
	ctx := util.ContextWithLogger(context.Background(), logger)

	a := newTestApp(t, booksByID(nil), nil, lenientPolicy)
	a.GetCatalogItem(ctx, domain.Rating{BookID: "99", Rating: 3})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if line["msg"] != "catalog_item_fallback" || line["reason"] != "status" || line["book_id"] != "99" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFailureReason(t *testing.T) {
	open := breaker.New[int](breaker.Policy{Name: "r", MinRequests: 1, OpenTimeout: time.Minute})
	open.Call(func() (int, error) { return 0, errors.New("x") }, func(error) int { return 0 })
	var openErr error
	open.Call(func() (int, error) { return 1, nil }, func(err error) int { openErr = err; return 0 })

	cases := []struct {
		err  error
		want string
	}{
		{openErr, "circuit_open"},
		{&bookinfo.APIError{Status: 404}, "status"},
		{fmt.Errorf("%w: eof", bookinfo.ErrMalformedBody), "decode"},
		{context.DeadlineExceeded, "timeout"},
		{timeoutErr{}, "timeout"},
		{errors.New("connection refused"), "transport"},
	}
	for _, tc := range cases {
		if got := failureReason(tc.err); got != tc.want {
			t.Fatalf("failureReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestGetUserCatalogPreservesOrderAndDegradesPerItem(t *testing.T) {
	ratings := store.NewMemoryStore()
	_ = ratings.SaveRating("u-1", domain.Rating{BookID: "42", Rating: 5})
	_ = ratings.SaveRating("u-1", domain.Rating{BookID: "99", Rating: 3})
	_ = ratings.SaveRating("u-1", domain.Rating{BookID: "8", Rating: 4})

	a := newTestApp(t, booksByID(map[string]domain.Book{
		"42": {Name: "Dune", Description: "Sci-fi"},
		"8":  {Name: "Emma", Description: "Classic"},
	}), ratings, lenientPolicy)

	got, err := a.GetUserCatalog(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("get user catalog: %v", err)
	}
	want := []domain.Catalog{
		{Name: "Dune", Description: "Sci-fi", Rating: 5},
		fallback(3),
		{Name: "Emma", Description: "Classic", Rating: 4},
	}
	if got.UserID != "u-1" || len(got.Items) != len(want) {
		t.Fatalf("unexpected catalog: %+v", got)
	}
	for i := range want {
		if got.Items[i] != want[i] {
			t.Fatalf("item %d = %+v, want %+v", i, got.Items[i], want[i])
		}
	}
}

func TestGetUserCatalogBoundsConcurrency(t *testing.T) {
	ratings := store.NewMemoryStore()
	for i := 0; i < 8; i++ {
		_ = ratings.SaveRating("u-1", domain.Rating{BookID: fmt.Sprint(i), Rating: i})
	}
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	fetcher := &fakeFetcher{fetch: func(_ context.Context, id string) (domain.Book, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return domain.Book{Name: id}, nil
	}}
	a, err := New(Config{Books: fetcher, Ratings: ratings, Breaker: lenientPolicy, Concurrency: 2})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	got, err := a.GetUserCatalog(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("get user catalog: %v", err)
	}
	if len(got.Items) != 8 {
		t.Fatalf("expected 8 items, got %d", len(got.Items))
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent lookups, saw %d", peak.Load())
	}
}

type failingStore struct{}

func (failingStore) SaveRating(string, domain.Rating) error { return errors.New("db down") }
func (failingStore) ListRatings(string) ([]domain.Rating, error) {
	return nil, errors.New("db down")
}

func TestGetUserCatalogStoreError(t *testing.T) {
	a := newTestApp(t, booksByID(nil), failingStore{}, lenientPolicy)
	if _, err := a.GetUserCatalog(context.Background(), "u-1"); err == nil {
		t.Fatalf("expected store error")
	}
	if _, err := a.GetUserCatalog(context.Background(), "  "); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
}

func TestRateBookValidation(t *testing.T) {
	a := newTestApp(t, booksByID(nil), nil, lenientPolicy)
	cases := []struct {
		user   string
		rating domain.Rating
		want   error
	}{
		{"", domain.Rating{BookID: "1", Rating: 1}, ErrUserRequired},
		{"u-1", domain.Rating{BookID: " ", Rating: 1}, ErrBookRequired},
		{"u-1", domain.Rating{BookID: "1", Rating: -1}, ErrInvalidRating},
		{"u-1", domain.Rating{BookID: "1", Rating: MaxRating + 1}, ErrInvalidRating},
		{"u-1", domain.Rating{BookID: "1", Rating: MaxRating}, nil},
	}
	for _, tc := range cases {
		_, err := a.RateBook(tc.user, tc.rating)
		if !errors.Is(err, tc.want) {
			t.Fatalf("RateBook(%q, %+v) err = %v, want %v", tc.user, tc.rating, err, tc.want)
		}
	}
	if _, err := newTestApp(t, booksByID(nil), failingStore{}, lenientPolicy).RateBook("u-1", domain.Rating{BookID: "1", Rating: 1}); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestNewRequiresFetcher(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing fetcher to fail")
	}
}
