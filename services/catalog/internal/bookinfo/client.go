package bookinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookcatalog/internal/servicetoken"
	"bookcatalog/internal/util"
	"bookcatalog/pkg/domain"
)

const (
	// DefaultTimeout bounds a single book-info round trip.
	DefaultTimeout = 2 * time.Second
	// Audience is the internal token audience expected by the book-info service.
	Audience = "book-info"

	maxBodyBytes = 1 << 20
)

// ErrMalformedBody marks a 2xx response whose body is not a book payload.
var ErrMalformedBody = errors.New("malformed book payload")

// Client calls the book-info service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *servicetoken.Signer
}

// APIError represents a non-2xx book-info response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("book-info %d: %s", e.Status, e.Message)
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithSigner attaches an internal service token to every request.
func WithSigner(s *servicetoken.Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// NewClient constructs a book-info client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBook reads /books/{id}. The id is appended to the path as-is.
func (c *Client) FetchBook(ctx context.Context, id string) (domain.Book, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/books/"+id, nil)
	if err != nil {
		return domain.Book{}, err
	}
	req.Header.Set("Accept", "application/json")
	if requestID := util.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if c.signer != nil {
		token, err := c.signer.Sign(Audience)
		if err != nil {
			return domain.Book{}, fmt.Errorf("sign internal token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Book{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return domain.Book{}, &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}

	var book *domain.Book
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&book); err != nil {
		return domain.Book{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if book == nil {
		return domain.Book{}, fmt.Errorf("%w: null body", ErrMalformedBody)
	}
	return *book, nil
}
