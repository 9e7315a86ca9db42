package domain

// Rating pairs a book identifier with a caller-supplied score.
type Rating struct {
	BookID string `json:"bookId"`
	Rating int    `json:"rating"`
}

// Book is the record served by the book-info provider.
type Book struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog merges book metadata with a rating score.
type Catalog struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rating      int    `json:"rating"`
}

// UserCatalog is the catalog built from every rating a user has recorded.
type UserCatalog struct {
	UserID string    `json:"userId"`
	Items  []Catalog `json:"items"`
}
