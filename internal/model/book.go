package model

import "time"

// Book is a catalog entry. Quantity counts the physical copies the library
// owns, Available the copies that are currently on the shelf.
type Book struct {
	ID              int64      `json:"id"`
	ISBN            string     `json:"isbn"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	Publisher       string     `json:"publisher,omitempty"`
	PublicationYear int        `json:"publication_year,omitempty"`
	Category        string     `json:"category,omitempty"`
	Quantity        int        `json:"quantity"`
	Available       int        `json:"available"`
	Description     string     `json:"description,omitempty"`
	CoverMime       string     `json:"cover_mime,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// OnLoan returns the number of copies currently checked out.
func (b *Book) OnLoan() int {
	return b.Quantity - b.Available
}

// HasCover reports whether a cover image is stored for the book.
func (b *Book) HasCover() bool {
	return b.CoverMime != ""
}

// BookFilter narrows catalog listings.
type BookFilter struct {
	Search        string // matches title, author or ISBN
	Category      string
	AvailableOnly bool
}
