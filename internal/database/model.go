package database

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// HeroImage is the pointer row for a page's banner. At most one row exists
// per page; uploads replace it wholesale.
type HeroImage struct {
	Page       string
	PublicURL  string
	StorageKey string
	Width      int
	Height     int
	FileSize   int64
	UpdatedAt  time.Time
}

type Product struct {
	ID          string
	Slug        string
	Name        string
	Description string
	PriceCents  int64
	ImageURL    string
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}
