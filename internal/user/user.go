// Package user resolves users by their internal and public identifiers.
package user

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when no user matches.
var ErrUserNotFound = errors.New("user not found")

// User is an account. EncodedID is the non-guessable public identifier used in
// storage paths and URLs.
type User struct {
	ID        string
	EncodedID string
	Email     string
	CreatedAt time.Time
}

// Repository defines the interface for user lookups.
type Repository interface {
	// FindByID returns ErrUserNotFound if the user doesn't exist.
	FindByID(ctx context.Context, id string) (*User, error)

	// FindByEncodedID returns ErrUserNotFound if the user doesn't exist.
	FindByEncodedID(ctx context.Context, encodedID string) (*User, error)
}

// Directory adapts a Repository to the lookups the export pipeline needs.
type Directory struct {
	repo Repository
}

// NewDirectory creates a Directory.
func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// UserIDForEncodedID returns the internal id behind encodedID.
func (d *Directory) UserIDForEncodedID(ctx context.Context, encodedID string) (string, error) {
	u, err := d.repo.FindByEncodedID(ctx, encodedID)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// EncodedIDForUserID returns the public identifier of userID.
func (d *Directory) EncodedIDForUserID(ctx context.Context, userID string) (string, error) {
	u, err := d.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.EncodedID, nil
}
