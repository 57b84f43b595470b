package storage

import (
	"context"
	"time"
)

// ObjectStore is the blob store export chunks are written to.
type ObjectStore interface {
	// Write encodes records and stores them at keyWithoutExt plus the format's
	// extension, overwriting any existing object.
	Write(ctx context.Context, records Records, keyWithoutExt string, format Format) error

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// ZipByPrefix archives every object under prefix into archiveName and
	// returns the archive's key. Entry names are relative to prefix.
	ZipByPrefix(ctx context.Context, prefix, archiveName string) (string, error)

	// DeleteByPrefix removes every object under prefix and returns how many
	// were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// URLSigner issues time-limited download URLs.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
