package repository

import (
	"context"
	"errors"
	"time"

	"github.com/alarmpipe/alarmpipe/internal/datastore/entities"
)

// ErrDocumentNotFound is returned by Get and Delete for unknown ids.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository stores JSON documents by id within one collection.
type DocumentRepository interface {
	// Index inserts or replaces the document with the given id.
	Index(ctx context.Context, id string, body []byte) error
	Get(ctx context.Context, id string) (*entities.Document, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter DocumentFilter) ([]entities.Document, error)
	// DeleteBefore removes documents last written before the cutoff.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DocumentFilter controls List queries. Zero values mean no restriction.
type DocumentFilter struct {
	UpdatedSince time.Time
	Limit        int
	Offset       int
}
