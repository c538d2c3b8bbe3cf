package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alarmpipe/alarmpipe/internal/datastore/entities"
)

type documentRepository struct {
	db         *gorm.DB
	collection string
}

// NewDocumentRepository returns a repository scoped to collection.
func NewDocumentRepository(db *gorm.DB, collection string) DocumentRepository {
	return &documentRepository{db: db, collection: collection}
}

func (r *documentRepository) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Where("collection = ?", r.collection)
}

func (r *documentRepository) Index(ctx context.Context, id string, body []byte) error {
	if id == "" {
		return fmt.Errorf("failed to index %s document: missing id", r.collection)
	}
	doc := &entities.Document{Collection: r.collection, ID: id, Body: string(body)}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("failed to index %s document %q: %w", r.collection, id, err)
	}
	return nil
}

// Get returns ErrDocumentNotFound if the id is unknown.
func (r *documentRepository) Get(ctx context.Context, id string) (*entities.Document, error) {
	var doc entities.Document
	if err := r.scoped(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get %s document %q: %w", r.collection, id, err)
	}
	return &doc, nil
}

func (r *documentRepository) Delete(ctx context.Context, id string) error {
	result := r.scoped(ctx).Where("id = ?", id).Delete(&entities.Document{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete %s document %q: %w", r.collection, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// List returns documents ordered by id.
func (r *documentRepository) List(ctx context.Context, filter DocumentFilter) ([]entities.Document, error) {
	var docs []entities.Document
	query := r.scoped(ctx)
	if !filter.UpdatedSince.IsZero() {
		query = query.Where("updated_at >= ?", filter.UpdatedSince)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Order("id ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s documents: %w", r.collection, err)
	}
	return docs, nil
}

func (r *documentRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.scoped(ctx).Where("updated_at < ?", before).Delete(&entities.Document{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete %s documents before %v: %w", r.collection, before, result.Error)
	}
	return result.RowsAffected, nil
}
