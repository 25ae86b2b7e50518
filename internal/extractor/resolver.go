package extractor

import (
	"context"
	stderrors "errors"

	"github.com/rohankatakam/harvest/internal/models"
	"github.com/rohankatakam/harvest/internal/storage"
)

// AuthorResolver maps committer names to Authors of one source, creating them on first sight.
// Not safe for concurrent use.
type AuthorResolver struct {
	store  storage.Store
	source *models.Source
	cache  map[string]*models.Author
}

func NewAuthorResolver(store storage.Store, source *models.Source) *AuthorResolver {
	return &AuthorResolver{
		store:  store,
		source: source,
		cache:  make(map[string]*models.Author),
	}
}

// Resolve returns the Author named name. email is only recorded when the author is created.
func (r *AuthorResolver) Resolve(ctx context.Context, name, email string) (*models.Author, error) {
	if a, ok := r.cache[name]; ok {
		return a, nil
	}

	author, err := r.store.GetAuthor(ctx, r.source.ID, name)
	if stderrors.Is(err, storage.ErrNotFound) {
		if email == "" {
			email = name
		}
		author = &models.Author{SourceID: r.source.ID, Name: name, Email: email}
		err = r.store.SaveAuthor(ctx, author)
	}
	if err != nil {
		return nil, err
	}

	r.cache[name] = author
	return author, nil
}

// Len returns the number of memoized authors
func (r *AuthorResolver) Len() int {
	return len(r.cache)
}

// ItemResolver maps file paths to Items of one source. Not safe for concurrent use.
type ItemResolver struct {
	store  storage.Store
	source *models.Source
	cache  map[string]*models.Item
}

func NewItemResolver(store storage.Store, source *models.Source) *ItemResolver {
	return &ItemResolver{
		store:  store,
		source: source,
		cache:  make(map[string]*models.Item),
	}
}

// Resolve returns the Item for path, persisting it on first sight
func (r *ItemResolver) Resolve(ctx context.Context, path string) (*models.Item, error) {
	if it, ok := r.cache[path]; ok {
		return it, nil
	}

	item, err := r.store.GetItem(ctx, r.source.ID, path)
	if stderrors.Is(err, storage.ErrNotFound) {
		item = &models.Item{SourceID: r.source.ID, Path: path}
		err = r.store.SaveItem(ctx, item)
	}
	if err != nil {
		return nil, err
	}

	r.cache[path] = item
	return item, nil
}

func (r *ItemResolver) Len() int {
	return len(r.cache)
}
