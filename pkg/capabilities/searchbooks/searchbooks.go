// Package searchbooks exposes book search as a model capability.
package searchbooks

import (
	"context"

	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/go-go-golems/bookchat/pkg/tools"
	"github.com/pkg/errors"
)

const Description = "Search for books based on a query."

// New returns the searchBooks capability backed by searcher.
func New(searcher books.Searcher) (*tools.Capability, error) {
	if searcher == nil {
		return nil, errors.New("searchBooks needs a searcher")
	}
	return tools.NewCapabilityFromFunc(books.SearchCapabilityName, Description,
		func(ctx context.Context, args books.SearchArgs) ([]books.Book, error) {
			return searcher.Search(ctx, args.Query)
		})
}
