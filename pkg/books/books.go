// Package books holds the book-search domain types and an HTTP client for the search
// and similarity-graph endpoints.
package books

import (
	"encoding/json"
	"fmt"
)

// SearchCapabilityName is the capability name the model uses to search books.
const SearchCapabilityName = "searchBooks"

// SearchArgs are the arguments of the search capability.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=The search query."`
}

// Book is one search hit as returned by the search endpoint.
type Book struct {
	BookID   string         `json:"book_id"`
	Metadata map[string]any `json:"metadata"`
}

// Author returns the author field of the metadata, if any.
func (b Book) Author() string { return metadataString(b.Metadata, "author") }

// Title returns the title field of the metadata, if any.
func (b Book) Title() string { return metadataString(b.Metadata, "title") }

func metadataString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Event is the display form of a Book in an event list.
type Event struct {
	BookID   string `json:"book_id"`
	Author   string `json:"author"`
	Title    string `json:"title"`
	Metadata string `json:"metadata"`
}

// EventFromBook converts a Book. Metadata is the JSON encoding of the book metadata.
func EventFromBook(b Book) Event {
	meta := "{}"
	if b.Metadata != nil {
		if s, err := json.Marshal(b.Metadata); err == nil {
			meta = string(s)
		}
	}
	return Event{
		BookID:   b.BookID,
		Author:   b.Author(),
		Title:    b.Title(),
		Metadata: meta,
	}
}

// EventsFromBooks converts books in order.
func EventsFromBooks(bs []Book) []Event {
	ret := make([]Event, 0, len(bs))
	for _, b := range bs {
		ret = append(ret, EventFromBook(b))
	}
	return ret
}

// DecodeBooks decodes a stored search result back into books. The result may be any
// JSON-compatible value, for instance one restored from a snapshot.
func DecodeBooks(result any) ([]Book, error) {
	if bs, ok := result.([]Book); ok {
		return bs, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var ret []Book
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}
