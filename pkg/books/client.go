package books

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Searcher finds books for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Book, error)
}

// Grapher fetches the similarity graph of a book.
type Grapher interface {
	Graph(ctx context.Context, bookID string) (*GraphData, error)
}

// Client talks to the book search and graph services over HTTP.
type Client struct {
	SearchURL  string
	GraphURL   string
	HTTPClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.HTTPClient = c
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.HTTPClient = &http.Client{Timeout: d}
	}
}

func NewClient(searchURL, graphURL string, options ...ClientOption) *Client {
	ret := &Client{
		SearchURL:  searchURL,
		GraphURL:   graphURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

type searchRequest struct {
	Question string `json:"question"`
}

type searchResponse struct {
	TopBooks []Book `json:"top_books"`
}

// Search posts the query to the search endpoint and returns its top books.
func (c *Client) Search(ctx context.Context, query string) ([]Book, error) {
	if c.SearchURL == "" {
		return nil, errors.New("book search url is not configured")
	}
	body, err := json.Marshal(searchRequest{Question: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SearchURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build search request")
	}
	req.Header.Set("Content-Type", "application/json")

	var resp searchResponse
	if err := c.do(req, &resp); err != nil {
		return nil, errors.Wrap(err, "search books")
	}
	log.Debug().Str("query", query).Int("books", len(resp.TopBooks)).Msg("book search done")
	if resp.TopBooks == nil {
		resp.TopBooks = []Book{}
	}
	return resp.TopBooks, nil
}

// Graph fetches the similarity graph of bookID.
func (c *Client) Graph(ctx context.Context, bookID string) (*GraphData, error) {
	if c.GraphURL == "" {
		return nil, errors.New("book graph url is not configured")
	}
	u, err := url.Parse(c.GraphURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse graph url")
	}
	q := u.Query()
	q.Set("book_id", bookID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build graph request")
	}
	var g GraphData
	if err := c.do(req, &g); err != nil {
		return nil, errors.Wrapf(err, "fetch graph for book %s", bookID)
	}
	return &g, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

var _ Searcher = (*Client)(nil)
var _ Grapher = (*Client)(nil)
