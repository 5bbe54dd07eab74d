// Package catalog is a thin client over the Open Library JSON API. It
// normalizes upstream records into fixed shapes and substitutes defaults for
// anything missing, so callers only ever see values or well-known errors.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookshelf/internal/models"
)

const (
	DefaultBaseURL   = "https://openlibrary.org"
	DefaultCoversURL = "https://covers.openlibrary.org"
	PlaceholderCover = "https://via.placeholder.com/150x200?text=No+Cover"
	DefaultTimeout   = 5 * time.Second

	// WorkKeyPrefix precedes the OLID in a catalog work key
	WorkKeyPrefix = "/works/"

	resultLimit   = 10
	trendingQuery = "Trending"
	maxBodyBytes  = 4 << 20
)

// ErrNotFound is returned when the catalog has no record for a key
var ErrNotFound = errors.New("catalog: not found")

// Config configures a Client
type Config struct {
	BaseURL   string
	CoversURL string
	Timeout   time.Duration
}

// Client issues lookups against the catalog service
type Client struct {
	http      *http.Client
	baseURL   string
	coversURL string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates a catalog client. Zero config fields fall back to defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CoversURL == "" {
		cfg.CoversURL = DefaultCoversURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		coversURL: strings.TrimRight(cfg.CoversURL, "/"),
		logger:    logger,
		tracer:    otel.Tracer("bookshelf/internal/catalog"),
	}
}

// WorkID extracts the OLID from a work key such as "/works/OL1W".
// It returns false when the key carries no id after the prefix.
func WorkID(workKey string) (string, bool) {
	_, id, found := strings.Cut(workKey, WorkKeyPrefix)
	id = strings.Trim(id, "/")
	if !found || id == "" {
		return "", false
	}
	return id, true
}

func (c *Client) coverURL(id int64, size string) string {
	return fmt.Sprintf("%s/b/id/%d-%s.jpg", c.coversURL, id, size)
}

// getJSON fetches path and returns the raw body. 404 maps to ErrNotFound;
// every other failure is wrapped in models.ErrUpstreamUnavailable.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %d", models.ErrUpstreamUnavailable, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrUpstreamUnavailable, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", models.ErrUpstreamUnavailable, path)
	}
	return body, nil
}

// textOr unwraps either a plain string or a {"value": "..."} object
func textOr(r gjson.Result, fallback string) string {
	if r.IsObject() {
		r = r.Get("value")
	}
	if r.Type == gjson.String && r.String() != "" {
		return r.String()
	}
	return fallback
}

func stringOr(r gjson.Result, fallback string) string {
	if !r.Exists() || r.Type == gjson.Null {
		return fallback
	}
	if s := r.String(); s != "" {
		return s
	}
	return fallback
}

// names flattens a list of strings or {"name": ...} objects
func names(r gjson.Result) []string {
	out := make([]string, 0)
	for _, item := range r.Array() {
		if item.IsObject() {
			item = item.Get("name")
		}
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Search returns up to ten works matching query
func (c *Client) Search(ctx context.Context, query string) ([]BookSummary, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.Search", trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	body, err := c.getJSON(ctx, "/search.json", url.Values{"q": {query}})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("Catalog search failed", zap.String("query", query), zap.Error(err))
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: search endpoint not found", models.ErrUpstreamUnavailable)
		}
		return nil, err
	}

	docs := gjson.GetBytes(body, "docs").Array()
	if len(docs) > resultLimit {
		docs = docs[:resultLimit]
	}

	books := make([]BookSummary, 0, len(docs))
	for _, doc := range docs {
		image := PlaceholderCover
		if cover := doc.Get("cover_i"); cover.Exists() && cover.Int() > 0 {
			image = c.coverURL(cover.Int(), "M")
		}
		books = append(books, BookSummary{
			Title:            stringOr(doc.Get("title"), NotAvailable),
			AuthorName:       stringOr(doc.Get("author_name.0"), NotAvailable),
			FirstPublishYear: stringOr(doc.Get("first_publish_year"), NotAvailable),
			OpenLibraryKey:   stringOr(doc.Get("key"), NotAvailable),
			ImageURL:         image,
		})
	}
	return books, nil
}

// Trending returns the default browse listing
func (c *Client) Trending(ctx context.Context) ([]BookSummary, error) {
	return c.Search(ctx, trendingQuery)
}

// FetchWorkDetail loads a work and resolves its authors concurrently. A
// failed author lookup yields a placeholder author rather than an error.
func (c *Client) FetchWorkDetail(ctx context.Context, workKey string) (BookDetail, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.FetchWorkDetail", trace.WithAttributes(attribute.String("work_key", workKey)))
	defer span.End()

	workID, ok := WorkID(workKey)
	if !ok {
		return BookDetail{}, ErrNotFound
	}
	key := WorkKeyPrefix + workID

	body, err := c.getJSON(ctx, key+".json", nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error("Failed to fetch work", zap.String("work_key", key), zap.Error(err))
		}
		return BookDetail{}, err
	}
	work := gjson.ParseBytes(body)

	authorKeys := work.Get("authors.#.author.key").Array()
	authors := make([]Author, len(authorKeys))

	var g errgroup.Group
	for i, ak := range authorKeys {
		g.Go(func() error {
			authors[i] = c.fetchAuthor(ctx, ak.String())
			return nil
		})
	}
	_ = g.Wait()

	covers := make([]string, 0)
	for _, id := range work.Get("covers").Array() {
		if id.Int() > 0 {
			covers = append(covers, c.coverURL(id.Int(), "L"))
		}
	}

	detail := BookDetail{
		OpenLibraryKey: key,
		Title:          stringOr(work.Get("title"), NotAvailable),
		AuthorName:     NotAvailable,
		ImageURL:       PlaceholderCover,
		Work: Work{
			Title:            stringOr(work.Get("title"), NotAvailable),
			Description:      textOr(work.Get("description"), "No description available"),
			Subjects:         names(work.Get("subjects")),
			FirstPublishDate: stringOr(work.Get("first_publish_date"), "Unknown"),
			Covers:           covers,
		},
		Authors: authors,
	}
	if len(authors) > 0 {
		detail.AuthorName = authors[0].Name
	}
	if first := work.Get("covers.0"); first.Int() > 0 {
		detail.ImageURL = c.coverURL(first.Int(), "M")
	}
	return detail, nil
}

func (c *Client) fetchAuthor(ctx context.Context, authorKey string) Author {
	if authorKey == "" {
		return placeholderAuthor()
	}
	body, err := c.getJSON(ctx, authorKey+".json", nil)
	if err != nil {
		c.logger.Warn("Could not fetch author details", zap.String("author_key", authorKey), zap.Error(err))
		return placeholderAuthor()
	}
	a := gjson.ParseBytes(body)
	return Author{
		Name:      stringOr(a.Get("name"), NotAvailable),
		Bio:       textOr(a.Get("bio"), "No bio available"),
		BirthDate: stringOr(a.Get("birth_date"), "Unknown"),
		DeathDate: stringOr(a.Get("death_date"), "Unknown"),
	}
}

// FetchBibliographicData looks up the bibkeys record for an OLID. The bool
// is false when nothing usable came back (error, timeout or missing record).
func (c *Client) FetchBibliographicData(ctx context.Context, olid string) (Enrichment, bool) {
	ctx, span := c.tracer.Start(ctx, "catalog.FetchBibliographicData", trace.WithAttributes(attribute.String("olid", olid)))
	defer span.End()

	bibkey := "OLID:" + olid
	body, err := c.getJSON(ctx, "/api/books", url.Values{
		"bibkeys": {bibkey},
		"format":  {"json"},
		"jscmd":   {"data"},
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Failed to fetch bibliographic data", zap.String("olid", olid), zap.Error(err))
		return DefaultEnrichment(), false
	}

	record, ok := gjson.ParseBytes(body).Map()[bibkey]
	if !ok || !record.IsObject() {
		return DefaultEnrichment(), false
	}
	source := record
	if details := record.Get("details"); details.IsObject() {
		source = details
	}

	e := DefaultEnrichment()
	e.Description = textOr(source.Get("description"), NotAvailable)
	if excerpts := source.Get("excerpts.#.text").Array(); len(excerpts) > 0 {
		texts := make([]string, 0, len(excerpts))
		for _, x := range excerpts {
			texts = append(texts, x.String())
		}
		e.Excerpts = strings.Join(texts, "\n\n")
	}
	if pages := source.Get("number_of_pages"); pages.Type == gjson.Number {
		e.NumberOfPages = strconv.FormatInt(pages.Int(), 10)
	}
	e.ISBN10 = firstOf(source, "isbn_10", "identifiers.isbn_10")
	e.ISBN13 = firstOf(source, "isbn_13", "identifiers.isbn_13")
	e.Subjects = names(source.Get("subjects"))
	e.PublishDate = stringOr(source.Get("publish_date"), NotAvailable)
	return e, true
}

// firstOf returns the first element of the first non-empty array among paths
func firstOf(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p + ".0"); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return NotAvailable
}
