// Package regulation talks to the regulation.gov.ru public listing API.
package regulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"npa-monitor/pkg/npa"
)

const (
	// DefaultEndpoint is the public filtered listing of draft regulations.
	DefaultEndpoint = "https://regulation.gov.ru/api/public/PublicProjects/GetFiltered"
	// DefaultPageSize is the page size the listing API is queried with.
	DefaultPageSize = 20
	// DefaultRequestTimeout bounds one page request.
	DefaultRequestTimeout = 15 * time.Second
	// DefaultUserAgent mimics a desktop browser; the API rejects bare clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:147.0) Gecko/20100101 Firefox/147.0"

	maxResponseBytes = 32 << 20
)

var orderedFields = []string{
	"title",
	"developedDepartment",
	"projectId",
	"projectType",
	"creationDate",
	"publicationDate",
	"stage",
	"status",
	"procedure",
}

// ErrUnexpectedStatus reports a non-200 listing response.
var ErrUnexpectedStatus = errors.New("regulation: unexpected response status")

// PageResult classifies one page request for metrics.
type PageResult string

const (
	// PageOK means the page returned at least one filing.
	PageOK PageResult = "ok"
	// PageEmpty means the page was valid but empty.
	PageEmpty PageResult = "empty"
	// PageFailed means the request or decoding failed.
	PageFailed PageResult = "failed"
)

// Recorder receives bulk fetch activity.
type Recorder interface {
	RecordFetchPage(result PageResult)
	RecordFetchDuration(elapsed time.Duration)
}

// Option mutates client configuration.
type Option func(*Client)

// WithEndpoint overrides the listing URL.
func WithEndpoint(endpoint string) Option {
	return func(client *Client) {
		if endpoint != "" {
			client.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets the HTTP client used for page requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithPageSize sets the number of filings requested per page.
func WithPageSize(pageSize int) Option {
	return func(client *Client) {
		if pageSize > 0 {
			client.pageSize = pageSize
		}
	}
}

// WithRequestTimeout bounds each page request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.requestTimeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(client *Client) {
		if userAgent != "" {
			client.userAgent = userAgent
		}
	}
}

// WithLocation sets the zone used to read upstream timestamps without an offset.
func WithLocation(location *time.Location) Option {
	return func(client *Client) {
		if location != nil {
			client.location = location
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithRecorder reports page results and fetch durations to recorder.
func WithRecorder(recorder Recorder) Option {
	return func(client *Client) {
		client.recorder = recorder
	}
}

// Client pages through the listing API.
type Client struct {
	endpoint       string
	httpClient     *http.Client
	pageSize       int
	requestTimeout time.Duration
	userAgent      string
	location       *time.Location
	logger         *slog.Logger
	recorder       Recorder
}

// NewClient creates a listing client.
func NewClient(options ...Option) *Client {
	client := &Client{
		endpoint:       DefaultEndpoint,
		httpClient:     http.DefaultClient,
		pageSize:       DefaultPageSize,
		requestTimeout: DefaultRequestTimeout,
		userAgent:      DefaultUserAgent,
		location:       npa.PublicationZone,
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(client)
	}

	return client
}

type listRequest struct {
	ListParams    listParams `json:"listParams"`
	OrderedFields []string   `json:"orderedFields"`
}

type listParams struct {
	FilterModel filterModel `json:"filterModel"`
}

type filterModel struct {
	Filters  string `json:"filters"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

type listResponse struct {
	Result []rawFiling `json:"result"`
}

// FetchPage requests one 1-based page and returns its validated filings.
// Items that cannot be identified are dropped.
func (c *Client) FetchPage(ctx context.Context, page int) ([]npa.Filing, error) {
	filings, _, err := c.fetchPage(ctx, page)

	return filings, err
}

// fetchPage also reports how many raw items the page carried, valid or not.
func (c *Client) fetchPage(ctx context.Context, page int) ([]npa.Filing, int, error) {
	if ctx == nil {
		return nil, 0, fmt.Errorf("fetch page %d: nil context", page)
	}
	if page < 1 {
		return nil, 0, fmt.Errorf("fetch page %d: page must be >= 1", page)
	}

	body, err := json.Marshal(listRequest{
		ListParams: listParams{
			FilterModel: filterModel{Page: page, PageSize: c.pageSize},
		},
		OrderedFields: orderedFields,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d: marshal request: %w", page, err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d: build request: %w", page, err)
	}
	c.setHeaders(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d: %w", page, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch page %d: %w: %d", page, ErrUnexpectedStatus, response.StatusCode)
	}

	var decoded listResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, 0, fmt.Errorf("fetch page %d: decode response: %w", page, err)
	}

	filings := make([]npa.Filing, 0, len(decoded.Result))
	for index, raw := range decoded.Result {
		filing, err := raw.toFiling(c.location)
		if err != nil {
			c.logger.WarnContext(ctx, "skip malformed filing",
				"page", page,
				"index", index,
				"error", err,
			)
			continue
		}
		filings = append(filings, filing)
	}

	return filings, len(decoded.Result), nil
}

// FetchAll requests pages 1..maxPages, stopping at the first page without
// items or the first failed page. A page whose items are all malformed does
// not end pagination. A failed page ends pagination and keeps what was already collected.
// Filings repeated across pages collapse by ID, the last occurrence winning
// while the position of the first occurrence is kept.
//
// The returned error only reports invalid arguments; an upstream outage
// yields an empty result.
func (c *Client) FetchAll(ctx context.Context, maxPages int) ([]npa.Filing, error) {
	if ctx == nil {
		return nil, fmt.Errorf("fetch all: nil context")
	}
	if maxPages < 1 {
		return nil, fmt.Errorf("fetch all: max pages must be >= 1, got %d", maxPages)
	}

	startedAt := time.Now()
	var collected []npa.Filing
	pages := 0
	for page := 1; page <= maxPages; page++ {
		filings, items, err := c.fetchPage(ctx, page)
		if err != nil {
			c.recordPage(PageFailed)
			c.logger.ErrorContext(ctx, "listing page failed",
				"page", page,
				"collected", len(collected),
				"error", err,
			)
			break
		}
		if items == 0 {
			c.recordPage(PageEmpty)
			c.logger.InfoContext(ctx, "listing exhausted", "page", page)
			break
		}

		c.recordPage(PageOK)
		pages++
		collected = append(collected, filings...)
		c.logger.DebugContext(ctx, "listing page fetched",
			"page", page,
			"page_items", len(filings),
			"collected", len(collected),
		)
	}

	unique := Dedup(collected)
	elapsed := time.Since(startedAt)
	if c.recorder != nil {
		c.recorder.RecordFetchDuration(elapsed)
	}
	c.logger.InfoContext(ctx, "listing fetched",
		"pages", pages,
		"filings", len(unique),
		"duplicates", len(collected)-len(unique),
		"duration", elapsed,
	)

	return unique, nil
}

// Dedup collapses filings sharing an ID. The last occurrence wins and takes
// the position of the first.
func Dedup(filings []npa.Filing) []npa.Filing {
	if len(filings) == 0 {
		return nil
	}

	positions := make(map[string]int, len(filings))
	unique := make([]npa.Filing, 0, len(filings))
	for _, filing := range filings {
		if position, exists := positions[filing.ID]; exists {
			unique[position] = filing
			continue
		}
		positions[filing.ID] = len(unique)
		unique = append(unique, filing)
	}

	return unique
}

func (c *Client) setHeaders(request *http.Request) {
	request.Header.Set("User-Agent", c.userAgent)
	request.Header.Set("Accept", "application/json, text/plain, */*")
	request.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Origin", "https://regulation.gov.ru")
	request.Header.Set("Referer", "https://regulation.gov.ru/")
}

func (c *Client) recordPage(result PageResult) {
	if c.recorder != nil {
		c.recorder.RecordFetchPage(result)
	}
}
