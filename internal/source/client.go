// Package source fetches the two external data sources the fan-out stage
// depends on: the weather measurement feed and the artwork search API.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"weather-postcard/internal/postcard"
)

// artworkFields limits the artwork search response to what the selector reads.
const artworkFields = "id,title,image_id"

// Document is a decoded provider response that can check its own shape.
type Document interface {
	Validate() error
}

// Config configures the data source client.
type Config struct {
	// UserAgent identifies this service; some providers answer 403 without it.
	UserAgent        string
	Timeout          time.Duration
	WeatherURL       string
	ArtworkSearchURL string
}

// Client performs single-shot JSON fetches. It never retries; the calling
// stage fails and the queue redelivers.
type Client struct {
	httpClient       *http.Client
	userAgent        string
	weatherURL       string
	artworkSearchURL string
	logger           *log.Logger
}

// NewClient validates cfg and builds a client with a bounded HTTP timeout.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errors.New("data source user agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("data source timeout must be positive")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		userAgent:        strings.TrimSpace(cfg.UserAgent),
		weatherURL:       cfg.WeatherURL,
		artworkSearchURL: cfg.ArtworkSearchURL,
		logger:           logger,
	}, nil
}

// FetchWeather reads the current weather measurement feed.
func (c *Client) FetchWeather(ctx context.Context) (WeatherResponse, error) {
	var resp WeatherResponse
	if err := c.Fetch(ctx, c.weatherURL, nil, &resp); err != nil {
		return WeatherResponse{}, err
	}
	return resp, nil
}

// SearchArtwork runs a full-text artwork search for term.
func (c *Client) SearchArtwork(ctx context.Context, term string) (ArtworkResponse, error) {
	endpoint, err := url.Parse(c.artworkSearchURL)
	if err != nil {
		return ArtworkResponse{}, &postcard.FetchError{Kind: postcard.FetchUnreachable, URL: c.artworkSearchURL, Err: err}
	}
	q := endpoint.Query()
	q.Set("q", term)
	q.Set("fields", artworkFields)
	endpoint.RawQuery = q.Encode()

	var resp ArtworkResponse
	if err := c.Fetch(ctx, endpoint.String(), nil, &resp); err != nil {
		return ArtworkResponse{}, err
	}
	return resp, nil
}

// Fetch GETs rawURL with headers plus the identifying User-Agent, decodes the
// JSON body into dst and validates it. Transport failures and non-2xx answers
// are FetchUnreachable; undecodable or wrongly shaped bodies are FetchMalformed.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers http.Header, dst Document) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &postcard.FetchError{Kind: postcard.FetchUnreachable, URL: rawURL, Err: err}
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	startedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("data source request failed url=%s err=%v", rawURL, err)
		return &postcard.FetchError{Kind: postcard.FetchUnreachable, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Printf("data source returned status=%d url=%s", resp.StatusCode, rawURL)
		return &postcard.FetchError{
			Kind:   postcard.FetchUnreachable,
			URL:    rawURL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("body=%q", strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &postcard.FetchError{Kind: postcard.FetchMalformed, URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	if err := dst.Validate(); err != nil {
		return &postcard.FetchError{Kind: postcard.FetchMalformed, URL: rawURL, Status: resp.StatusCode, Err: err}
	}

	c.logger.Printf("data source fetched url=%s status=%d duration=%s", rawURL, resp.StatusCode, time.Since(startedAt))
	return nil
}
