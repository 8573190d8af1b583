// Package annotate downloads an artwork image, writes the weather text onto
// it and encodes the result as PNG.
package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"weather-postcard/internal/postcard"
)

// Config configures the annotator.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxImageBytes int64
	Layout        Layout

	// MaxImagePixels caps width*height as declared by the image header.
	MaxImagePixels int64
}

// Annotator implements the annotate step of the annotate-and-store stage.
type Annotator struct {
	httpClient    *http.Client
	userAgent     string
	maxImageBytes int64
	maxPixels     int64
	renderer      *Renderer
	logger        *log.Logger
}

// New builds an Annotator. A nil logger discards output.
func New(cfg Config, logger *log.Logger) (*Annotator, error) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errors.New("annotator user agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("annotator timeout must be positive")
	}
	if cfg.MaxImageBytes <= 0 {
		return nil, errors.New("annotator max image bytes must be positive")
	}
	if cfg.MaxImagePixels <= 0 {
		return nil, errors.New("annotator max image pixels must be positive")
	}
	renderer, err := NewRenderer(cfg.Layout)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Annotator{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		userAgent:     strings.TrimSpace(cfg.UserAgent),
		maxImageBytes: cfg.MaxImageBytes,
		maxPixels:     cfg.MaxImagePixels,
		renderer:      renderer,
		logger:        logger,
	}, nil
}

// Annotate downloads imageURL and renders text onto it. It returns either a
// complete PNG or a *postcard.AnnotateError, never partial output.
func (a *Annotator) Annotate(ctx context.Context, imageURL, text string) ([]byte, error) {
	data, err := a.download(ctx, imageURL)
	if err != nil {
		return nil, &postcard.AnnotateError{Kind: postcard.AnnotateDownloadFailed, URL: imageURL, Err: err}
	}
	out, err := a.AnnotateImage(data, text)
	if err != nil {
		var annotateErr *postcard.AnnotateError
		if errors.As(err, &annotateErr) {
			annotateErr.URL = imageURL
		}
		return nil, err
	}
	a.logger.Printf("image annotated url=%s source_bytes=%d png_bytes=%d", imageURL, len(data), len(out))
	return out, nil
}

// AnnotateImage decodes raw image bytes and renders text onto them. It is a
// pure function of its inputs. Images whose header declares more than the
// configured pixel count are rejected before any pixel data is decoded.
func (a *Annotator) AnnotateImage(data []byte, text string) ([]byte, error) {
	if err := a.checkDimensions(data); err != nil {
		return nil, &postcard.AnnotateError{Kind: postcard.AnnotateDecodeFailed, Err: err}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &postcard.AnnotateError{Kind: postcard.AnnotateDecodeFailed, Err: err}
	}
	out, err := a.renderer.Render(img, text)
	if err != nil {
		return nil, &postcard.AnnotateError{Kind: postcard.AnnotateRenderFailed, Err: err}
	}
	return out, nil
}

func (a *Annotator) checkDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("image has empty dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > a.maxPixels {
		return fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, a.maxPixels)
	}
	return nil
}

func (a *Annotator) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("image host returned status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > a.maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", a.maxImageBytes)
	}
	return data, nil
}
