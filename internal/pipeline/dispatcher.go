package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"weather-postcard/internal/postcard"
	"weather-postcard/internal/source"
)

// ContainerEnsurer creates a client's storage container when it is missing.
type ContainerEnsurer interface {
	EnsureContainer(ctx context.Context, clientID string) error
}

// DataSource fetches the weather feed and searches artwork.
type DataSource interface {
	FetchWeather(ctx context.Context) (source.WeatherResponse, error)
	SearchArtwork(ctx context.Context, term string) (source.ArtworkResponse, error)
}

// Dispatcher turns one client identifier into one sub-job per configured region.
type Dispatcher struct {
	containers ContainerEnsurer
	source     DataSource
	selector   *Selector
	logger     *log.Logger
}

// NewDispatcher wires a Dispatcher. A nil logger discards output.
func NewDispatcher(containers ContainerEnsurer, src DataSource, selector *Selector, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{containers: containers, source: src, selector: selector, logger: logger}
}

// Dispatch ensures the client's container, fetches weather, searches artwork
// with the first region's name and returns exactly Count() sub-jobs sharing
// one image URL. On any failure it returns a *postcard.DispatchError and no
// sub-jobs. Repeated calls for the same client fetch fresh data each time.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string) ([]postcard.SubJob, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, &postcard.DispatchError{Step: "validate", Err: errors.New("client id is required")}
	}

	if err := d.containers.EnsureContainer(ctx, clientID); err != nil {
		return nil, &postcard.DispatchError{ClientID: clientID, Step: "ensure_container", Err: err}
	}

	weather, err := d.source.FetchWeather(ctx)
	if err != nil {
		return nil, &postcard.DispatchError{ClientID: clientID, Step: "fetch_weather", Err: err}
	}

	regions, err := d.selector.Regions(weather)
	if err != nil {
		return nil, &postcard.DispatchError{ClientID: clientID, Step: "select_regions", Err: err}
	}

	searchTerm := regions[0].Name
	d.logger.Printf("fanout artwork search client_id=%s term=%q", clientID, searchTerm)
	artwork, err := d.source.SearchArtwork(ctx, searchTerm)
	if err != nil {
		return nil, &postcard.DispatchError{ClientID: clientID, Step: "search_artwork", Err: err}
	}

	regions, ref, err := d.selector.Select(weather, artwork)
	if err != nil {
		return nil, &postcard.DispatchError{ClientID: clientID, Step: "select_artwork", Err: err}
	}

	imageURL := ref.URL()
	jobs := make([]postcard.SubJob, 0, len(regions))
	for _, region := range regions {
		jobs = append(jobs, postcard.SubJob{
			ClientID:    clientID,
			WeatherText: region.Text(),
			ImageURL:    imageURL,
		})
	}

	d.logger.Printf("fanout built client_id=%s sub_jobs=%d image_url=%s", clientID, len(jobs), imageURL)
	return jobs, nil
}
