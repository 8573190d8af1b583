package source

import "errors"

// WeatherResponse is the subset of the weather feed the pipeline reads.
type WeatherResponse struct {
	Actual *WeatherActual `json:"actual"`
}

// WeatherActual holds the current station measurements.
type WeatherActual struct {
	StationMeasurements []StationMeasurement `json:"stationmeasurements"`
}

// StationMeasurement is one station's reading; Region is the display name.
type StationMeasurement struct {
	StationID          int     `json:"stationid"`
	StationName        string  `json:"stationname"`
	Region             string  `json:"regio"`
	Temperature        float64 `json:"temperature"`
	Timestamp          string  `json:"timestamp"`
	WeatherDescription string  `json:"weatherdescription"`
}

// Validate rejects feeds without a measurement list.
func (w *WeatherResponse) Validate() error {
	if w.Actual == nil {
		return errors.New("weather response missing actual block")
	}
	if w.Actual.StationMeasurements == nil {
		return errors.New("weather response missing stationmeasurements")
	}
	return nil
}

// Measurements returns the station list, or nil for an unvalidated response.
func (w WeatherResponse) Measurements() []StationMeasurement {
	if w.Actual == nil {
		return nil
	}
	return w.Actual.StationMeasurements
}

// ArtworkResponse is the subset of the artwork search response the pipeline reads.
type ArtworkResponse struct {
	Pagination *ArtworkPagination `json:"pagination"`
	Data       []ArtworkRecord    `json:"data"`
	Config     *ArtworkConfig     `json:"config"`
}

// ArtworkPagination describes the search result window.
type ArtworkPagination struct {
	Total       int `json:"total"`
	Limit       int `json:"limit"`
	Offset      int `json:"offset"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
}

// ArtworkConfig carries the IIIF image server base URL.
type ArtworkConfig struct {
	IIIFURL    string `json:"iiif_url"`
	WebsiteURL string `json:"website_url"`
}

// ArtworkRecord is one search hit. ImageID is empty for works without an image.
type ArtworkRecord struct {
	ID      int     `json:"id"`
	Title   string  `json:"title"`
	ImageID string  `json:"image_id"`
	Score   float64 `json:"_score"`
}

// Validate rejects responses without the image base URL or a result list.
// An empty result list is valid; the selector reports it.
func (a *ArtworkResponse) Validate() error {
	if a.Config == nil || a.Config.IIIFURL == "" {
		return errors.New("artwork response missing config.iiif_url")
	}
	if a.Data == nil {
		return errors.New("artwork response missing data")
	}
	return nil
}
