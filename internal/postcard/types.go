// Package postcard holds the data model shared by every pipeline stage: the
// client identifier, the per-region weather reading, the artwork reference,
// the fan-out sub-job and the signed retrieval link.
package postcard

import (
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// MinClientIDLength is the shortest identifier that can name a storage container.
const MinClientIDLength = 3

// TooShort reports whether id has fewer than MinClientIDLength characters.
func TooShort(id string) bool {
	return utf8.RuneCountInString(id) < MinClientIDLength
}

// RegionWeather is one region's reading taken from the weather source.
type RegionWeather struct {
	Name        string
	Temperature float64
}

// Text renders the overlay text for the region, e.g. "North: 10.5".
func (r RegionWeather) Text() string {
	return r.Name + ": " + FormatTemperature(r.Temperature)
}

// ArtworkReference is enough to build the fully-qualified artwork image URL.
type ArtworkReference struct {
	BaseURL string
	ImageID string
}

// URL returns the provider image URL for the reference.
func (a ArtworkReference) URL() string {
	return ImageURL(a.BaseURL, a.ImageID)
}

// SubJob is one unit of annotate-and-store work emitted by the fan-out stage.
type SubJob struct {
	ClientID    string `json:"client_id"`
	WeatherText string `json:"weather_text"`
	ImageURL    string `json:"image_url"`
}

// SignedURL is a time-limited read link to one stored image.
type SignedURL struct {
	ObjectName string    `json:"object_name"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ImageURL builds the IIIF image URL expected by the artwork provider.
func ImageURL(baseURL, imageID string) string {
	return fmt.Sprintf("%s/%s/full/843,/0/default.jpg", baseURL, imageID)
}

// FormatTemperature prints whole degrees with one decimal ("12.0") and keeps
// the shortest exact form otherwise ("9.8", "-0.25").
func FormatTemperature(t float64) string {
	if !math.IsInf(t, 0) && !math.IsNaN(t) && t == math.Trunc(t) {
		return strconv.FormatFloat(t, 'f', 1, 64)
	}
	return strconv.FormatFloat(t, 'f', -1, 64)
}
