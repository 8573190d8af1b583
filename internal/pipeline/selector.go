// Package pipeline implements the fan-out stage: picking the configured
// regions from the weather feed, pairing them with one artwork image and
// turning one client identifier into a fixed number of sub-jobs.
package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"weather-postcard/internal/postcard"
	"weather-postcard/internal/source"
)

// RegionSpec picks one measurement from the weather feed, either by its
// position in the measurement list or by region name.
type RegionSpec struct {
	Index int
	Name  string
}

func (s RegionSpec) String() string {
	if s.Name != "" {
		return "name:" + s.Name
	}
	return strconv.Itoa(s.Index)
}

// ParseRegionSpecs parses entries such as "13" or "name:Utrecht".
func ParseRegionSpecs(raw []string) ([]RegionSpec, error) {
	specs := make([]RegionSpec, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if name, ok := strings.CutPrefix(entry, "name:"); ok {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("region entry %q has an empty name", entry)
			}
			specs = append(specs, RegionSpec{Name: name})
			continue
		}
		index, err := strconv.Atoi(entry)
		if err != nil {
			return nil, fmt.Errorf("region entry %q must be an index or name:<region>: %w", entry, err)
		}
		if index < 0 {
			return nil, fmt.Errorf("region index %d must be >= 0", index)
		}
		specs = append(specs, RegionSpec{Index: index})
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one region must be configured")
	}
	return specs, nil
}

// Selector reads the configured regions and the artwork to pair them with.
// It is deterministic: identical inputs give identical selections.
type Selector struct {
	regions []RegionSpec
}

// NewSelector returns a Selector for the given region list.
func NewSelector(regions []RegionSpec) (*Selector, error) {
	if len(regions) == 0 {
		return nil, errors.New("at least one region must be configured")
	}
	for _, r := range regions {
		if r.Name == "" && r.Index < 0 {
			return nil, fmt.Errorf("region index %d must be >= 0", r.Index)
		}
	}
	return &Selector{regions: append([]RegionSpec(nil), regions...)}, nil
}

// Count is the number of sub-jobs every successful fan-out produces.
func (s *Selector) Count() int {
	return len(s.regions)
}

// Regions reads name and temperature for every configured region, in
// configuration order.
func (s *Selector) Regions(weather source.WeatherResponse) ([]postcard.RegionWeather, error) {
	measurements := weather.Measurements()
	out := make([]postcard.RegionWeather, 0, len(s.regions))
	for _, spec := range s.regions {
		m, ok := lookup(measurements, spec)
		if !ok {
			return nil, &postcard.SelectionError{
				Kind:      postcard.SelectionOutOfRange,
				Region:    spec.String(),
				Available: len(measurements),
			}
		}
		out = append(out, postcard.RegionWeather{Name: m.Region, Temperature: m.Temperature})
	}
	return out, nil
}

// Select returns the configured regions and the first artwork result that
// carries an image.
func (s *Selector) Select(weather source.WeatherResponse, artwork source.ArtworkResponse) ([]postcard.RegionWeather, postcard.ArtworkReference, error) {
	regions, err := s.Regions(weather)
	if err != nil {
		return nil, postcard.ArtworkReference{}, err
	}
	if artwork.Config == nil {
		return nil, postcard.ArtworkReference{}, &postcard.SelectionError{Kind: postcard.SelectionNoArtwork}
	}
	for _, record := range artwork.Data {
		if strings.TrimSpace(record.ImageID) == "" {
			continue
		}
		return regions, postcard.ArtworkReference{BaseURL: artwork.Config.IIIFURL, ImageID: record.ImageID}, nil
	}
	return nil, postcard.ArtworkReference{}, &postcard.SelectionError{Kind: postcard.SelectionNoArtwork}
}

func lookup(measurements []source.StationMeasurement, spec RegionSpec) (source.StationMeasurement, bool) {
	if spec.Name != "" {
		for _, m := range measurements {
			if strings.EqualFold(m.Region, spec.Name) {
				return m, true
			}
		}
		return source.StationMeasurement{}, false
	}
	if spec.Index < 0 || spec.Index >= len(measurements) {
		return source.StationMeasurement{}, false
	}
	return measurements[spec.Index], true
}
