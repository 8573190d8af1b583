// Package envconfig reads typed settings from the process environment,
// optionally seeded from a .env file.
package envconfig

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv merges the given .env files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(logger *log.Logger, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		err := godotenv.Load(file)
		if err == nil {
			logger.Printf("env file loaded path=%s", file)
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			logger.Printf("env file not found path=%s; reading from environment", file)
			continue
		}
		return fmt.Errorf("load env file %s: %w", file, err)
	}
	return nil
}

// Reader resolves settings and logs every default it falls back to.
type Reader struct {
	logger *log.Logger
	lookup func(string) string
}

// New returns a Reader over os.Getenv. A nil logger discards output.
func New(logger *log.Logger) *Reader {
	return newReader(logger, os.Getenv)
}

func newReader(logger *log.Logger, lookup func(string) string) *Reader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reader{logger: logger, lookup: lookup}
}

func (r *Reader) raw(key string) string {
	return strings.TrimSpace(r.lookup(key))
}

// String returns an environment variable value or fallback if empty.
func (r *Reader) String(key, fallback string) string {
	value := r.raw(key)
	if value == "" {
		r.logger.Printf("env %s not set; using default=%q", key, fallback)
		return fallback
	}
	return value
}

// Optional returns the trimmed value without logging, for secrets and
// settings whose absence is meaningful.
func (r *Reader) Optional(key string) string {
	return r.raw(key)
}

// CSV parses a comma-delimited environment variable into a string slice.
func (r *Reader) CSV(key string, fallback []string) []string {
	raw := r.raw(key)
	if raw == "" {
		r.logger.Printf("env %s not set; using default list=%v", key, fallback)
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		r.logger.Printf("env %s parsed empty list; using fallback=%v", key, fallback)
		return fallback
	}
	return out
}

// Int parses an integer environment variable with fallback.
func (r *Reader) Int(key string, fallback int) (int, error) {
	raw := r.raw(key)
	if raw == "" {
		r.logger.Printf("env %s not set; using default int=%d", key, fallback)
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.logger.Printf("env %s invalid int value=%q err=%v", key, raw, err)
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}

// PositiveInt is Int with a lower bound of 1.
func (r *Reader) PositiveInt(key string, fallback int) (int, error) {
	value, err := r.Int(key, fallback)
	if err != nil {
		return 0, err
	}
	if value < 1 {
		return 0, fmt.Errorf("%s must be >= 1", key)
	}
	return value, nil
}

// Int64 parses a 64-bit integer environment variable with fallback.
func (r *Reader) Int64(key string, fallback int64) (int64, error) {
	raw := r.raw(key)
	if raw == "" {
		r.logger.Printf("env %s not set; using default int=%d", key, fallback)
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.logger.Printf("env %s invalid int value=%q err=%v", key, raw, err)
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}

// Duration parses a duration environment variable with fallback.
func (r *Reader) Duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := r.raw(key)
	if raw == "" {
		r.logger.Printf("env %s not set; using default duration=%s", key, fallback)
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.logger.Printf("env %s invalid duration value=%q err=%v", key, raw, err)
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return value, nil
}

// Bool parses a boolean environment variable with fallback.
func (r *Reader) Bool(key string, fallback bool) (bool, error) {
	raw := r.raw(key)
	if raw == "" {
		r.logger.Printf("env %s not set; using default bool=%t", key, fallback)
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.logger.Printf("env %s invalid bool value=%q err=%v", key, raw, err)
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return value, nil
}
