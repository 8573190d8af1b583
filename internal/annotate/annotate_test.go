package annotate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"weather-postcard/internal/postcard"
)

func newTestAnnotator(t *testing.T) *Annotator {
	t.Helper()
	a, err := New(Config{
		UserAgent:      "postcard-test/1.0",
		Timeout:        5 * time.Second,
		MaxImageBytes:  1 << 20,
		MaxImagePixels: 1 << 20,
		Layout:         DefaultLayout,
	}, nil)
	require.NoError(t, err)
	return a
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAnnotateImageIsDeterministic(t *testing.T) {
	t.Parallel()

	a := newTestAnnotator(t)
	src := solidPNG(t, 240, 80, color.NRGBA{R: 20, G: 40, B: 160, A: 255})

	first, err := a.AnnotateImage(src, "Utrecht: 12.0")
	require.NoError(t, err)
	second, err := a.AnnotateImage(src, "Utrecht: 12.0")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, src, first)
}

func TestAnnotateImageDrawsNearTopLeft(t *testing.T) {
	t.Parallel()

	a := newTestAnnotator(t)
	bg := color.NRGBA{R: 20, G: 40, B: 160, A: 255}
	out, err := a.AnnotateImage(solidPNG(t, 240, 80, bg), "Utrecht: 12.0")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 240, 80), img.Bounds())

	var white, black int
	for y := 0; y < 80; y++ {
		for x := 0; x < 240; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			switch {
			case r > 0xf000 && g > 0xf000 && b > 0xf000:
				white++
				assert.GreaterOrEqual(t, x, 9, "fill drawn left of origin")
				assert.GreaterOrEqual(t, y, 9, "fill drawn above origin")
			case r < 0x2000 && g < 0x2000 && b < 0x4000:
				black++
			}
		}
	}
	assert.Positive(t, white, "expected white text fill")
	assert.Positive(t, black, "expected black outline")
}

func TestAnnotateDownloadsWithUserAgent(t *testing.T) {
	t.Parallel()

	src := solidPNG(t, 64, 64, color.White)
	agents := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer server.Close()

	a := newTestAnnotator(t)
	out, err := a.Annotate(context.Background(), server.URL+"/abc/full/843,/0/default.jpg", "Utrecht: 12.0")
	require.NoError(t, err)
	assert.Equal(t, "postcard-test/1.0", <-agents)

	direct, err := a.AnnotateImage(src, "Utrecht: 12.0")
	require.NoError(t, err)
	assert.Equal(t, direct, out)
}

func TestAnnotateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "gone", http.StatusNotFound)
			},
			want: postcard.ErrDownloadFailed,
		},
		{
			name: "not an image",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("definitely not pixels"))
			},
			want: postcard.ErrDecodeFailed,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(bytes.Repeat([]byte{0}, 2<<20))
			},
			want: postcard.ErrDownloadFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			out, err := newTestAnnotator(t).Annotate(context.Background(), server.URL, "x")
			require.Error(t, err)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, tt.want)

			var annotateErr *postcard.AnnotateError
			require.ErrorAs(t, err, &annotateErr)
			assert.Equal(t, server.URL, annotateErr.URL)
		})
	}
}

func TestAnnotateImageRejectsOversizedDimensions(t *testing.T) {
	t.Parallel()

	a, err := New(Config{
		UserAgent:      "postcard-test/1.0",
		Timeout:        5 * time.Second,
		MaxImageBytes:  1 << 20,
		MaxImagePixels: 100 * 100,
		Layout:         DefaultLayout,
	}, nil)
	require.NoError(t, err)

	out, err := a.AnnotateImage(solidPNG(t, 100, 100, color.White), "x")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	// A few hundred bytes of PNG can declare a canvas far beyond the cap.
	out, err = a.AnnotateImage(solidPNG(t, 1000, 11, color.White), "x")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, postcard.ErrDecodeFailed)
	assert.Contains(t, err.Error(), "exceeds 10000 pixels")
}

func TestAnnotateUnreachableHost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestAnnotator(t).Annotate(context.Background(), url, "x")
	assert.ErrorIs(t, err, postcard.ErrDownloadFailed)
}

func TestWrapText(t *testing.T) {
	t.Parallel()

	f, err := opentype.Parse(goregular.TTF)
	require.NoError(t, err)
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 22, DPI: 72, Hinting: font.HintingNone})
	require.NoError(t, err)
	defer face.Close()

	word := font.MeasureString(face, "Utrecht")
	lines := wrapText(face, "Utrecht Utrecht Utrecht", word*2+word/2)
	assert.Equal(t, []string{"Utrecht Utrecht", "Utrecht"}, lines)

	lines = wrapText(face, "first\nsecond", fixed.I(2000))
	assert.Equal(t, []string{"first", "second"}, lines)

	lines = wrapText(face, strings.Repeat("x", 50), fixed.I(10))
	assert.Len(t, lines, 1)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Timeout: time.Second, MaxImageBytes: 1, Layout: DefaultLayout}, nil)
	assert.Error(t, err)

	_, err = New(Config{UserAgent: "ua", MaxImageBytes: 1, Layout: DefaultLayout}, nil)
	assert.Error(t, err)

	_, err = New(Config{UserAgent: "ua", Timeout: time.Second, MaxImageBytes: 1, MaxImagePixels: 1, Layout: Layout{}}, nil)
	assert.Error(t, err)

	_, err = New(Config{UserAgent: "ua", Timeout: time.Second, MaxImageBytes: 1, Layout: DefaultLayout}, nil)
	assert.Error(t, err)
}
