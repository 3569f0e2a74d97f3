package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImagenServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":predict") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewImagen(t *testing.T) {
	_, err := NewImagen(context.Background(), "", "m", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewImagen(context.Background(), "k", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestImagen_Generate(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := newImagenServer(t, fmt.Sprintf(`{"predictions":[{"bytesBase64Encoded":%q,"mimeType":"image/png"}]}`,
		base64.StdEncoding.EncodeToString(png)))

	g, err := NewImagen(context.Background(), "test-key", "imagen-test", zerolog.Nop(), srv.URL)
	require.NoError(t, err)

	images, err := g.Generate(context.Background(), "a lighthouse at dusk", Options{})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, png, images[0].Data)
	assert.Equal(t, "png", images[0].Extension())
}

func TestImagen_GenerateNothing(t *testing.T) {
	srv := newImagenServer(t, `{"predictions":[]}`)

	g, err := NewImagen(context.Background(), "test-key", "imagen-test", zerolog.Nop(), srv.URL)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "anything", Options{AspectRatio: "1:1"})
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestImagen_ValidatesInput(t *testing.T) {
	g, err := NewImagen(context.Background(), "test-key", "imagen-test", zerolog.Nop(), "http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "", Options{})
	assert.ErrorContains(t, err, "prompt is required")

	_, err = g.Generate(context.Background(), "x", Options{AspectRatio: "2:1"})
	assert.ErrorContains(t, err, "unsupported aspect ratio")
}

func TestImageExtension(t *testing.T) {
	assert.Equal(t, "jpg", Image{MIMEType: "image/jpeg"}.Extension())
	assert.Equal(t, "webp", Image{MIMEType: "image/webp"}.Extension())
	assert.Equal(t, "png", Image{}.Extension())
}
