package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/sheetqa/pkg/table"
)

const rawSheet = `<html><body><table class="waffle">
<tr><td>notes</td><td>Price</td><td></td></tr>
<tr><td>Basic</td><td>10</td><td></td></tr>
<tr><td></td><td></td><td></td></tr>
</table></body></html>`

func writeSheet(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoaderConfig(t *testing.T) {
	l := New()
	assert.Equal(t, DefaultUploadKey, l.config.UploadKey)
	assert.Equal(t, 2.0, l.config.RateLimit)
	assert.Equal(t, []string{"Retrieval Pricing", "Spreadsheet 45x50", "Titanic Truncated", "My Own"}, l.Keys())
}

func TestLoadCatalogEntry(t *testing.T) {
	normalized := writeSheet(t, "pricing.html", rawSheet)
	verbatim := writeSheet(t, "meta.html", rawSheet)

	l := NewWithConfig(LoaderConfig{Catalog: map[string]Entry{
		"Pricing": {Path: normalized, Normalize: true},
		"Meta":    {Path: verbatim},
	}})

	sheet, err := l.Load(context.Background(), "Pricing", "")
	require.NoError(t, err)
	assert.Equal(t, "Pricing", sheet.Key)
	assert.Equal(t, normalized, sheet.Source)
	assert.Contains(t, sheet.HTML, "border-collapse")
	assert.NotContains(t, sheet.HTML, "<td></td>")

	sheet, err = l.Load(context.Background(), "Meta", "")
	require.NoError(t, err)
	assert.Equal(t, rawSheet, sheet.HTML)
}

func TestLoadSelectionErrors(t *testing.T) {
	l := New()

	_, err := l.Load(context.Background(), "Nope", "")
	assert.ErrorIs(t, err, ErrUnknownSelection)

	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, "Nope", selErr.Key)

	_, err = l.Load(context.Background(), DefaultUploadKey, "  ")
	assert.ErrorIs(t, err, ErrMissingUpload)
}

func TestLoadUpload(t *testing.T) {
	l := New()

	path := writeSheet(t, "upload.html", rawSheet)
	sheet, err := l.Load(context.Background(), DefaultUploadKey, path)
	require.NoError(t, err)
	assert.Contains(t, sheet.HTML, "Basic")

	bad := writeSheet(t, "bad.html", "<p>no sheet</p>")
	_, err = l.Load(context.Background(), DefaultUploadKey, bad)
	assert.ErrorIs(t, err, table.ErrTableNotFound)

	_, err = l.Load(context.Background(), DefaultUploadKey, filepath.Join(t.TempDir(), "missing.html"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sheet.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(rawSheet))
	}))
	defer server.Close()

	l := NewWithConfig(LoaderConfig{RateLimit: 10})

	sheet, err := l.Load(context.Background(), DefaultUploadKey, server.URL+"/sheet.html")
	require.NoError(t, err)
	assert.Contains(t, sheet.HTML, "Price")

	_, err = l.Load(context.Background(), DefaultUploadKey, server.URL+"/missing.html")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "received status code 404")
}

func TestIsRemote(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"https://docs.google.com/spreadsheets/d/x/pubhtml", true},
		{"http://localhost:8080/a.html", true},
		{"data/html/meta.html", false},
		{"/tmp/upload.html", false},
		{"file:///tmp/upload.html", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRemote(tt.path))
		})
	}
}

func TestLoadHTML(t *testing.T) {
	catalogPath := writeSheet(t, "pricing.html", rawSheet)
	l := NewWithConfig(LoaderConfig{
		Catalog:  map[string]Entry{"Pricing": {Path: catalogPath}},
		MaxBytes: 1 << 10,
	})

	sheet, err := l.LoadHTML(context.Background(), DefaultUploadKey, rawSheet)
	require.NoError(t, err)
	assert.Equal(t, "upload", sheet.Source)
	assert.Contains(t, sheet.HTML, "border-collapse")
	assert.Contains(t, sheet.HTML, "Basic")

	sheet, err = l.LoadHTML(context.Background(), "Pricing", "ignored")
	require.NoError(t, err)
	assert.Equal(t, rawSheet, sheet.HTML)

	_, err = l.LoadHTML(context.Background(), DefaultUploadKey, " ")
	assert.ErrorIs(t, err, ErrMissingUpload)

	_, err = l.LoadHTML(context.Background(), DefaultUploadKey, strings.Repeat("x", 2<<10))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoadHTMLNeverReadsLocations(t *testing.T) {
	l := New()

	// A path to a readable sheet is just text that holds no table.
	path := writeSheet(t, "private.html", rawSheet)
	_, err := l.LoadHTML(context.Background(), DefaultUploadKey, path)
	assert.ErrorIs(t, err, table.ErrTableNotFound)

	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
		w.Write([]byte(rawSheet))
	}))
	defer server.Close()

	_, err = l.LoadHTML(context.Background(), DefaultUploadKey, server.URL+"/sheet.html")
	assert.ErrorIs(t, err, table.ErrTableNotFound)
	assert.False(t, requested)
}

func TestLoadRemoteTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rawSheet))
	}))
	defer server.Close()

	l := NewWithConfig(LoaderConfig{RateLimit: 10, MaxBytes: int64(len(rawSheet) - 1)})
	_, err := l.Load(context.Background(), DefaultUploadKey, server.URL+"/sheet.html")
	assert.ErrorIs(t, err, ErrTooLarge)

	l = NewWithConfig(LoaderConfig{RateLimit: 10, MaxBytes: int64(len(rawSheet))})
	sheet, err := l.Load(context.Background(), DefaultUploadKey, server.URL+"/sheet.html")
	require.NoError(t, err)
	assert.Contains(t, sheet.HTML, "Basic")
}
