package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/sheetqa/internal/models"
	"github.com/xhad/sheetqa/pkg/table"
)

const DefaultUploadKey = "My Own"

var (
	ErrUnknownSelection = errors.New("invalid spreadsheet selection")
	ErrMissingUpload    = errors.New("please upload a file")
	ErrTooLarge         = errors.New("spreadsheet exceeds the size limit")
)

// SelectionError is reported to the user before any model call is made.
type SelectionError struct {
	Key string
	Err error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("%s: %q", e.Err, e.Key)
}

func (e *SelectionError) Unwrap() error {
	return e.Err
}

// Entry is one bundled spreadsheet. Path is a file path or an http(s) URL.
type Entry struct {
	Path      string
	Normalize bool
}

type LoaderConfig struct {
	Catalog   map[string]Entry
	UploadKey string
	RateLimit float64 // remote fetches per second
	Timeout   time.Duration
	MaxBytes  int64
	// Normalizer defaults to the waffle table normalizer.
	Normalizer *table.Normalizer
}

type Loader struct {
	config  LoaderConfig
	client  *http.Client
	limiter *rate.Limiter
}

// DefaultCatalog lists the spreadsheets bundled under data/html.
func DefaultCatalog() map[string]Entry {
	return map[string]Entry{
		"Spreadsheet 45x50": {Path: "data/html/meta.html"},
		"Retrieval Pricing": {Path: "data/html/retrieval.html", Normalize: true},
		"Titanic Truncated": {Path: "data/html/titanic_truncated.html", Normalize: true},
	}
}

func NewWithConfig(config LoaderConfig) *Loader {
	if config.Catalog == nil {
		config.Catalog = DefaultCatalog()
	}
	if config.UploadKey == "" {
		config.UploadKey = DefaultUploadKey
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 32 << 20
	}
	if config.Normalizer == nil {
		config.Normalizer = table.New()
	}

	return &Loader{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Loader {
	return NewWithConfig(LoaderConfig{})
}

// Keys returns the selectable spreadsheets, the upload key last.
func (l *Loader) Keys() []string {
	keys := make([]string, 0, len(l.config.Catalog)+1)
	for k := range l.config.Catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return append(keys, l.config.UploadKey)
}

// Load resolves key to a spreadsheet. For the upload key, upload is the path
// or URL of the user's file; it is ignored otherwise.
func (l *Loader) Load(ctx context.Context, key, upload string) (*models.Spreadsheet, error) {
	var entry Entry
	if key == l.config.UploadKey {
		if strings.TrimSpace(upload) == "" {
			return nil, &SelectionError{Key: key, Err: ErrMissingUpload}
		}
		entry = Entry{Path: upload, Normalize: true}
	} else {
		var ok bool
		entry, ok = l.config.Catalog[key]
		if !ok {
			return nil, &SelectionError{Key: key, Err: ErrUnknownSelection}
		}
	}

	raw, err := l.read(ctx, entry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load spreadsheet %q: %w", key, err)
	}

	html := raw
	if entry.Normalize {
		html, err = l.config.Normalizer.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to process spreadsheet %q: %w", key, err)
		}
	}

	return &models.Spreadsheet{
		Key:    key,
		Source: entry.Path,
		HTML:   html,
	}, nil
}

// LoadHTML is Load for callers that receive the uploaded document itself
// rather than a location. Upload content is never treated as a path or a URL;
// catalog keys resolve as in Load.
func (l *Loader) LoadHTML(ctx context.Context, key, content string) (*models.Spreadsheet, error) {
	if key != l.config.UploadKey {
		return l.Load(ctx, key, "")
	}
	if strings.TrimSpace(content) == "" {
		return nil, &SelectionError{Key: key, Err: ErrMissingUpload}
	}
	if int64(len(content)) > l.config.MaxBytes {
		return nil, fmt.Errorf("failed to load spreadsheet %q: %w (%d bytes)", key, ErrTooLarge, l.config.MaxBytes)
	}

	html, err := l.config.Normalizer.Normalize(content)
	if err != nil {
		return nil, fmt.Errorf("failed to process spreadsheet %q: %w", key, err)
	}

	return &models.Spreadsheet{
		Key:    key,
		Source: "upload",
		HTML:   html,
	}, nil
}

func (l *Loader) read(ctx context.Context, path string) (string, error) {
	if isRemote(path) {
		return l.fetch(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Loader) fetch(ctx context.Context, urlStr string) (string, error) {
	// Apply rate limiting
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.config.MaxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > l.config.MaxBytes {
		return "", fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, urlStr, l.config.MaxBytes)
	}
	return string(data), nil
}

func isRemote(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
