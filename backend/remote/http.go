package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/unkn0wn-root/assetcache"
	"github.com/unkn0wn-root/assetcache/backend"
	"github.com/unkn0wn-root/assetcache/blobcache"
)

// HTTPConfig wires an HTTP(S) package store: assets are GET BaseURL/path.
// Transient transport failures are retried by the client itself; the
// engine above never retries.
type HTTPConfig struct {
	BaseURL string // required, e.g. "https://cdn.example.com/assets"

	// Client overrides the retrying HTTP client. Nil gets a quiet default.
	Client *retryablehttp.Client

	// MaxBody caps a response body; 0 => 64 MiB.
	MaxBody int64

	Cache  blobcache.Store
	Logger assetcache.Logger
}

const defaultMaxBody = 64 << 20

type HTTP struct {
	base    *url.URL
	client  *retryablehttp.Client
	maxBody int64
	cache   blobcache.Store
	log     assetcache.Logger
}

var _ backend.Backend = (*HTTP)(nil)

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote backend: base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote backend: base URL: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	log := cfg.Logger
	if log == nil {
		log = assetcache.NopLogger{}
	}
	return &HTTP{base: base, client: client, maxBody: maxBody, cache: cfg.Cache, log: log}, nil
}

func (h *HTTP) Kind() backend.Kind { return backend.KindRemote }

func (h *HTTP) Fetch(ctx context.Context, path string) (backend.Asset, error) {
	if h.cache != nil {
		if raw, hit, err := h.cache.Get(ctx, path); err == nil && hit {
			return raw, nil
		}
	}

	u := h.base.JoinPath(strings.Split(path, "/")...)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", backend.ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("remote backend: GET %s: status %d", u, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > h.maxBody {
		return nil, fmt.Errorf("remote backend: %q exceeds %d byte body limit", path, h.maxBody)
	}
	if h.cache != nil && !h.cache.Set(ctx, path, raw, int64(len(raw))) {
		h.log.Debug("blobcache rejected remote payload", assetcache.Fields{"path": path})
	}
	return raw, nil
}

// Release is a no-op: remote assets are byte slices.
func (h *HTTP) Release(backend.Asset) {}

func (h *HTTP) Close(context.Context) error {
	if h.cache != nil {
		return h.cache.Close()
	}
	return nil
}
