// internal/integrations/woocommerce/woocommerce.go
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bartek5186/stocksync/internal/catalog"
	"github.com/bartek5186/stocksync/internal/integrations"
	"github.com/rs/zerolog"
)

const Name = "woocommerce"

type Config struct {
	BaseURL     string `json:"base_url"` // https://shop.example.com
	ConsumerKey string `json:"consumer_key"`
	ConsumerSec string `json:"consumer_secret"`
	TimeoutSec  int    `json:"timeout_sec"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Store – katalog WooCommerce przez REST v3 (/wp-json/wc/v3)
type Store struct {
	log  zerolog.Logger
	cfg  Config
	base *url.URL
	http *http.Client
}

var _ catalog.Store = (*Store)(nil)

func New(log zerolog.Logger, cfg Config, client *http.Client) (*Store, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("woocommerce: niepoprawny base_url %q", cfg.BaseURL)
	}
	if cfg.ConsumerKey == "" || cfg.ConsumerSec == "" {
		return nil, errors.New("woocommerce: brak consumer_key / consumer_secret")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "stocksync/1.0"
	}
	if client == nil {
		timeout := 20 * time.Second
		if cfg.TimeoutSec > 0 {
			timeout = time.Duration(cfg.TimeoutSec) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Store{
		log:  log.With().Str("component", "woocommerce").Logger(),
		cfg:  cfg,
		base: base,
		http: client,
	}, nil
}

func (s *Store) endpoint(path string, q url.Values) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/wp-json/wc/v3" + path
	u.RawQuery = q.Encode()
	return u.String()
}

// httpError – odpowiedź spoza 2xx
type httpError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("woo %s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// do wykonuje żądanie i dekoduje JSON do out; zwraca nagłówki (X-WP-Total)
func (s *Store) do(ctx context.Context, method, path string, q url.Values, body, out any) (http.Header, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path, q), rd)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.SetBasicAuth(s.cfg.ConsumerKey, s.cfg.ConsumerSec)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("woo %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("woo %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.Header, catalog.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return resp.Header, &httpError{Method: method, Path: path, Status: resp.StatusCode, Body: snippet}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.Header, nil
}

func productPath(key catalog.Key) string {
	if key.ParentID != 0 {
		return fmt.Sprintf("/products/%d/variations/%d", key.ParentID, key.ID)
	}
	return fmt.Sprintf("/products/%d", key.ID)
}

func (s *Store) Get(ctx context.Context, key catalog.Key) (catalog.Record, error) {
	var p wcProduct
	if _, err := s.do(ctx, http.MethodGet, productPath(key), nil, nil, &p); err != nil {
		return catalog.Record{}, err
	}
	return p.record(key.ParentID), nil
}

// FindBySKU – Woo szuka po sku także w wariantach (parent_id != 0)
func (s *Store) FindBySKU(ctx context.Context, sku string) (catalog.Key, bool, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return catalog.Key{}, false, nil
	}
	q := url.Values{}
	q.Set("sku", sku)
	q.Set("status", "any")
	q.Set("_fields", listFields)
	var items []wcProduct
	if _, err := s.do(ctx, http.MethodGet, "/products", q, nil, &items); err != nil {
		return catalog.Key{}, false, err
	}
	for _, p := range items {
		if strings.TrimSpace(p.SKU) == sku && catalog.Status(p.Status) != catalog.StatusTrash {
			return catalog.Key{ID: p.ID, ParentID: p.ParentID}, true, nil
		}
	}
	return catalog.Key{}, false, nil
}

// Save – PUT z ceną i (opcjonalnie) stanem; Woo zapisuje od razu
func (s *Store) Save(ctx context.Context, key catalog.Key, u catalog.Update) error {
	var body wcUpdate
	if u.Price != nil {
		p := u.Price.String()
		body.RegularPrice = &p
	}
	body.StockQuantity = u.Quantity
	if body.RegularPrice == nil && body.StockQuantity == nil {
		return nil
	}
	_, err := s.do(ctx, http.MethodPut, productPath(key), nil, body, nil)
	if err != nil {
		return err
	}
	s.log.Debug().Int64("id", key.ID).Int64("parent_id", key.ParentID).Msg("woo product updated")
	return nil
}

func total(h http.Header) int {
	return atoi(h.Get("X-WP-Total"))
}

func factory(log zerolog.Logger, raw json.RawMessage, deps integrations.Deps) (catalog.Store, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return New(log, cfg, deps.HTTP)
}

func init() {
	integrations.RegisterCatalog(Name, factory)
}
