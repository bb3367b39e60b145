// internal/upstream/client.go
package upstream

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

	"github.com/bartek5186/stocksync/internal/ratelimit"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound      = errors.New("upstream: product not found")
	ErrRateLimited   = errors.New("upstream: rate limited")
	ErrNotConfigured = errors.New("upstream: api key not configured")
	ErrTransport     = errors.New("upstream: transport error")
	ErrBadResponse   = errors.New("upstream: bad response")
)

// fraza, po której upstream zgłasza limit w treści odpowiedzi (nie w statusie HTTP)
const rejectionPhrase = "high number of requests"

// maksymalny rozmiar odpowiedzi, który czytamy
const maxBody = 2 << 20

// RateLimitError – upstream odrzucił wywołanie; limiter jest już zresetowany,
// wołający powinien odczekać RetryAfter i spróbować ponownie.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// CredentialSource podaje jawny klucz API w miejscu użycia
type CredentialSource interface {
	Reveal() (string, error)
}

// Record – to, co upstream wie o produkcie
type Record struct {
	SKU      string `json:"-"`
	Name     string `json:"name"`
	Quantity Number `json:"quantity"`
	Price    Number `json:"price_retail"`
}

type Config struct {
	BaseURL   string        // https://your-subdomain.repairshopr.com/api/v1
	Timeout   time.Duration // timeout pojedynczego żądania
	UserAgent string
}

type Client struct {
	log     zerolog.Logger
	cfg     Config
	http    *http.Client
	creds   CredentialSource
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

type Option func(*Client)

// WithHTTPClient – np. klient z httptest
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(cfg Config, creds CredentialSource, limiter *ratelimit.Limiter, log zerolog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "stocksync/1.0"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		log:     log.With().Str("component", "upstream").Logger(),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		creds:   creds,
		limiter: limiter,
		tracer:  otel.Tracer("github.com/bartek5186/stocksync/internal/upstream"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Limiter – wspólny budżet wywołań (koordynator sprawdza z niego Budget)
func (c *Client) Limiter() *ratelimit.Limiter { return c.limiter }

type productsResponse struct {
	Error    json.RawMessage   `json:"error"`
	Products []json.RawMessage `json:"products"`
}

// Fetch pobiera jeden produkt po SKU. Bez ponawiania – o retry decyduje wołający.
func (c *Client) Fetch(ctx context.Context, sku string) (Record, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.fetch", trace.WithAttributes(attribute.String("sku", sku)))
	defer span.End()

	rec, err := c.fetch(ctx, sku)
	recordFetch(ctx, err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

func (c *Client) fetch(ctx context.Context, sku string) (Record, error) {
	if c.cfg.BaseURL == "" {
		return Record{}, fmt.Errorf("%w: base url empty", ErrNotConfigured)
	}
	if c.creds == nil {
		return Record{}, ErrNotConfigured
	}
	key, err := c.creds.Reveal()
	if err != nil {
		c.log.Error().Err(err).Msg("API key not configured")
		return Record{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if key == "" {
		c.log.Error().Msg("API key not configured")
		return Record{}, ErrNotConfigured
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return Record{}, err
	}

	u := c.cfg.BaseURL + "/products?id=" + url.QueryEscape(sku)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Record{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Record{}, ctx.Err()
		}
		c.log.Warn().Err(err).Str("sku", sku).Msg("nie udało się pobrać produktu z upstreamu")
		return Record{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		c.log.Warn().Err(err).Str("sku", sku).Msg("read body")
		return Record{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	var data productsResponse
	decodeErr := json.Unmarshal(body, &data)

	if decodeErr == nil && isSet(data.Error) &&
		strings.Contains(strings.ToLower(string(body)), rejectionPhrase) {
		c.limiter.ForceReset()
		wait := c.limiter.Window()
		recordRejection(ctx)
		c.log.Warn().Str("sku", sku).Dur("retry_after", wait).Msg("upstream rate limit reached")
		return Record{}, &RateLimitError{RetryAfter: wait}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Str("sku", sku).Int("status", resp.StatusCode).Msg("upstream http error")
		return Record{}, fmt.Errorf("%w: http %d", ErrBadResponse, resp.StatusCode)
	}
	if decodeErr != nil {
		c.log.Warn().Err(decodeErr).Str("sku", sku).Msg("upstream decode")
		return Record{}, fmt.Errorf("%w: %v", ErrBadResponse, decodeErr)
	}

	if len(data.Products) == 0 || !isObject(data.Products[0]) {
		c.log.Debug().Str("sku", sku).Msg("no matching product in upstream")
		return Record{}, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(data.Products[0], &rec); err != nil {
		return Record{}, fmt.Errorf("%w: product: %v", ErrBadResponse, err)
	}
	rec.SKU = sku
	return rec, nil
}

func isSet(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// pusty obiekt {} też traktujemy jak brak produktu
func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil && len(m) > 0
}
