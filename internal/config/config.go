// internal/config/config.go
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/bartek5186/stocksync/internal/credential"
	"github.com/bartek5186/stocksync/internal/ratelimit"
	"github.com/bartek5186/stocksync/internal/upstream"
	"github.com/spf13/viper"
)

// EnvPrefix – np. STOCKSYNC_SYNC_INTERVAL_MINUTES nadpisuje sync.interval_minutes
const EnvPrefix = "STOCKSYNC"

const (
	DefaultIntervalMinutes = 30
	DefaultSecretEnv       = "STOCKSYNC_SECRET"
)

// Główny config aplikacji
type Config struct {
	Sync      SyncConfig      `json:"sync" mapstructure:"sync"`
	Upstream  UpstreamConfig  `json:"upstream" mapstructure:"upstream"`
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
	DB        DBConfig        `json:"db" mapstructure:"db"`
	Catalog   CatalogConfig   `json:"catalog" mapstructure:"catalog"`
	HTTP      HTTPConfig      `json:"http" mapstructure:"http"`
	ChangeLog ChangeLogConfig `json:"change_log" mapstructure:"change_log"`
	Log       LogConfig       `json:"log" mapstructure:"log"`

	Integrations map[string]json.RawMessage `json:"integrations" mapstructure:"-"` // nazwa -> surowy JSON integracji
}

type SyncConfig struct {
	AutoEnabled     bool `json:"auto_enabled" mapstructure:"auto_enabled"`
	IntervalMinutes int  `json:"interval_minutes" mapstructure:"interval_minutes"` // min 1
	PageSize        int  `json:"page_size" mapstructure:"page_size"`               // pełny przebieg
	BatchSize       int  `json:"batch_size" mapstructure:"batch_size"`             // protokół przyrostowy
	MaxWaitSeconds  int  `json:"max_wait_seconds" mapstructure:"max_wait_seconds"` // ile batch czeka na limiter
}

type UpstreamConfig struct {
	BaseURL    string                `json:"base_url" mapstructure:"base_url"`
	APIKey     credential.Credential `json:"api_key" mapstructure:"api_key"`
	SecretEnv  string                `json:"secret_env" mapstructure:"secret_env"` // zmienna z sekretem do szyfrowania klucza
	TimeoutSec int                   `json:"timeout_sec" mapstructure:"timeout_sec"`
	UserAgent  string                `json:"user_agent,omitempty" mapstructure:"user_agent"`
}

type RateLimitConfig struct {
	MaxCalls      int `json:"max_calls" mapstructure:"max_calls"`
	WindowSeconds int `json:"window_seconds" mapstructure:"window_seconds"`
}

type DBConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite | sqlite-pure | postgres | mysql
	DSN    string `json:"dsn" mapstructure:"dsn"`       // pusty = <appDir>/stocksync.db
}

type CatalogConfig struct {
	Backend string          `json:"backend" mapstructure:"backend"` // local | woocommerce
	Options json.RawMessage `json:"options,omitempty" mapstructure:"-"`
}

type HTTPConfig struct {
	Addr         string  `json:"addr" mapstructure:"addr"`
	Token        string  `json:"token,omitempty" mapstructure:"token"` // pusty = bez autoryzacji
	TriggerRPS   float64 `json:"trigger_rps" mapstructure:"trigger_rps"`
	TriggerBurst int     `json:"trigger_burst" mapstructure:"trigger_burst"`
}

type ChangeLogConfig struct {
	MaxEntries        int `json:"max_entries" mapstructure:"max_entries"`
	RetentionDays     int `json:"retention_days" mapstructure:"retention_days"`
	PendingTTLMinutes int `json:"pending_ttl_minutes" mapstructure:"pending_ttl_minutes"`
}

type LogConfig struct {
	File    string `json:"file" mapstructure:"file"` // pusty = <appDir>/app.log
	Console bool   `json:"console" mapstructure:"console"`
	Level   string `json:"level" mapstructure:"level"`
}

// Default – config zapisywany przy pierwszym uruchomieniu
func Default() *Config {
	rl := ratelimit.DefaultConfig()
	importer, _ := json.Marshal(map[string]any{
		"watch_dir": "~/stocksync/imports",
		"poll_sec":  30,
		"prefix":    "catalog_",
	})
	return &Config{
		Sync: SyncConfig{
			AutoEnabled:     false,
			IntervalMinutes: DefaultIntervalMinutes,
			PageSize:        50,
			BatchSize:       10,
			MaxWaitSeconds:  5,
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://your-subdomain.repairshopr.com/api/v1",
			SecretEnv:  DefaultSecretEnv,
			TimeoutSec: 20,
		},
		RateLimit: RateLimitConfig{
			MaxCalls:      rl.MaxCalls,
			WindowSeconds: int(rl.Window / time.Second),
		},
		DB:      DBConfig{Driver: "sqlite"},
		Catalog: CatalogConfig{Backend: "local"},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8089",
			TriggerRPS:   1,
			TriggerBurst: 3,
		},
		ChangeLog: ChangeLogConfig{
			MaxEntries:        500,
			RetentionDays:     7,
			PendingTTLMinutes: 60,
		},
		Log: LogConfig{Console: true, Level: "info"},
		Integrations: map[string]json.RawMessage{
			"importer": importer,
		},
	}
}

// Normalize – wartości spoza zakresu → domyślne / minimalne
func (c *Config) Normalize() {
	def := Default()
	if c.Sync.IntervalMinutes <= 0 {
		c.Sync.IntervalMinutes = DefaultIntervalMinutes
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = def.Sync.PageSize
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = def.Sync.BatchSize
	}
	if c.Sync.MaxWaitSeconds < 0 {
		c.Sync.MaxWaitSeconds = 0
	}
	if c.RateLimit.MaxCalls <= 0 {
		c.RateLimit.MaxCalls = def.RateLimit.MaxCalls
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = def.RateLimit.WindowSeconds
	}
	if c.Upstream.TimeoutSec <= 0 {
		c.Upstream.TimeoutSec = def.Upstream.TimeoutSec
	}
	if strings.TrimSpace(c.Catalog.Backend) == "" {
		c.Catalog.Backend = def.Catalog.Backend
	}
	if c.ChangeLog.MaxEntries <= 0 {
		c.ChangeLog.MaxEntries = def.ChangeLog.MaxEntries
	}
	if c.ChangeLog.RetentionDays <= 0 {
		c.ChangeLog.RetentionDays = def.ChangeLog.RetentionDays
	}
	if c.ChangeLog.PendingTTLMinutes <= 0 {
		c.ChangeLog.PendingTTLMinutes = def.ChangeLog.PendingTTLMinutes
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.Integrations == nil {
		c.Integrations = map[string]json.RawMessage{}
	}
}

// ReadOrCreate – sam plik, bez nadpisań z env (do edycji i ponownego zapisu)
func ReadOrCreate(path string) (*Config, bool, error) {
	// upewnij się, że katalog istnieje
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("błąd zapisu domyślnego configa: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("błąd otwierania configa: %w", err)
	}

	cfg := Default()
	cfg.Integrations = nil
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, false, fmt.Errorf("błąd parsowania configa: %w", err)
	}
	cfg.Normalize()
	return cfg, false, nil
}

// LoadOrCreate – plik + nadpisania STOCKSYNC_* z env (viper)
func LoadOrCreate(path string) (*Config, bool, error) {
	cfg, created, err := ReadOrCreate(path)
	if err != nil {
		return nil, false, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, false, fmt.Errorf("błąd nadpisań z env: %w", err)
	}
	cfg.Normalize()
	return cfg, created, nil
}

// applyEnv – wartości z pliku wchodzą do vipera jako baza, env wygrywa
func applyEnv(cfg *Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts[:len(parts):len(parts)], tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// Helper do odczytu konkretnej integracji do struktury docelowej
func (c *Config) UnmarshalIntegration(name string, v any) error {
	raw, ok := c.Integrations[name]
	if !ok {
		return fmt.Errorf("brak integracji %q w configu", name)
	}
	return json.Unmarshal(raw, v)
}

// Credentials – źródło klucza API dla upstreamu (odszyfrowanie przy użyciu)
func (c *Config) Credentials() credential.Source {
	return credential.Source{Cred: c.Upstream.APIKey, SecretEnv: c.Upstream.SecretEnv}
}

// SetAPIKey zapisuje nowy klucz (zaszyfrowany, jeśli jest sekret).
// Zamaskowana wartość obecnego klucza oznacza "bez zmian" – zwraca false.
func (c *Config) SetAPIKey(submitted string) (bool, error) {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return false, credential.ErrEmpty
	}
	src := c.Credentials()
	if current, err := src.Reveal(); err == nil && credential.IsMaskOf(submitted, current) {
		return false, nil
	}
	secret := ""
	if c.Upstream.SecretEnv != "" {
		secret = os.Getenv(c.Upstream.SecretEnv)
	}
	cred, err := credential.Seal(submitted, secret)
	if err != nil {
		return false, err
	}
	c.Upstream.APIKey = cred
	return true, nil
}

func (c *Config) Limiter() ratelimit.Config {
	return ratelimit.Config{
		MaxCalls: c.RateLimit.MaxCalls,
		Window:   time.Duration(c.RateLimit.WindowSeconds) * time.Second,
	}
}

func (c *Config) UpstreamClient() upstream.Config {
	return upstream.Config{
		BaseURL:   c.Upstream.BaseURL,
		Timeout:   time.Duration(c.Upstream.TimeoutSec) * time.Second,
		UserAgent: c.Upstream.UserAgent,
	}
}

func (c *Config) Interval() time.Duration {
	return time.Duration(max(c.Sync.IntervalMinutes, 1)) * time.Minute
}

func (c *Config) MaxWait() time.Duration {
	return time.Duration(c.Sync.MaxWaitSeconds) * time.Second
}

// Redacted – kopia do `config show` / logów: klucz zamaskowany, token ukryty
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Upstream.APIKey = credential.Credential{Value: c.Credentials().Masked(), Encrypted: c.Upstream.APIKey.Encrypted}
	if cp.HTTP.Token != "" {
		cp.HTTP.Token = "****"
	}
	return &cp
}
