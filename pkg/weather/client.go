// Package weather looks up current conditions from OpenWeatherMap and
// exposes the lookup as an MCP tool.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client defaults.
const (
	DefaultBaseURL   = "https://api.openweathermap.org/data/2.5"
	DefaultTimeout   = 10 * time.Second
	DefaultRetryMax  = 2
	maxResponseBytes = 1 << 20
)

// ErrAPIKeyRequired is returned when no upstream API key is configured.
var ErrAPIKeyRequired = errors.New("API key is required")

// Config configures the upstream client.
type Config struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Units    string        `yaml:"units"`
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// Current is the weather summary returned to tool callers.
type Current struct {
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	City        string  `json:"city"`
}

// upstreamResponse is the subset of the OpenWeatherMap current weather
// payload that is read.
type upstreamResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Client fetches current weather with retries on transient failures.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	units   string
}

// NewClient creates a weather client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = slogLogger{}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		units:   cfg.Units,
	}, nil
}

// CurrentWeather returns the current conditions for city.
func (c *Client) CurrentWeather(ctx context.Context, city string) (*Current, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, errors.New("city is required")
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	if c.units != "" {
		q.Set("units", c.units)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	slog.Debug("fetching current weather", "city", city)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather data: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Error fetching weather data: %s", http.StatusText(resp.StatusCode)) //nolint:staticcheck // Surfaced verbatim to tool callers.
	}

	var body upstreamResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding weather data: %w", err)
	}
	if len(body.Weather) == 0 {
		return nil, errors.New("weather data has no conditions")
	}

	return &Current{
		Temperature: body.Main.Temp,
		Description: body.Weather[0].Description,
		City:        body.Name,
	}, nil
}

// slogLogger adapts slog to retryablehttp.LeveledLogger.
type slogLogger struct{}

func (slogLogger) Error(msg string, keysAndValues ...any) { slog.Error(msg, keysAndValues...) }
func (slogLogger) Info(msg string, keysAndValues ...any)  { slog.Debug(msg, keysAndValues...) }
func (slogLogger) Debug(msg string, keysAndValues ...any) { slog.Debug(msg, keysAndValues...) }
func (slogLogger) Warn(msg string, keysAndValues ...any)  { slog.Warn(msg, keysAndValues...) }

var _ retryablehttp.LeveledLogger = slogLogger{}
