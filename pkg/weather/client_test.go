package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	weatherTestKey  = "owm-key"
	weatherTestCity = "Lisbon"
	weatherTestBody = `{"name":"Lisbon","main":{"temp":291.4},"weather":[{"description":"clear sky"}]}`
)

func newTestClient(t *testing.T, url string, units string) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: weatherTestKey, BaseURL: url, Units: units, RetryMax: 2, Timeout: 2 * time.Second})
	require.NoError(t, err)
	c.http.RetryWaitMin = time.Millisecond
	c.http.RetryWaitMax = 5 * time.Millisecond
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)

	c, err := NewClient(Config{APIKey: weatherTestKey, BaseURL: "http://example.test/"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", c.baseURL)
}

func TestCurrentWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, weatherTestCity, r.URL.Query().Get("q"))
		assert.Equal(t, weatherTestKey, r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(weatherTestBody))
	}))
	defer srv.Close()

	cur, err := newTestClient(t, srv.URL, "metric").CurrentWeather(context.Background(), weatherTestCity)
	require.NoError(t, err)
	assert.Equal(t, &Current{Temperature: 291.4, Description: "clear sky", City: "Lisbon"}, cur)
}

func TestCurrentWeatherOmitsEmptyUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, has := r.URL.Query()["units"]
		assert.False(t, has)
		_, _ = w.Write([]byte(weatherTestBody))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "").CurrentWeather(context.Background(), weatherTestCity)
	require.NoError(t, err)
}

func TestCurrentWeatherErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"cod":"404"}`, wantErr: "Error fetching weather data: Not Found"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantErr: "Error fetching weather data: Unauthorized"},
		{name: "malformed", status: http.StatusOK, body: `{`, wantErr: "decoding weather data"},
		{name: "no conditions", status: http.StatusOK, body: `{"name":"X","main":{"temp":1},"weather":[]}`, wantErr: "no conditions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, "").CurrentWeather(context.Background(), weatherTestCity)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCurrentWeatherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(weatherTestBody))
	}))
	defer srv.Close()

	cur, err := newTestClient(t, srv.URL, "").CurrentWeather(context.Background(), weatherTestCity)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", cur.City)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCurrentWeatherGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "").CurrentWeather(context.Background(), weatherTestCity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Service Unavailable")
	assert.Equal(t, int32(3), calls.Load())
}

func TestCurrentWeatherRequiresCity(t *testing.T) {
	_, err := newTestClient(t, "http://unused.test", "").CurrentWeather(context.Background(), "  ")
	assert.Error(t, err)
}
