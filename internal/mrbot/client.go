// Package mrbot is the HTTP client for the external Mr. Bot/AFIP API.
// Authentication, query semantics and rate limiting live on the server
// side; this client only builds authenticated requests and decodes
// whatever comes back.
package mrbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client calls the Mr. Bot API. It never retries: every request that
// reaches the server consumes one unit of the user's query quota, failed
// or not, so a failed row is reported back for manual resubmission instead.
type Client struct {
	baseURL    string
	apiKey     string
	email      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://api-bots.mrbot.com.ar/".
	BaseURL string

	// APIKey and Email are sent as the x-api-key and email headers.
	APIKey string
	Email  string

	// Timeout bounds a single request. Zero means 120s, matching the
	// server-side consulta processing window.
	Timeout time.Duration
}

// New creates a new Mr. Bot API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.APIKey == "" || cfg.Email == "" {
		return nil, fmt.Errorf("api key and email are required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		email:      cfg.Email,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With().Str("component", "mrbot-client").Logger(),
	}, nil
}

// SetHTTPClient swaps the underlying HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// do executes one request against an endpoint path relative to the base URL
// and decodes the body. Any status code yields a Response; only failures to
// reach the server at all return an error. route is the identifier-free form
// of the endpoint, used for metric labels and logs so CUITs and email
// addresses never become label values.
func (c *Client) do(ctx context.Context, method, endpoint, route string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("email", c.email)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(route, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", route).Msg("request failed")
		return nil, &APIError{
			Endpoint: route,
			Class:    ErrorClassNetwork,
			Message:  "connection error",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(route, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	if resp.StatusCode >= 400 {
		errorsTotal.WithLabelValues(string(classifyStatus(resp.StatusCode))).Inc()
		c.logger.Warn().
			Str("endpoint", route).
			Int("status", resp.StatusCode).
			Msg("api error response")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{
			Endpoint:   route,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    "read body",
			Err:        err,
		}
	}

	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			// Keep non-JSON bodies verbatim instead of failing the call.
			data = map[string]any{"raw_text": string(raw)}
		}
	}

	return &Response{HTTPStatus: resp.StatusCode, Data: data}, nil
}

// Consulta posts a payload to a cataloged batch service.
func (c *Client) Consulta(ctx context.Context, svc Service, payload map[string]any) (*Response, error) {
	if svc.Method == http.MethodGet {
		// GET services key on the identifier in the path (apoc).
		id, _ := payload[svc.IdentifierColumn].(string)
		return c.do(ctx, http.MethodGet, svc.Path+"/"+url.PathEscape(id), svc.Path, nil)
	}
	return c.do(ctx, http.MethodPost, svc.Path, svc.Path, payload)
}

// MisComprobantes queries the bulk invoice service.
func (c *Client) MisComprobantes(ctx context.Context, payload map[string]any) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/mis_comprobantes/consulta", "api/v1/mis_comprobantes/consulta", payload)
}

// RCEL queries the online vouchers service.
func (c *Client) RCEL(ctx context.Context, payload map[string]any) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/rcel/consulta", "api/v1/rcel/consulta", payload)
}

// SCT queries the tax account system.
func (c *Client) SCT(ctx context.Context, payload map[string]any) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/sct/consulta", "api/v1/sct/consulta", payload)
}

// CCMA queries the monotax current account.
func (c *Client) CCMA(ctx context.Context, payload map[string]any) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/ccma/consulta", "api/v1/ccma/consulta", payload)
}

// Apoc checks whether a CUIT is flagged as apocryphal.
func (c *Client) Apoc(ctx context.Context, cuit string) (*Response, error) {
	return c.do(ctx, http.MethodGet, "api/v1/apoc/consulta/"+url.PathEscape(cuit), "api/v1/apoc/consulta", nil)
}

// CuitIndividual fetches the registration certificate for one CUIT.
func (c *Client) CuitIndividual(ctx context.Context, cuit string) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/consulta_cuit/individual", "api/v1/consulta_cuit/individual", map[string]any{"cuit": cuit})
}

// CuitMasivo fetches registration certificates for several CUITs in one call.
func (c *Client) CuitMasivo(ctx context.Context, cuits []string) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/consulta_cuit/masivo", "api/v1/consulta_cuit/masivo", map[string]any{"cuits": cuits})
}

// ConsultasDisponibles returns the remaining query quota for an email.
func (c *Client) ConsultasDisponibles(ctx context.Context, email string) (*Response, error) {
	return c.do(ctx, http.MethodGet, "api/v1/user/consultas/"+url.PathEscape(email), "api/v1/user/consultas", nil)
}

// CreateUser registers a new user; the API mails back the key.
func (c *Client) CreateUser(ctx context.Context, mail string) (*Response, error) {
	return c.do(ctx, http.MethodPost, "api/v1/user/", "api/v1/user/", map[string]any{"mail": mail})
}

// ResetAPIKey rotates a user's API key. The endpoint takes the email as a
// query parameter, not a JSON body.
func (c *Client) ResetAPIKey(ctx context.Context, email string) (*Response, error) {
	q := url.Values{}
	q.Set("email", email)
	return c.do(ctx, http.MethodPost, "api/v1/user/reset-key/?"+q.Encode(), "api/v1/user/reset-key/", nil)
}
