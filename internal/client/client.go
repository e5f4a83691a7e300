package client

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

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds every request the client makes.
	DefaultTimeout = 15 * time.Second

	// MaxPeople is the largest party the booking form offers.
	MaxPeople = 20
)

// Client talks to the tourbook HTTP API on behalf of one signed-in user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session

	redis    *redis.Client
	cacheTTL time.Duration

	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewClient builds a client for baseURL. sessionPath is where the session is
// kept between runs; an empty path keeps it in memory only.
func NewClient(baseURL, sessionPath string) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		loc:        time.Local,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	session, err := openSession(c, sessionPath)
	if err != nil {
		return nil, err
	}
	c.session = session
	return c, nil
}

// Session returns the session provider shared by every call of this client.
func (c *Client) Session() *Session {
	return c.session
}

// SetTimeout overrides DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetLocation sets the zone "today" is computed in for date validation.
func (c *Client) SetLocation(loc *time.Location) {
	if loc != nil {
		c.loc = loc
	}
}

func (c *Client) SetLogger(logger *zerolog.Logger) {
	if logger != nil {
		c.logger = logger.With().Str("component", "client").Logger()
	}
}

// UseRedisCache configures optional Redis caching for the public tour catalogue.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

func (c *Client) today() time.Time {
	return c.now().In(c.loc)
}

// requireLogin fails fast when there is no usable session token.
func (c *Client) requireLogin(msg string) error {
	if c.session.Token() == "" {
		return domain.Authf("%s", msg)
	}
	return nil
}

// Tours lists the published tours.
func (c *Client) Tours(ctx context.Context) ([]models.Tour, error) {
	var wrap struct {
		Tours []models.Tour `json:"tours"`
	}
	if c.readCache(ctx, "tourbook:client:tours", &wrap) {
		return wrap.Tours, nil
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/tours", nil, &wrap); err != nil {
		return nil, err
	}
	c.writeCache(ctx, "tourbook:client:tours", wrap)
	return wrap.Tours, nil
}

// Tour fetches one tour with its discount percentage.
func (c *Client) Tour(ctx context.Context, id string) (*models.Tour, int, error) {
	var wrap struct {
		Tour     *models.Tour `json:"tour"`
		Discount int          `json:"discount_percent"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/tours/"+url.PathEscape(id), nil, &wrap); err != nil {
		return nil, 0, err
	}
	return wrap.Tour, wrap.Discount, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("client cache write failed")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// doJSON sends body as JSON and decodes a 2xx response into out. Error bodies
// become domain errors; transport failures are wrapped as domain.ErrNetwork.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return domain.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.decodeError(resp, method, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response, method, path string) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	err := domain.FromCode(body.Code, body.Error)
	if err == nil {
		msg := body.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		err = fmt.Errorf("server error %d: %s", resp.StatusCode, msg)
	}

	// A rejected token is useless from here on.
	if errors.Is(err, domain.ErrAuth) && c.session.Token() != "" {
		if clearErr := c.session.clear(); clearErr != nil {
			c.logger.Warn().Err(clearErr).Msg("failed to drop stale session")
		}
	}

	c.logger.Warn().
		Err(err).
		Int("status", resp.StatusCode).
		Str("method", method).
		Str("path", path).
		Msg("request rejected")
	return err
}
