// Package device talks to Elgato Key Light accessories over their HTTP API.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const lightsPath = "/elgato/lights"

// ErrNoLights is returned when the accessory reports no light channel
var ErrNoLights = errors.New("device reported no lights")

// ErrClosed is returned for requests issued after Close
var ErrClosed = errors.New("device client closed")

// State is the device-reported state of a light, in raw device units.
// Temperature is nil for accessories without colour temperature.
type State struct {
	On          bool
	Brightness  int
	Temperature *int
}

// Update is a partial write; nil fields are left untouched on the device
type Update struct {
	On          *bool
	Brightness  *int
	Temperature *int
}

// Client is the per-light device API used by the controller
type Client interface {
	State(ctx context.Context) (State, error)
	SetLight(ctx context.Context, u Update) error
	Close() error
}

// wireLight is one entry of the accessory's lights array
type wireLight struct {
	On          *int `json:"on,omitempty"`
	Brightness  *int `json:"brightness,omitempty"`
	Temperature *int `json:"temperature,omitempty"`
}

type wireLights struct {
	NumberOfLights int         `json:"numberOfLights"`
	Lights         []wireLight `json:"lights"`
}

// HTTPClient implements Client against http://<address>/elgato/lights
type HTTPClient struct {
	address    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	closed bool
}

// NewHTTPClient creates a client for the accessory at address (host:port).
// rps limits the request rate to the accessory; 0 disables limiting.
func NewHTTPClient(address string, timeout time.Duration, rps float64) *HTTPClient {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &HTTPClient{
		address: address,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 2},
		},
		limiter: limiter,
	}
}

// State reads the current light state
func (c *HTTPClient) State(ctx context.Context) (State, error) {
	resp, err := c.request(ctx, http.MethodGet, nil)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()

	var payload wireLights
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return State{}, fmt.Errorf("decode lights from %s: %w", c.address, err)
	}
	if len(payload.Lights) == 0 {
		return State{}, fmt.Errorf("%s: %w", c.address, ErrNoLights)
	}

	l := payload.Lights[0]
	state := State{Temperature: l.Temperature}
	if l.On != nil {
		state.On = *l.On != 0
	}
	if l.Brightness != nil {
		state.Brightness = *l.Brightness
	}
	return state, nil
}

// SetLight writes the non-nil fields of u
func (c *HTTPClient) SetLight(ctx context.Context, u Update) error {
	wl := wireLight{
		Brightness:  u.Brightness,
		Temperature: u.Temperature,
	}
	if u.On != nil {
		on := 0
		if *u.On {
			on = 1
		}
		wl.On = &on
	}

	body, err := json.Marshal(wireLights{NumberOfLights: 1, Lights: []wireLight{wl}})
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPut, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug().Str("address", c.address).RawJSON("body", body).Msg("Light updated")
	return nil
}

// Close releases idle connections. Safe to call more than once.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) request(ctx context.Context, method string, body []byte) (*http.Response, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.address+lightsPath, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, c.address, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: unexpected status code: %d", method, c.address, resp.StatusCode)
	}
	return resp, nil
}
