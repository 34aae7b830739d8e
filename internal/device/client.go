// Package device fetches JSON resources from my-PV devices.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultFirmwareURL is the vendor endpoint that reports the latest firmware
// versions for a serial number.
const DefaultFirmwareURL = "https://www.my-pv.com/download/currentversion.php"

const defaultTimeout = 10 * time.Second

// ErrSerialUnknown is returned by FirmwareClient until the device serial is known.
var ErrSerialUnknown = errors.New("device serial number not known yet")

// Payload is a decoded JSON object returned by a device resource.
type Payload map[string]any

// Client fetches resources from a single device
type Client struct {
	Host       string
	HTTPClient *http.Client
}

// NewClient creates a client for the device at host
func NewClient(host string) *Client {
	return &Client{
		Host:       host,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// FetchJSON retrieves http://<host>/<endpoint>.jsn
func (c *Client) FetchJSON(ctx context.Context, endpoint string) (Payload, error) {
	return fetchJSON(ctx, c.httpClient(), fmt.Sprintf("http://%s/%s.jsn", c.Host, endpoint))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// FirmwareClient retrieves the latest published firmware versions for a device.
// The endpoint name passed to FetchJSON is ignored.
type FirmwareClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Serial reports the device serial number once it is known.
	Serial func() (string, bool)
}

// FetchJSON queries the vendor endpoint with the device serial number
func (f *FirmwareClient) FetchJSON(ctx context.Context, _ string) (Payload, error) {
	if f.Serial == nil {
		return nil, ErrSerialUnknown
	}
	sn, ok := f.Serial()
	if !ok || sn == "" {
		return nil, ErrSerialUnknown
	}

	base := f.BaseURL
	if base == "" {
		base = DefaultFirmwareURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid firmware url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("sn", sn)
	u.RawQuery = q.Encode()

	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return fetchJSON(ctx, client, u.String())
}

// fetchJSON performs an HTTP GET request and decodes a JSON object response
func fetchJSON(ctx context.Context, client *http.Client, url string) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	var payload Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode JSON from %s: %w", url, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("empty JSON object from %s", url)
	}

	return payload, nil
}
