// Package client talks to a running framecast device.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// ErrStop ends Stream without an error when returned by the part callback.
var ErrStop = errors.New("stop stream")

type Client struct {
	BaseURL string
	// StreamURL is the base for /stream when the device serves it on a
	// separate port. Empty means BaseURL.
	StreamURL  string
	HTTPClient *http.Client
	// MaxPartSize bounds one stream part. Zero means DefaultMaxPartSize.
	MaxPartSize int
	// User and Password are sent as basic auth when User is set.
	User     string
	Password string
}

// DefaultMaxPartSize fits an uncompressed UXGA BMP.
const DefaultMaxPartSize = 8 << 20

// ErrPartTooLarge is returned by Stream for a part above MaxPartSize.
var ErrPartTooLarge = errors.New("stream part too large")

func (c *Client) maxPartSize() int {
	if c.MaxPartSize > 0 {
		return c.MaxPartSize
	}
	return DefaultMaxPartSize
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
	}
}

// StatusError is returned for non-200 responses; Message is the body.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device returned %d: %s", e.Code, e.Message)
}

type Snapshot struct {
	ContentType string
	Timestamp   string
	Data        []byte
}

// Part is one image of a stream.
type Part struct {
	ContentType string
	Data        []byte
}

func (c *Client) get(ctx context.Context, base, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, c.BaseURL, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Snapshot fetches one encoded image.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	resp, err := c.get(ctx, c.BaseURL, "/capture")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ContentType: resp.Header.Get("Content-Type"),
		Timestamp:   resp.Header.Get("X-Timestamp"),
		Data:        data,
	}, nil
}

func (c *Client) Status(ctx context.Context) (map[string]int, error) {
	var st map[string]int
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return nil, err
	}
	return st, nil
}

// Control sets one control and reports whether the device applied it.
func (c *Client) Control(ctx context.Context, name string, value int) (bool, error) {
	q := url.Values{"var": {name}, "val": {strconv.Itoa(value)}}
	var res struct {
		Applied bool `json:"applied"`
	}
	if err := c.getJSON(ctx, "/control?"+q.Encode(), &res); err != nil {
		return false, err
	}
	return res.Applied, nil
}

// Stream reads parts from /stream and hands each to fn until fn returns an
// error, the device closes the stream or ctx is done.
func (c *Client) Stream(ctx context.Context, fn func(Part) error) error {
	base := c.StreamURL
	if base == "" {
		base = c.BaseURL
	}
	resp, err := c.get(ctx, strings.TrimRight(base, "/"), "/stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type"))
	}
	delim := "--" + params["boundary"]

	br := bufio.NewReader(resp.Body)
	tp := textproto.NewReader(br)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}
		if line != delim {
			return fmt.Errorf("unexpected stream line %q", line)
		}

		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			return fmt.Errorf("failed to read part header: %w", err)
		}
		n, err := strconv.Atoi(hdr.Get("Content-Length"))
		if err != nil || n < 0 {
			return fmt.Errorf("bad part length %q", hdr.Get("Content-Length"))
		}
		if limit := c.maxPartSize(); n > limit {
			return fmt.Errorf("%w: %d bytes, limit %d", ErrPartTooLarge, n, limit)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}

		if err := fn(Part{ContentType: hdr.Get("Content-Type"), Data: data}); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}
