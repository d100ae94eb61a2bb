package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxBodyBytes = 32 << 20

// Client issues upstream requests and classifies failures into the ingest error taxonomy.
type Client struct {
	http      *http.Client
	stream    *http.Client
	userAgent string
}

func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		http: &http.Client{Timeout: timeout, Transport: transport},
		// Streams run indefinitely; only connection setup and headers are bounded.
		stream:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

func (c *Client) newRequest(ctx context.Context, url string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(req.Context().Err(), context.Canceled) {
			return nil, req.Context().Err()
		}
		return nil, &TransportError{URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProtocolError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// Get fetches url and returns the whole body.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := c.newRequest(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.http, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	if len(body) > maxBodyBytes {
		return nil, &ParseError{Source: url, Err: fmt.Errorf("body exceeds %d bytes", maxBodyBytes)}
	}
	return body, nil
}

// Stream opens a long-lived response. The caller owns and must close the body.
func (c *Client) Stream(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.stream, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
