package ebay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Request is one GET against the listings endpoint.
type Request struct {
	URL     string
	Query   url.Values
	Header  http.Header
	Proxy   string
	Timeout time.Duration
}

// Response carries the status and the full body.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport is the network fetch primitive the Fetcher relies on.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport implements Transport on net/http, keeping one client per
// proxy so connections are reused within a run.
type HTTPTransport struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPTransport returns a ready transport.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{clients: make(map[string]*http.Client)}
}

func (t *HTTPTransport) client(proxy string) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[proxy]; ok {
		return c, nil
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
		}
		tr.Proxy = http.ProxyURL(u)
	} else {
		tr.Proxy = nil
	}

	c := &http.Client{Transport: tr}
	t.clients[proxy] = c
	return c, nil
}

// Do issues the request. The timeout covers connect, headers and body.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	c, err := t.client(r.Proxy)
	if err != nil {
		return nil, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for k, vs := range r.Query {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
