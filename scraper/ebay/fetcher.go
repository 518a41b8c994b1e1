package ebay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultPageSize = 200
	DefaultTimeout  = 20 * time.Second

	listingsModule = "LISTINGS_MODULE"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultReferer = "https://www.ebay.com/"
)

// FetchError is a failed page fetch: transport error, non-2xx status or an
// envelope that is not valid JSON.
type FetchError struct {
	Page       int
	Proxy      string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	via := "direct"
	if e.Proxy != "" {
		via = "via " + e.Proxy
	}
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch page %d (%s): timeout: %v", e.Page, via, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch page %d (%s): http status %d", e.Page, via, e.StatusCode)
	default:
		return fmt.Sprintf("fetch page %d (%s): %v", e.Page, via, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a fetch that ran out of time.
func IsTimeout(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Timeout
}

var errBadStatus = errors.New("unexpected http status")

// FetcherOptions configures a Fetcher. Zero values take defaults.
type FetcherOptions struct {
	PageSize  int
	Timeout   time.Duration
	UserAgent string
	Referer   string
}

// Fetcher retrieves one page of store listings.
type Fetcher struct {
	transport Transport
	pageSize  int
	timeout   time.Duration
	header    http.Header
}

// NewFetcher builds a Fetcher on top of transport.
func NewFetcher(transport Transport, opts FetcherOptions) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Referer == "" {
		opts.Referer = defaultReferer
	}

	h := http.Header{}
	h.Set("User-Agent", opts.UserAgent)
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Referer", opts.Referer)

	return &Fetcher{
		transport: transport,
		pageSize:  opts.PageSize,
		timeout:   opts.Timeout,
		header:    h,
	}
}

// PageSize is the number of cards a full page holds.
func (f *Fetcher) PageSize() int { return f.pageSize }

// FetchPage returns the raw cards of one page, in envelope order. An empty
// result with a nil error means there is nothing more to read.
func (f *Fetcher) FetchPage(ctx context.Context, baseURL string, page int, proxy string) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("_tab", "shop")
	q.Set("_tabName", "shop")
	q.Set("_pgn", strconv.Itoa(page))
	q.Set("_ipg", strconv.Itoa(f.pageSize))
	q.Set("_ajax", "itemFilter")

	resp, err := f.transport.Do(ctx, Request{
		URL:     baseURL,
		Query:   q,
		Header:  f.header.Clone(),
		Proxy:   proxy,
		Timeout: f.timeout,
	})
	if err != nil {
		return nil, &FetchError{Page: page, Proxy: proxy, Timeout: isTimeout(err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Page: page, Proxy: proxy, StatusCode: resp.StatusCode, Err: errBadStatus}
	}

	cards, err := extractCards(resp.Body)
	if err != nil {
		return nil, &FetchError{Page: page, Proxy: proxy, Err: err}
	}
	return cards, nil
}

type container struct {
	Cards []any `json:"cards"`
}

type listingsModuleBody struct {
	Containers []container `json:"containers"`
}

// extractCards concatenates modules.LISTINGS_MODULE.containers[*].cards.
// Cards that are not objects, such as ad slots, are skipped. Other modules
// are never decoded, whatever their shape.
func extractCards(body []byte) ([]map[string]any, error) {
	var env struct {
		Modules map[string]json.RawMessage `json:"modules"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("envelope parse: %w", err)
	}

	raw, ok := env.Modules[listingsModule]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var mod listingsModuleBody
	if err := dec.Decode(&mod); err != nil {
		return nil, fmt.Errorf("%s parse: %w", listingsModule, err)
	}

	var cards []map[string]any
	for _, c := range mod.Containers {
		for _, raw := range c.Cards {
			if card, ok := raw.(map[string]any); ok {
				cards = append(cards, card)
			}
		}
	}
	return cards, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
