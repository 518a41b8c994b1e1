package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ebay-harvester/utils"
)

// ListCache stores a downloaded proxy list between process runs.
type ListCache interface {
	Get(ctx context.Context) ([]string, error)
	Set(ctx context.Context, proxies []string, ttl time.Duration) error
}

// Loader assembles the candidate proxy list once at startup.
type Loader struct {
	Static   []string
	ListURL  string
	Client   *http.Client
	Cache    ListCache
	CacheTTL time.Duration
	Retry    *utils.RetryConfig
	Logger   *utils.Logger
}

// Load returns the static proxies plus the remote list. Remote failures are
// logged and leave only the static part; Load never fails.
func (l *Loader) Load(ctx context.Context) []string {
	out := make([]string, 0, len(l.Static))
	for _, s := range l.Static {
		if p, ok := Normalize(s); ok {
			out = append(out, p)
		}
	}
	if l.ListURL == "" {
		return out
	}

	if l.Cache != nil {
		cached, err := l.Cache.Get(ctx)
		if err != nil {
			l.warn("[proxy] cache read failed: %v", err)
		} else if len(cached) > 0 {
			l.info("[proxy] %d proxies from cache", len(cached))
			return append(out, cached...)
		}
	}

	var remote []string
	fetch := func(ctx context.Context) error {
		list, err := l.download(ctx)
		if err != nil {
			return err
		}
		remote = list
		return nil
	}
	var err error
	if l.Retry != nil {
		err = l.Retry.Do(ctx, "proxy-list", fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		l.warn("[proxy] could not load proxy list from %s: %v", l.ListURL, err)
		return out
	}

	l.info("[proxy] %d proxies downloaded from %s", len(remote), l.ListURL)
	if l.Cache != nil && len(remote) > 0 {
		if err := l.Cache.Set(ctx, remote, l.CacheTTL); err != nil {
			l.warn("[proxy] cache write failed: %v", err)
		}
	}
	return append(out, remote...)
}

func (l *Loader) download(ctx context.Context) ([]string, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.ListURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return ParseList(resp.Body)
}

// ParseList reads one proxy per line. Blank lines, "#" comments and
// unusable entries are skipped.
func ParseList(r io.Reader) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, ok := Normalize(line)
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, sc.Err()
}

// Normalize turns "host:port" or a proxy URL into a proxy URL string.
func Normalize(entry string) (string, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", false
	}
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}
	u, err := url.Parse(entry)
	if err != nil || u.Host == "" || u.Port() == "" {
		return "", false
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return "", false
	}
	return u.String(), true
}

func (l *Loader) info(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Info(format, args...)
	}
}

func (l *Loader) warn(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Warn(format, args...)
	}
}
