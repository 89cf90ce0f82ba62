// Package geoset keeps the China address sets in sync with a remote
// newline-delimited CIDR list.
package geoset

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxListSize bounds the downloaded list (10 MiB).
const MaxListSize = 10 * 1024 * 1024

// Source returns the raw text of a CIDR list.
type Source interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Fetcher downloads CIDR lists over HTTP(S).
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch GETs url and returns the body as text. Non-200 responses are errors.
// Gzip bodies (by suffix or Content-Encoding) are decompressed.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	defer f.client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("geoset: fetch: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geoset: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geoset: fetch %s: status %d", url, resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(url, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("geoset: fetch %s: gzip: %w", url, err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(io.LimitReader(reader, MaxListSize+1))
	if err != nil {
		return "", fmt.Errorf("geoset: fetch %s: read body: %w", url, err)
	}
	if len(data) > MaxListSize {
		return "", fmt.Errorf("geoset: fetch %s: list exceeds %d bytes", url, MaxListSize)
	}
	return string(data), nil
}

// ParseCIDRList returns the trimmed lines of text that look like CIDRs.
// Blank lines and lines without a "/" are dropped; nothing else is checked,
// so malformed entries surface later as tool errors. On a scan error the
// lines read so far are returned with the error.
func ParseCIDRList(text string) ([]string, error) {
	var cidrs []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.Contains(line, "/") {
			continue
		}
		cidrs = append(cidrs, line)
	}
	if err := scanner.Err(); err != nil {
		return cidrs, fmt.Errorf("geoset: parse list: %w", err)
	}
	return cidrs, nil
}
