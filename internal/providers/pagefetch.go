package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/pkg/httpretry"
)

// maxPageBytes bounds how much of a fetched page research will keep.
const maxPageBytes = 256 * 1024

// PageFetcher implements EnrichmentFetcher with a plain retrying GET and a
// crude tag strip. Research wants prose for the LLM, not markup.
type PageFetcher struct {
	client httpretry.HTTPDoer
}

// NewPageFetcher builds the fetcher.
func NewPageFetcher() *PageFetcher {
	return &PageFetcher{
		client: httpretry.NewRetryClient(&http.Client{Timeout: 20 * time.Second}, 2),
	}
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// FetchPage GETs the URL and returns its visible text, capped at
// maxPageBytes of raw body.
func (f *PageFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("pagefetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; outreach-research/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pagefetch: %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pagefetch: %s: status %d", pageURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("pagefetch: read %s: %w", pageURL, err)
	}

	text := scriptRe.ReplaceAllString(string(raw), " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = spaceRe.ReplaceAllString(text, " ")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}
