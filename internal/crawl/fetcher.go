package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/quarrydocs/quarry/internal/markdown"
	"github.com/quarrydocs/quarry/pkg/models"
)

// Page is one raw fetched page before extraction.
type Page struct {
	URL         string
	Content     string
	ContentType string
	FetchedAt   time.Time
}

// Fetcher retrieves pages starting from a URL. Implementations decide
// whether to follow links; the orchestrator only sees the resulting pages.
type Fetcher interface {
	Fetch(ctx context.Context, startURL string) ([]Page, error)
}

// FetchConfig holds fetcher configuration.
type FetchConfig struct {
	Delay            time.Duration
	MaxDepth         int
	FollowLinks      bool
	UserAgent        string
	Timeout          time.Duration
	TryMarkdownFirst bool // try to fetch a markdown variant of each page
}

// CollyFetcher fetches pages with colly, rate limited, optionally
// following same-host links.
type CollyFetcher struct {
	config     FetchConfig
	httpClient *http.Client
}

// NewCollyFetcher creates a fetcher with the given configuration.
func NewCollyFetcher(config FetchConfig) *CollyFetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "quarry/1.0"
	}
	return &CollyFetcher{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Fetch retrieves the start URL and, when link following is enabled, every
// same-host page reachable within MaxDepth. Cancellation is checked before
// each request; already-fetched pages are returned alongside ctx.Err().
func (f *CollyFetcher) Fetch(ctx context.Context, startURL string) ([]Page, error) {
	var pages []Page
	var mu sync.Mutex
	var cancelled bool
	var lastStatus int

	slog.Debug("starting fetch", "url", startURL, "max_depth", f.config.MaxDepth)

	parsedURL, err := url.Parse(startURL)
	if err != nil {
		return nil, &models.FetchError{URL: startURL, Err: err}
	}

	c := colly.NewCollector(
		colly.MaxDepth(f.config.MaxDepth),
		colly.UserAgent(f.config.UserAgent),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       f.config.Delay,
		Parallelism: 2,
	})
	c.SetRequestTimeout(f.config.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			slog.Debug("fetch cancelled", "url", r.URL.String())
			r.Abort()
			cancelled = true
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		slog.Debug("fetch error", "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
		lastStatus = r.StatusCode
	})

	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= 400 {
			slog.Debug("skipping page with error status", "url", r.Request.URL.String(), "status", r.StatusCode)
			lastStatus = r.StatusCode
			return
		}

		pageURL := r.Request.URL.String()
		content := string(r.Body)
		contentType := r.Headers.Get("Content-Type")

		if f.config.TryMarkdownFirst {
			if mdContent, mdContentType, ok := f.tryMarkdownVariants(ctx, pageURL); ok {
				slog.Debug("using markdown variant", "url", pageURL)
				content = mdContent
				contentType = mdContentType
			}
		}

		mu.Lock()
		pages = append(pages, Page{
			URL:         pageURL,
			Content:     content,
			ContentType: contentType,
			FetchedAt:   time.Now(),
		})
		mu.Unlock()
	})

	if f.config.FollowLinks {
		c.OnHTML("a[href]", func(e *colly.HTMLElement) {
			absoluteURL := e.Request.AbsoluteURL(e.Attr("href"))
			linkURL, err := url.Parse(absoluteURL)
			if err != nil {
				return
			}
			if linkURL.Host == parsedURL.Host {
				e.Request.Visit(absoluteURL)
			}
		})
	}

	visitErr := c.Visit(startURL)
	c.Wait()

	if cancelled {
		slog.Info("fetch cancelled by context", "pages_fetched", len(pages))
		return pages, ctx.Err()
	}

	if len(pages) == 0 {
		err := visitErr
		if err == nil {
			err = fmt.Errorf("no pages fetched")
		}
		return nil, &models.FetchError{URL: startURL, StatusCode: lastStatus, Err: err}
	}

	slog.Debug("fetch complete", "url", startURL, "pages", len(pages))
	return pages, nil
}

// tryMarkdownVariants attempts to fetch markdown versions of the URL.
func (f *CollyFetcher) tryMarkdownVariants(ctx context.Context, pageURL string) (string, string, bool) {
	for _, variantURL := range markdown.URLVariants(pageURL) {
		if ctx.Err() != nil {
			return "", "", false
		}
		if content, contentType, ok := f.tryFetchMarkdown(ctx, variantURL); ok {
			return content, contentType, true
		}
	}
	return "", "", false
}

func (f *CollyFetcher) tryFetchMarkdown(ctx context.Context, url string) (string, string, bool) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", "", false
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", false
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")

	if markdown.Detect(url, contentType, content) {
		return content, contentType, true
	}
	return "", "", false
}
