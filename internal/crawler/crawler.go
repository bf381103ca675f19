package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	colly "github.com/gocolly/colly/v2"
)

// PageContent is the readable text pulled from a single web page.
type PageContent struct {
	URL   string
	Title string
	Text  string
}

// FetchPage downloads one page and extracts its readable text for
// ingestion. Only http(s) URLs are accepted; no link following, no JS
// rendering. Chrome-less fetching misses client-rendered content,
// which is an accepted limitation of URL ingestion.
func FetchPage(rawURL string) (*PageContent, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", rawURL)
	}

	var (
		body     []byte
		fetchErr error
	)

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.UserAgent("kb-retriever/1.0"),
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(parsed.String()); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", parsed.String(), err)
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", parsed.String(), fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response from %s", parsed.String())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", parsed.String(), err)
	}

	return &PageContent{
		URL:   parsed.String(),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  extractReadableText(doc),
	}, nil
}

// extractReadableText collects visible text, skipping boilerplate
// containers. Block elements become paragraph breaks so the chunker
// sees word boundaries.
func extractReadableText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		line := strings.Join(strings.Fields(s.Text()), " ")
		if line == "" {
			return
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	})

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// Pages without semantic markup still deserve a best effort.
		text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	return strings.TrimSpace(text)
}
