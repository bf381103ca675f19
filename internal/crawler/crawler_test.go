package crawler

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestExtractReadableTextSkipsBoilerplate(t *testing.T) {
	doc := docFromHTML(t, `<html><body>
		<nav>Home About Contact</nav>
		<script>var x = 1;</script>
		<h1>Refund   Policy</h1>
		<p>Refunds are processed within
		   14 days.</p>
		<footer>copyright</footer>
	</body></html>`)

	got := extractReadableText(doc)
	want := "Refund Policy\nRefunds are processed within 14 days."
	if got != want {
		t.Errorf("extractReadableText = %q, want %q", got, want)
	}
}

func TestExtractReadableTextFallsBackToBody(t *testing.T) {
	doc := docFromHTML(t, `<html><body><div>just   a   bare   div</div></body></html>`)

	got := extractReadableText(doc)
	if got != "just a bare div" {
		t.Errorf("extractReadableText = %q, want body fallback text", got)
	}
}

func TestFetchPageRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"ftp://host/file", "file:///etc/passwd", "https://"} {
		if _, err := FetchPage(raw); err == nil {
			t.Errorf("FetchPage(%q) succeeded, want rejection", raw)
		}
	}
}
