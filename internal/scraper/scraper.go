package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"jwstascii-lambda-updater/internal/config"
	"jwstascii-lambda-updater/pkg/logger"

	"golang.org/x/net/html"
)

// imagePathPattern matches gallery links that point at individual image pages.
var imagePathPattern = regexp.MustCompile(`/contents/media/images/`)

// aboutPattern locates the header introducing the image description.
var aboutPattern = regexp.MustCompile(`(?i)about`)

// creditsPattern locates the header introducing the image credits.
var creditsPattern = regexp.MustCompile(`(?i)credits`)

// Scraper extracts image metadata from the JWST public gallery. Gallery
// pages are fetched one at a time; ImageLinks operates on the page fetched
// by the last NextGalleryPage call.
type Scraper struct {
	client      *http.Client
	logger      *logger.Logger
	galleryURL  string
	maxRetries  int
	backoff     time.Duration
	page        int
	galleryHTML string
}

// New creates a scraper for the configured gallery.
func New(cfg config.ScraperConfig, log *logger.Logger) *Scraper {
	if log == nil {
		log = logger.NewLogger(nil)
	}

	return &Scraper{
		client:     &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     log,
		galleryURL: cfg.GalleryURL,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
	}
}

// Reset rewinds gallery pagination so the next NextGalleryPage call fetches
// the first page again.
func (s *Scraper) Reset() {
	s.page = 0
	s.galleryHTML = ""
}

// NextGalleryPage fetches the next gallery search page and keeps its HTML
// for ImageLinks.
func (s *Scraper) NextGalleryPage(ctx context.Context) error {
	s.page++
	pageURL := fmt.Sprintf("%s?Type=Observations&itemsPerPage=100&page=%d", s.galleryURL, s.page)

	s.logger.Debug().
		Int("page", s.page).
		Str("url", pageURL).
		Msg("Fetching gallery page")

	body, err := s.GetWithRetries(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("failed to fetch gallery page %d: %w", s.page, err)
	}

	s.galleryHTML = body
	return nil
}

// ImageLinks returns the image page URLs found on the current gallery page.
// Links matching any of the ignore patterns are dropped. An empty result
// with no ignore patterns means the gallery has no further pages.
func (s *Scraper) ImageLinks(ignorePatterns []string) ([]string, error) {
	ignore := make([]*regexp.Regexp, 0, len(ignorePatterns))
	for _, pattern := range ignorePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		ignore = append(ignore, re)
	}

	doc, err := html.Parse(strings.NewReader(s.galleryHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gallery page: %w", err)
	}

	base, err := url.Parse(s.galleryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gallery URL: %w", err)
	}

	seen := make(map[string]bool)
	var links []string

	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}

		href := attr(n, "href")
		if href == "" || !imagePathPattern.MatchString(href) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		link := base.ResolveReference(ref).String()

		for _, re := range ignore {
			if re.MatchString(link) {
				return true
			}
		}

		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
		return true
	})

	return links, nil
}

// GetWithRetries fetches the URL, retrying transient failures with a short
// backoff up to the configured attempt limit.
func (s *Scraper) GetWithRetries(ctx context.Context, rawURL string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		body, err := s.get(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		s.logger.Warn().
			Err(err).
			Str("url", rawURL).
			Int("attempt", attempt).
			Msg("Request failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}

	return "", fmt.Errorf("failed to fetch %s after %d attempts: %w", rawURL, s.maxRetries, lastErr)
}

func (s *Scraper) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// ImageTitle returns the page's headline image title.
func (s *Scraper) ImageTitle(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse image page: %w", err)
	}

	var title string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "h1" {
			title = strings.TrimSpace(text(n))
			return false
		}
		return true
	})

	if title == "" {
		return "", fmt.Errorf("could not find image title on page")
	}
	return title, nil
}

// ImageDescription returns the description markup of an image page: the
// content between the "About ..." header and the footer, reduced to its
// paragraph and anchor elements.
func (s *Scraper) ImageDescription(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse image page: %w", err)
	}

	header := findHeader(doc, "h4", aboutPattern)
	footer := findElement(doc, "footer")
	if header == nil || footer == nil {
		return "", fmt.Errorf("could not find image description on page, missing header or footer")
	}

	var sb strings.Builder
	for sibling := header.NextSibling; sibling != nil; sibling = sibling.NextSibling {
		if sibling == footer {
			break
		}
		renderKept(&sb, sibling)
	}

	description := sb.String()
	if description == "" {
		return "", fmt.Errorf("image description is empty")
	}
	return description, nil
}

// ImageCredits returns the credits text of an image page.
func (s *Scraper) ImageCredits(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse image page: %w", err)
	}

	header := findHeader(doc, "h4", creditsPattern)
	if header == nil {
		header = findHeader(doc, "h3", creditsPattern)
	}
	if header == nil {
		return "", fmt.Errorf("could not find image credits on page")
	}

	var sb strings.Builder
	for sibling := header.NextSibling; sibling != nil; sibling = sibling.NextSibling {
		sb.WriteString(text(sibling))
	}

	credits := strings.TrimSpace(sb.String())
	if credits == "" {
		return "", fmt.Errorf("image credits are empty")
	}
	return credits, nil
}

// ImageDownloadURL returns the full-resolution image link of an image page.
// PNG downloads are preferred over TIFF.
func (s *Scraper) ImageDownloadURL(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse image page: %w", err)
	}

	var pngURL, tifURL string
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}

		href := attr(n, "href")
		trimmed := strings.ToLower(strings.SplitN(href, "?", 2)[0])
		switch {
		case strings.HasSuffix(trimmed, ".png") && pngURL == "":
			pngURL = href
		case strings.HasSuffix(trimmed, ".tif") && tifURL == "":
			tifURL = href
		}
		return true
	})

	link := pngURL
	if link == "" {
		link = tifURL
	}
	if link == "" {
		return "", fmt.Errorf("could not find image download link on page")
	}

	// Gallery download links are scheme-relative.
	if strings.HasPrefix(link, "//") {
		link = "https:" + link
	}
	return link, nil
}

// DownloadImage fetches the image at the given URL into destDir and returns
// the stored file name.
func (s *Scraper) DownloadImage(ctx context.Context, rawURL, destDir string) (string, error) {
	body, err := s.GetWithRetries(ctx, rawURL)
	if err != nil {
		return "", err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid image URL: %w", err)
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("cannot derive file name from %s", rawURL)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	outPath := filepath.Join(destDir, name)
	if err := os.WriteFile(outPath, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	s.logger.Info().
		Str("url", rawURL).
		Str("path", outPath).
		Msg("Image downloaded")

	return name, nil
}

// Helper functions for HTML traversal

// walk visits nodes depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// text returns the concatenated text content of a node.
func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}

	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(text(c))
	}
	return sb.String()
}

// findHeader finds the first element of the given name whose text matches
// the pattern.
func findHeader(doc *html.Node, name string, pattern *regexp.Regexp) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == name && pattern.MatchString(text(n)) {
			found = n
			return false
		}
		return true
	})
	return found
}

func findElement(doc *html.Node, name string) *html.Node {
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// renderKept serializes the paragraph and anchor elements beneath n,
// dropping any other wrapper elements.
func renderKept(sb *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "a") {
		html.Render(sb, n)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderKept(sb, c)
	}
}
