package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	// Organization and Category are stamped on every scraped document.
	// Organization defaults to the site host.
	Organization string
	Category     string
	OnProgress   func(url string)
	Logger       *zap.Logger
	Now          func() time.Time
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
}

var idUnsafeRe = regexp.MustCompile(`[^a-z0-9]+`)

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", config.BaseURL)
	}
	if config.Organization == "" {
		config.Organization = parsedURL.Host
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
	}, nil
}

// DocumentID derives a stable document identifier from a page URL.
func DocumentID(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return strings.Trim(idUnsafeRe.ReplaceAllString(strings.ToLower(pageURL), "-"), "-")
	}
	return strings.Trim(idUnsafeRe.ReplaceAllString(strings.ToLower(u.Host+u.Path), "-"), "-")
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != s.baseHost {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// Polish and English cookie banners and footers found on gov.pl pages.
var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
	"Polityka prywatności",
	"Akceptuję pliki cookies",
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.Join(strings.Fields(content), " ")
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer").Remove()

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".article-area",
		"#main-content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

// Scrape crawls pages reachable from startURL on the same host and returns
// one document per page with content. Failures below the start page are
// logged and skipped.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Document, error) {
	var documents []models.Document
	err := s.scrapeRecursive(ctx, startURL, 0, &documents)
	return documents, err
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, documents *[]models.Document) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	doc, resp, err := s.fetch(ctx, urlStr)
	if err != nil {
		return err
	}

	if content := extractMainContent(doc); content != "" {
		*documents = append(*documents, s.newDocument(urlStr, doc, resp, content, depth))
	} else {
		s.config.Logger.Debug("skipping page without content", zap.String("url", urlStr))
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		link, err := resolve(urlStr, href)
		if err != nil {
			s.config.Logger.Debug("skipping link", zap.String("href", href), zap.Error(err))
			return
		}
		links = append(links, link)
	})

	for _, link := range links {
		if err := s.scrapeRecursive(ctx, link, depth+1, documents); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.config.Logger.Warn("failed to scrape page", zap.String("url", link), zap.Error(err))
		}
	}
	return nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string) (*goquery.Document, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	return doc, resp, nil
}

func (s *Scraper) newDocument(urlStr string, doc *goquery.Document, resp *http.Response, content string, depth int) models.Document {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = urlStr
	}

	verified := s.config.Now()
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		verified = lm
	}

	return models.Document{
		ID:      DocumentID(urlStr),
		Content: content,
		Metadata: models.DocumentMetadata{
			Title:        title,
			Organization: s.config.Organization,
			Category:     s.config.Category,
			URL:          urlStr,
			LastVerified: verified.UTC().Format("2006-01-02"),
			Extra: map[string]any{
				"depth":        depth,
				"content_type": resp.Header.Get("Content-Type"),
				"source":       "scraper",
			},
		},
	}
}

func resolve(base, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return "", err
		}
		ref = b.ResolveReference(ref)
	}
	ref.Fragment = ""
	return ref.String(), nil
}
