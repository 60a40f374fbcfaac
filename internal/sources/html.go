package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
)

const (
	defaultHTMLMaxPages = 3
	defaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Selectors are CSS selectors evaluated with goquery. Field selectors are
// relative to the Item selection.
type Selectors struct {
	Item        string `mapstructure:"item"`
	Title       string `mapstructure:"title"`
	Company     string `mapstructure:"company"`
	Location    string `mapstructure:"location"`
	Salary      string `mapstructure:"salary"`
	Description string `mapstructure:"description"`
	Link        string `mapstructure:"link"`
	// IDAttr names an attribute of the item element holding the listing id.
	// The resolved link is used when it is empty or missing.
	IDAttr string `mapstructure:"id-attr"`
	Next   string `mapstructure:"next"`
}

// HTMLConfig describes a board scraped from its result pages.
// URL may contain {keywords}, {location} and {radius} placeholders.
type HTMLConfig struct {
	Enabled   bool      `mapstructure:"enabled"`
	URL       string    `mapstructure:"url"`
	UserAgent string    `mapstructure:"user-agent"`
	MaxPages  int       `mapstructure:"max-pages"`
	Selectors Selectors `mapstructure:"selectors"`
	Limit     `mapstructure:",squash"`
}

// HTML scrapes listings out of search result pages.
type HTML struct {
	name      string
	start     string
	userAgent string
	maxPages  int
	sel       Selectors
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewHTML(name string, cfg HTMLConfig, search Search, client *http.Client, log *zap.Logger) (*HTML, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errors.New("html adapter needs a name")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%s: url is not configured", name)
	}
	if cfg.Selectors.Item == "" || cfg.Selectors.Title == "" {
		return nil, fmt.Errorf("%s: item and title selectors are required", name)
	}

	start := expandURL(cfg.URL, search)
	if _, err := url.Parse(start); err != nil {
		return nil, fmt.Errorf("%s: parsing url: %w", name, err)
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultHTMLMaxPages
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}

	return &HTML{
		name:      name,
		start:     start,
		userAgent: cfg.UserAgent,
		maxPages:  cfg.MaxPages,
		sel:       cfg.Selectors,
		client:    client,
		limiter:   cfg.limiter(),
		logger:    logger.WithFields(log, zap.String(logger.FieldPlatform, name)),
	}, nil
}

func (h *HTML) Name() string { return h.name }

// Scrape follows the Next link until maxResults records were collected or
// the page limit is hit.
func (h *HTML) Scrape(ctx context.Context, maxResults int) ([]jobs.Raw, error) {
	var out []jobs.Raw
	seen := make(map[string]struct{})
	pageURL := h.start

	for page := 1; page <= h.maxPages && pageURL != ""; page++ {
		doc, base, err := h.fetch(ctx, pageURL)
		if err != nil {
			return out, fmt.Errorf("page %d: %w", page, err)
		}

		full := false
		doc.Find(h.sel.Item).EachWithBreak(func(_ int, item *goquery.Selection) bool {
			raw, ok := h.parseItem(item, base)
			if !ok {
				return true
			}
			id := raw[jobs.RawID].(string)
			if _, dup := seen[id]; dup {
				return true
			}
			seen[id] = struct{}{}
			out = append(out, raw)
			if maxResults > 0 && len(out) >= maxResults {
				full = true
				return false
			}
			return true
		})
		if full {
			return out, nil
		}

		pageURL = ""
		if h.sel.Next != "" {
			if href, ok := doc.Find(h.sel.Next).First().Attr("href"); ok {
				pageURL = resolve(base, href)
			}
		}
	}

	return out, nil
}

func (h *HTML) fetch(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	if err := waitLimiter(ctx, h.limiter); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%s returned %d", h.name, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing html: %w", err)
	}
	return doc, resp.Request.URL, nil
}

func (h *HTML) parseItem(item *goquery.Selection, base *url.URL) (jobs.Raw, bool) {
	title := text(item, h.sel.Title)
	if title == "" {
		h.logger.Debug("skipping item without title")
		return nil, false
	}

	var link string
	if h.sel.Link != "" {
		if href, ok := item.Find(h.sel.Link).First().Attr("href"); ok {
			link = resolve(base, href)
		}
	}

	id := ""
	if h.sel.IDAttr != "" {
		id, _ = item.Attr(h.sel.IDAttr)
		id = strings.TrimSpace(id)
	}
	if id == "" {
		id = link
	}
	if id == "" {
		h.logger.Debug("skipping item without id", zap.String("title", title))
		return nil, false
	}

	raw := jobs.Raw{
		jobs.RawPlatform:    h.name,
		jobs.RawID:          id,
		jobs.RawTitle:       title,
		jobs.RawCompany:     text(item, h.sel.Company),
		jobs.RawLocation:    text(item, h.sel.Location),
		jobs.RawDescription: text(item, h.sel.Description),
		jobs.RawURL:         link,
	}
	if s := text(item, h.sel.Salary); s != "" {
		raw[jobs.RawSalary] = s
	}
	return raw, true
}

func text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(item.Find(selector).First().Text()), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func expandURL(tmpl string, s Search) string {
	r := strings.NewReplacer(
		"{keywords}", url.QueryEscape(s.Keywords),
		"{location}", url.QueryEscape(s.Where()),
		"{radius}", strconv.Itoa(s.RadiusMiles),
	)
	return r.Replace(strings.TrimSpace(tmpl))
}
