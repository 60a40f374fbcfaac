package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/jobbot/internal/jobs"
	"github.com/spigell/jobbot/internal/logger"
	"github.com/spigell/jobbot/internal/secrets"
)

const (
	AdzunaName = "adzuna"

	// Credential names looked up in the secrets provider.
	AdzunaAppIDSecret  = "adzuna-app-id"
	AdzunaAppKeySecret = "adzuna-app-key"

	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3
	kmPerMile      = 1.609344
)

type AdzunaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Country string `mapstructure:"country"`
	BaseURL string `mapstructure:"base-url"`
	Limit   `mapstructure:",squash"`
}

// Adzuna queries the Adzuna search API.
type Adzuna struct {
	appID   string
	appKey  string
	country string
	baseURL string
	search  Search
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Company      adzunaCompany  `json:"company"`
	Location     adzunaLocation `json:"location"`
	SalaryMin    float64        `json:"salary_min"`
	SalaryMax    float64        `json:"salary_max"`
	RedirectURL  string         `json:"redirect_url"`
	ContractTime string         `json:"contract_time"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

// NewAdzuna fails when either credential is missing.
func NewAdzuna(cfg AdzunaConfig, search Search, creds *secrets.Provider, client *http.Client, log *zap.Logger) (*Adzuna, error) {
	appID, err := creds.Get(AdzunaAppIDSecret)
	if err != nil {
		return nil, err
	}
	appKey, err := creds.Get(AdzunaAppKeySecret)
	if err != nil {
		return nil, err
	}

	country := strings.ToLower(strings.TrimSpace(cfg.Country))
	if country == "" {
		country = "gb"
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = adzunaBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}

	return &Adzuna{
		appID:   appID,
		appKey:  appKey,
		country: country,
		baseURL: base,
		search:  search,
		client:  client,
		limiter: cfg.limiter(),
		logger:  logger.WithFields(log, zap.String(logger.FieldPlatform, AdzunaName)),
	}, nil
}

func (a *Adzuna) Name() string { return AdzunaName }

// Scrape walks result pages until maxResults records were collected, a short
// page is returned or the page limit is hit.
func (a *Adzuna) Scrape(ctx context.Context, maxResults int) ([]jobs.Raw, error) {
	var out []jobs.Raw

	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := a.fetchPage(ctx, page)
		if err != nil {
			return out, fmt.Errorf("page %d: %w", page, err)
		}

		for _, r := range batch {
			raw, ok := a.toRaw(r)
			if !ok {
				a.logger.Debug("skipping adzuna result without id", zap.String("title", r.Title))
				continue
			}
			out = append(out, raw)
			if maxResults > 0 && len(out) >= maxResults {
				return out, nil
			}
		}

		if len(batch) < adzunaPageSize {
			break
		}
	}

	return out, nil
}

func (a *Adzuna) fetchPage(ctx context.Context, page int) ([]adzunaResult, error) {
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/search/%d", a.baseURL, a.country, page)

	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", a.search.Keywords)
	params.Set("where", a.search.Where())
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")
	if a.search.RadiusMiles > 0 {
		params.Set("distance", strconv.Itoa(int(math.Round(float64(a.search.RadiusMiles)*kmPerMile))))
	}
	if a.search.PartTimeOnly {
		params.Set("part_time", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return apiResp.Results, nil
}

func (a *Adzuna) toRaw(r adzunaResult) (jobs.Raw, bool) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return nil, false
	}

	description := r.Description
	if r.ContractTime == "part_time" {
		description = strings.TrimSpace(description + " Part time.")
	}

	raw := jobs.Raw{
		jobs.RawPlatform:    AdzunaName,
		jobs.RawID:          id,
		jobs.RawTitle:       r.Title,
		jobs.RawCompany:     r.Company.DisplayName,
		jobs.RawLocation:    r.Location.DisplayName,
		jobs.RawDescription: description,
		jobs.RawURL:         r.RedirectURL,
	}
	// Salary is already annual; the lower bound matches how text ranges parse.
	if r.SalaryMin > 0 {
		raw[jobs.RawSalary] = r.SalaryMin
	} else if r.SalaryMax > 0 {
		raw[jobs.RawSalary] = r.SalaryMax
	}
	return raw, true
}
