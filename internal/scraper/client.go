// Package scraper builds species knowledge-base records from Wikipedia.
// It resolves the best article for a species, validates that the page is
// actually about an organism, and emits records ready for the ingestion
// pipeline.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/models"
)

// taxonomicTerms is the vocabulary scanned for in a page summary before
// the page is accepted as a species article. Covers both plants and
// animals.
var taxonomicTerms = []string{
	"species", "plant", "animal", "flower", "tree", "shrub", "herb",
	"bird", "mammal", "reptile", "amphibian", "insect", "fish",
	"family", "genus", "botanical", "zoological", "flora", "fauna",
	"leaf", "stem", "wing", "feather", "habitat", "distribution",
}

// Category is one species entry from an iNaturalist-style taxonomy file.
type Category struct {
	Name       string `json:"name"`
	CommonName string `json:"common_name"`
	Family     string `json:"family"`
	Genus      string `json:"genus"`
	Order      string `json:"order"`
	Class      string `json:"class"`
	Phylum     string `json:"phylum"`
	Kingdom    string `json:"kingdom"`
}

type categoriesFile struct {
	Categories []Category `json:"categories"`
}

// LoadCategories reads species categories from a taxonomy JSON file.
func LoadCategories(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories file: %w", err)
	}
	var file categoriesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse categories file: %w", err)
	}
	return file.Categories, nil
}

// Stats tracks scraping outcomes.
type Stats struct {
	Processed  int
	Successful int
	Failed     int
	NotFound   int
}

// Client scrapes Wikipedia through the MediaWiki action API.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger

	rateMu      sync.Mutex
	lastRequest time.Time

	statsMu sync.Mutex
	stats   Stats
}

// NewClient creates a new scraper client.
func NewClient(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Stats returns a snapshot of the scraping counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Client) rateLimit() {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	if wait := c.config.RequestDelay - time.Since(c.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
}

func (c *Client) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	c.rateLimit()

	params.Set("format", "json")
	params.Set("formatversion", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia API error: status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

type pageInfo struct {
	Title   string
	Extract string
	URL     string
}

type extractResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// fetchExtract loads a page's plain-text extract. introOnly limits the
// extract to the lead section.
func (c *Client) fetchExtract(ctx context.Context, title string, introOnly bool) (*pageInfo, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts|info")
	params.Set("explaintext", "1")
	params.Set("redirects", "1")
	params.Set("inprop", "url")
	params.Set("titles", title)
	if introOnly {
		params.Set("exintro", "1")
	}

	body, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extract response: %w", err)
	}
	if len(parsed.Query.Pages) == 0 || parsed.Query.Pages[0].Missing {
		return nil, nil
	}

	page := parsed.Query.Pages[0]
	return &pageInfo{Title: page.Title, Extract: page.Extract, URL: page.FullURL}, nil
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

func (c *Client) searchTitles(ctx context.Context, term string) ([]string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", term)
	params.Set("srlimit", fmt.Sprintf("%d", c.config.SearchLimit))

	body, err := c.doRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	titles := make([]string, 0, len(parsed.Query.Search))
	for _, result := range parsed.Query.Search {
		titles = append(titles, result.Title)
	}
	return titles, nil
}

// looksTaxonomic reports whether the summary's opening text mentions any
// organism vocabulary.
func (c *Client) looksTaxonomic(summary string) bool {
	window := strings.ToLower(summary)
	if len(window) > c.config.ValidationChars {
		window = window[:c.config.ValidationChars]
	}
	for _, term := range taxonomicTerms {
		if strings.Contains(window, term) {
			return true
		}
	}
	return false
}

// searchTerms builds the candidate queries for a species, most specific
// first.
func searchTerms(scientificName, commonName, kingdom string) []string {
	terms := []string{scientificName, scientificName + " species"}

	switch strings.ToLower(kingdom) {
	case "plantae":
		terms = append(terms, scientificName+" plant")
	case "animalia":
		terms = append(terms, scientificName+" animal")
	}

	if commonName != "" {
		terms = append(terms, commonName, commonName+" "+scientificName)
		switch strings.ToLower(kingdom) {
		case "plantae":
			terms = append(terms, commonName+" plant")
		case "animalia":
			terms = append(terms, commonName+" animal")
		}
	}
	return terms
}

// FindSpeciesPage resolves the best Wikipedia article title for a
// species, or "" when no validated page is found.
func (c *Client) FindSpeciesPage(ctx context.Context, scientificName, commonName, kingdom string) (string, error) {
	for _, term := range searchTerms(scientificName, commonName, kingdom) {
		// Direct page access first.
		page, err := c.fetchExtract(ctx, term, true)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			c.logger.WithError(err).WithField("term", term).Debug("Direct page lookup failed")
		} else if page != nil && c.looksTaxonomic(page.Extract) {
			return page.Title, nil
		}

		titles, err := c.searchTitles(ctx, term)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			c.logger.WithError(err).WithField("term", term).Debug("Search failed")
			continue
		}
		for _, title := range titles {
			candidate, err := c.fetchExtract(ctx, title, true)
			if err != nil || candidate == nil {
				continue
			}
			if c.looksTaxonomic(candidate.Extract) {
				return candidate.Title, nil
			}
		}
	}
	return "", nil
}

// Scrape resolves and extracts one species. Failures are recorded in the
// returned record's Error field instead of an error return, so a batch
// run keeps going.
func (c *Client) Scrape(ctx context.Context, category Category) models.SpeciesRecord {
	record := models.SpeciesRecord{
		ScientificName: category.Name,
		CommonName:     category.CommonName,
		Family:         category.Family,
		Genus:          category.Genus,
		Order:          category.Order,
		Class:          category.Class,
		Phylum:         category.Phylum,
		Kingdom:        category.Kingdom,
	}

	c.statsMu.Lock()
	c.stats.Processed++
	c.statsMu.Unlock()

	title, err := c.FindSpeciesPage(ctx, category.Name, category.CommonName, category.Kingdom)
	if err != nil {
		record.Error = err.Error()
		c.countFailure(false)
		return record
	}
	if title == "" {
		record.Error = "no suitable Wikipedia page found"
		c.countFailure(true)
		return record
	}

	summary, err := c.fetchExtract(ctx, title, true)
	if err != nil || summary == nil {
		record.Error = "failed to load page summary"
		c.countFailure(false)
		return record
	}

	full, err := c.fetchExtract(ctx, title, false)
	if err != nil || full == nil {
		record.Error = "failed to load page content"
		c.countFailure(false)
		return record
	}

	content := full.Extract
	if len(content) > c.config.MaxContentChars {
		content = content[:c.config.MaxContentChars]
	}

	record.WikipediaURL = full.URL
	record.Summary = summary.Extract
	record.Content = content

	c.statsMu.Lock()
	c.stats.Successful++
	c.statsMu.Unlock()
	return record
}

func (c *Client) countFailure(notFound bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if notFound {
		c.stats.NotFound++
	} else {
		c.stats.Failed++
	}
}

// ScrapeBatch scrapes every category with a bounded worker pool. Results
// keep the input order.
func (c *Client) ScrapeBatch(ctx context.Context, categories []Category) []models.SpeciesRecord {
	results := make([]models.SpeciesRecord, len(categories))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.Scrape(ctx, categories[i])
			}
		}()
	}

	for i := range categories {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		}
		if (i+1)%10 == 0 {
			c.logger.WithFields(logrus.Fields{
				"queued": i + 1,
				"total":  len(categories),
			}).Info("Scraping progress")
		}
	}
	close(jobs)
	wg.Wait()

	return results
}
