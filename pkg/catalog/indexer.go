package catalog

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"tsegrab/pkg/docquery"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
)

// PageFetcher retrieves and parses a remote page. Implemented by
// portal.Client; tests substitute fixture documents.
type PageFetcher interface {
	FetchDocument(ctx context.Context, url string) (*docquery.Document, error)
}

// yearPattern extracts the election year from a catalog link label.
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Indexer walks the portal's catalog listing pages and produces the list
// of available periods.
type Indexer struct {
	fetcher  PageFetcher
	rootURL  string
	maxPages int
	logger   logger.Logger
}

// NewIndexer creates an Indexer rooted at the catalog listing URL.
// maxPages bounds pagination against malformed "next" loops.
func NewIndexer(fetcher PageFetcher, rootURL string, maxPages int, log logger.Logger) *Indexer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Indexer{
		fetcher:  fetcher,
		rootURL:  rootURL,
		maxPages: maxPages,
		logger:   log,
	}
}

// DiscoverPeriods fetches the catalog listing, following pagination, and
// returns the discovered periods sorted newest first with duplicate labels
// removed. Only an unreachable first page is fatal; later pages that fail
// or yield nothing end pagination with what was collected so far.
func (ix *Indexer) DiscoverPeriods(ctx context.Context) ([]models.Period, error) {
	var periods []models.Period
	seen := make(map[string]bool)

	pageURL := ix.rootURL
	for page := 1; page <= ix.maxPages && pageURL != ""; page++ {
		doc, err := ix.fetcher.FetchDocument(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("catalog root unreachable: %w", err)
			}
			ix.logger.WarnWithFields("catalog page unreachable, stopping pagination", map[string]interface{}{
				"page":  page,
				"url":   pageURL,
				"error": err.Error(),
			})
			break
		}

		found := extractPeriods(doc, pageURL)
		if len(found) == 0 {
			ix.logger.WarnWithFields("no period links on catalog page", map[string]interface{}{
				"page": page,
				"url":  pageURL,
			})
		}

		for _, p := range found {
			if seen[p.Label] {
				continue
			}
			seen[p.Label] = true
			periods = append(periods, p)
		}

		pageURL = nextPageURL(doc, pageURL)
	}

	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Label > periods[j].Label
	})

	ix.logger.InfoWithFields("catalog discovery complete", map[string]interface{}{
		"periods": len(periods),
	})

	return periods, nil
}

// extractPeriods pulls period label/link pairs out of a listing page.
// The portal labels period groups "Candidatos - <year>".
func extractPeriods(doc *docquery.Document, pageURL string) []models.Period {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var periods []models.Period
	for _, link := range doc.FindByText("a[href]", "candidatos") {
		label := yearPattern.FindString(link.Text())
		if label == "" {
			continue
		}

		href, ok := link.Attr("href")
		if !ok {
			continue
		}
		resolved := resolveURL(base, href)
		if resolved == "" {
			continue
		}

		periods = append(periods, models.Period{
			Label:      label,
			CatalogURL: resolved,
		})
	}

	return periods
}

// nextPageURL finds the pagination "next" link, if any.
func nextPageURL(doc *docquery.Document, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	candidates := doc.Find(".pagination a[rel='next']")
	if len(candidates) == 0 {
		for _, link := range doc.Find(".pagination a[href]") {
			text := strings.ToLower(link.Text())
			if text == "»" || strings.Contains(text, "próxima") || strings.Contains(text, "next") {
				candidates = append(candidates, link)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	href, ok := candidates[0].Attr("href")
	if !ok {
		return ""
	}
	return resolveURL(base, href)
}

// resolveURL resolves href against base, returning "" for anything that is
// not an http(s) URL.
func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
