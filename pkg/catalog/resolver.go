package catalog

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"tsegrab/pkg/docquery"
	errs "tsegrab/pkg/errors"
	"tsegrab/pkg/logger"
	"tsegrab/pkg/models"
)

// dataExtensions are file endings the portal serves directly; a link with
// one of these needs no secondary navigation step.
var dataExtensions = []string{".zip", ".csv", ".pdf", ".txt", ".xlsx", ".xls", ".jpg", ".jpeg"}

var (
	sizePattern    = regexp.MustCompile(`(?i)\b[\d.,]+\s*(bytes|kb|mb|gb|b)\b`)
	unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	collapseDashes = regexp.MustCompile(`-{2,}`)
)

// Resolver turns a period's detail page into concrete resource
// descriptors, following each "explore" affordance to the page that holds
// the real download URL.
type Resolver struct {
	fetcher PageFetcher
	logger  logger.Logger
}

// NewResolver creates a Resolver.
func NewResolver(fetcher PageFetcher, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Resolver{fetcher: fetcher, logger: log}
}

// ResolveResources fetches the period's detail page and resolves every
// resource listed in its "Dados e recursos" section, in page order. An
// absent section yields an empty result, not an error; individual items
// that fail to resolve are skipped and logged.
func (r *Resolver) ResolveResources(ctx context.Context, period models.Period) ([]models.ResourceDescriptor, error) {
	doc, err := r.fetcher.FetchDocument(ctx, period.CatalogURL)
	if err != nil {
		return nil, err
	}

	// The section is located by heading text, not structural position; the
	// portal's markup moves around between releases.
	if len(doc.FindByText("h1, h2, h3", "dados", "recursos")) == 0 {
		r.logger.DebugWithFields("period has no resources section", map[string]interface{}{
			"period": period.Label,
		})
		return nil, nil
	}

	items := doc.Find("li[class*='resource']")
	resources := make([]models.ResourceDescriptor, 0, len(items))

	for i, item := range items {
		desc, err := r.resolveItem(ctx, item, period.CatalogURL)
		if err != nil {
			r.logger.WarnWithFields("skipping unresolvable resource", map[string]interface{}{
				"period": period.Label,
				"index":  i,
				"error":  err.Error(),
			})
			continue
		}
		resources = append(resources, desc)
	}

	r.logger.InfoWithFields("resolved period resources", map[string]interface{}{
		"period":    period.Label,
		"resources": len(resources),
	})

	return resources, nil
}

// resolveItem resolves a single resource list item into a descriptor.
func (r *Resolver) resolveItem(ctx context.Context, item *docquery.Node, pageURL string) (models.ResourceDescriptor, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return models.ResourceDescriptor{}, errs.Newf(errs.KindParse, "invalid page URL: %v", err)
	}

	title := itemTitle(item)

	link := exploreLink(item)
	if link == nil {
		return models.ResourceDescriptor{}, errs.Newf(errs.KindParse, "no download link for %q", title)
	}

	href, _ := link.Attr("href")
	downloadURL := resolveURL(base, href)
	if downloadURL == "" {
		return models.ResourceDescriptor{}, errs.Newf(errs.KindParse, "malformed link for %q", title)
	}

	// Indirect links point at a resource page that holds the real file URL.
	if !hasDataExtension(downloadURL) {
		resolved, err := r.followResourcePage(ctx, downloadURL)
		if err != nil {
			return models.ResourceDescriptor{}, err
		}
		if resolved != "" {
			downloadURL = resolved
		}
	}

	downloadURL = strings.TrimRight(downloadURL, ". \t\r\n")

	name := fileName(downloadURL, title)

	return models.ResourceDescriptor{
		Name:         name,
		DownloadURL:  downloadURL,
		Format:       formatFromURL(downloadURL),
		DeclaredSize: declaredSize(item),
	}, nil
}

// followResourcePage fetches an intermediate resource page and extracts
// the direct download URL from it.
func (r *Resolver) followResourcePage(ctx context.Context, pageURL string) (string, error) {
	doc, err := r.fetcher.FetchDocument(ctx, pageURL)
	if err != nil {
		return "", err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", errs.Newf(errs.KindParse, "invalid resource page URL: %v", err)
	}

	for _, link := range doc.Find("a[href]") {
		href, _ := link.Attr("href")
		resolved := resolveURL(base, href)
		if resolved == "" {
			continue
		}
		if hasDataExtension(resolved) || strings.Contains(strings.ToLower(resolved), "download") {
			return resolved, nil
		}
	}

	// No direct link found; the caller keeps the page URL, which some
	// portal mirrors serve as the file itself.
	return "", nil
}

// itemTitle extracts the resource title from a list item.
func itemTitle(item *docquery.Node) string {
	for _, heading := range item.Find("a[class*='heading'], h3, h4") {
		if text := heading.Text(); text != "" {
			return text
		}
	}
	for _, link := range item.Find("a[href]") {
		if text := link.Text(); text != "" {
			return text
		}
	}
	return "recurso"
}

// exploreLink finds the affordance that leads to the resource, preferring
// the explicit "Ir para recurso" link.
func exploreLink(item *docquery.Node) *docquery.Node {
	if links := item.FindByText("a[href]", "ir para recurso"); len(links) > 0 {
		return links[0]
	}
	for _, link := range item.Find("a[href]") {
		href, _ := link.Attr("href")
		lower := strings.ToLower(href)
		if hasDataExtension(lower) || strings.Contains(lower, "download") || strings.Contains(lower, "cdn.tse") {
			return link
		}
	}
	return nil
}

// declaredSize parses a size hint from the item text, when one is
// present. Only byte-exact counts are returned; KB/MB listing figures
// are rounded and cannot back resume offsets or size verification.
func declaredSize(item *docquery.Node) int64 {
	m := sizePattern.FindStringSubmatch(item.Text())
	if m == nil {
		return 0
	}
	unit := strings.ToLower(m[1])
	if unit != "b" && unit != "bytes" {
		return 0
	}
	normalized := strings.NewReplacer("bytes", "B", "Bytes", "B", "BYTES", "B", ",", ".").Replace(m[0])
	size, err := humanize.ParseBytes(normalized)
	if err != nil {
		return 0
	}
	return int64(size)
}

// hasDataExtension reports whether the URL path ends in a known data
// file extension.
func hasDataExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	lower := strings.ToLower(u.Path)
	for _, ext := range dataExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// formatFromURL derives the declared format from the URL's extension.
func formatFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".zip":
		return "ZIP"
	case ".csv":
		return "CSV"
	case ".pdf":
		return "PDF"
	case ".txt":
		return "TXT"
	case ".xlsx", ".xls":
		return "XLSX"
	case ".jpg", ".jpeg":
		return "JPEG"
	default:
		return ""
	}
}

// fileName derives a filesystem-safe file name from the download URL,
// falling back to a slug of the resource title.
func fileName(downloadURL, title string) string {
	if u, err := url.Parse(downloadURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return sanitizeFilename(base)
		}
	}

	slug := sanitizeFilename(strings.ReplaceAll(title, " ", "-"))
	if format := formatFromURL(downloadURL); format != "" {
		return slug + "." + strings.ToLower(format)
	}
	return slug
}

// sanitizeFilename strips everything that is not safe in a file name.
func sanitizeFilename(name string) string {
	safe := unsafeFilename.ReplaceAllString(name, "-")
	safe = collapseDashes.ReplaceAllString(safe, "-")
	return strings.Trim(safe, "-.")
}
