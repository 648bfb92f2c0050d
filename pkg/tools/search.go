package tools

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Searcher answers web search queries. site, when set, restricts results to
// one website.
type Searcher interface {
	Search(ctx context.Context, query, site string) (string, error)
}

// DefaultSearchResults is how many results are read back to the model.
const DefaultSearchResults = 5

// GoogleSearcher queries the Google Custom Search JSON API.
type GoogleSearcher struct {
	svc      *customsearch.Service
	engineID string
	num      int64
}

// NewGoogleSearcher creates a searcher for the given programmable search
// engine. Extra client options are passed to the API client.
func NewGoogleSearcher(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	if apiKey == "" || engineID == "" {
		return nil, fmt.Errorf("tools: google search needs an api key and engine id")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tools: create custom search service: %w", err)
	}
	return &GoogleSearcher{svc: svc, engineID: engineID, num: DefaultSearchResults}, nil
}

// Search implements Searcher.
func (g *GoogleSearcher) Search(ctx context.Context, query, site string) (string, error) {
	call := g.svc.Cse.List().Q(query).Cx(g.engineID).Num(g.num).Context(ctx)
	if site != "" {
		call = call.SiteSearch(siteHost(site)).SiteSearchFilter("i")
	}
	res, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("Web search error: %v", err)
	}
	if len(res.Items) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, item := range res.Items {
		fmt.Fprintf(&b, "%d. %s: %s (%s)\n", i+1, item.Title, strings.TrimSpace(item.Snippet), item.Link)
	}
	return strings.TrimSpace(b.String()), nil
}

// siteHost reduces a URL or bare domain to its host.
func siteHost(site string) string {
	site = strings.TrimSpace(site)
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return strings.TrimSpace(site)
	}
	return strings.TrimPrefix(u.Host, "www.")
}

var _ Searcher = (*GoogleSearcher)(nil)
