package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// SearchWebName is the tool name the model is told about.
const SearchWebName = "search_web"

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	defaultMaxResults     = 5
	maxSearchBody         = 512 * 1024
)

// SearchResult is one hit from the search page.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchWebTool searches the web using DuckDuckGo's HTML endpoint.
type SearchWebTool struct {
	endpoint   string
	client     *http.Client
	maxResults int
}

// NewSearchWebTool creates the search tool. An empty endpoint uses DuckDuckGo.
func NewSearchWebTool(endpoint string) *SearchWebTool {
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	return &SearchWebTool{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: 15 * time.Second},
		maxResults: defaultMaxResults,
	}
}

func (t *SearchWebTool) Name() string { return SearchWebName }
func (t *SearchWebTool) Description() string {
	return "Search the web for information about a topic"
}

func (t *SearchWebTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query"
			}
		},
		"required": ["query"]
	}`)
}

func (t *SearchWebTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	query := QueryFromArgs(args, "")
	if query == "" {
		return &Result{Error: "query is required", IsError: true}, nil
	}

	results, err := t.Search(ctx, query)
	if err != nil {
		return &Result{Error: err.Error(), IsError: true}, nil
	}
	return &Result{Output: FormatResults(query, results)}, nil
}

// Search runs the query and returns the parsed hits.
func (t *SearchWebTool) Search(ctx context.Context, query string) ([]SearchResult, error) {
	searchURL := t.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; slackmind/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	results, err := ParseResults(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	if len(results) > t.maxResults {
		results = results[:t.maxResults]
	}
	return results, nil
}

// ParseResults extracts hits from a DuckDuckGo HTML results page.
func ParseResults(r io.Reader) ([]SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, SearchResult{
					Title: textOf(n),
					URL:   resolveLink(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = textOf(n)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

// FormatResults renders hits as plain text for the model.
func FormatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, r.Title)
		if r.URL != "" {
			sb.WriteString("   " + r.URL + "\n")
		}
		if r.Snippet != "" {
			sb.WriteString("   " + r.Snippet + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// resolveLink unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveLink(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
