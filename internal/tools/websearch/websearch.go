// Package websearch exposes web search as an agent tool, backed by a
// Brave-style search API.
package websearch

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/ratelimit"
	"github.com/itinera-ai/itinera/internal/tools/httpx"
)

const defaultResultCount = 5

// Config configures the search upstream.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Params is the model-facing parameter schema.
type Params struct {
	Query string `json:"query" jsonschema:"description=Search query text"`

	// MaxResults defaults to 5 and is capped at 20.
	MaxResults int `json:"maxResults,omitempty" jsonschema:"description=Maximum number of results to return"`

	// SessionID is a per-conversation marker some callers attach. It
	// never changes the search outcome, so key derivation omits it.
	SessionID string `json:"sessionId,omitempty" jsonschema:"description=Opaque conversation marker"`
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is the tool result.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

type upstreamResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// NewTool builds the bound web search tool.
func NewTool(client *httpx.Client, config Config) guard.Handle {
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return guard.Bind(guard.Tool[Params, Response]{
		Name:        "web_search",
		Description: "Search the web for travel information. Returns titles, URLs, and snippets.",
		Workflow:    ratelimit.WorkflowWebSearch,
		Codes: guard.CodeSet{
			InvalidParams: guard.CodeWebSearchInvalidParams,
			RateLimited:   guard.CodeWebSearchRateLimited,
			Failed:        guard.CodeWebSearchFailed,
		},
		Cache: &guard.CachePolicy{
			Namespace:  "websearch",
			Tag:        "websearch",
			TTL:        ttl,
			OmitFields: []string{"sessionId"},
		},
		Run: func(ctx context.Context, params Params) (Response, error) {
			return search(ctx, client, config, params)
		},
	})
}

func search(ctx context.Context, client *httpx.Client, config Config, params Params) (Response, error) {
	count := params.MaxResults
	if count <= 0 {
		count = defaultResultCount
	}
	if count > 20 {
		count = 20
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("count", strconv.Itoa(count))

	var upstream upstreamResponse
	endpoint := config.BaseURL + "/res/v1/web/search?" + query.Encode()
	headers := map[string]string{"X-Subscription-Token": config.APIKey}
	if err := client.GetJSON(ctx, endpoint, headers, &upstream); err != nil {
		return Response{}, guard.NewToolError(guard.CodeWebSearchFailed, "web search failed", map[string]any{
			"cause": err.Error(),
		})
	}

	response := Response{Query: params.Query}
	for _, hit := range upstream.Web.Results {
		response.Results = append(response.Results, Result{
			Title:   hit.Title,
			URL:     hit.URL,
			Snippet: hit.Description,
		})
		if len(response.Results) >= count {
			break
		}
	}
	return response, nil
}
