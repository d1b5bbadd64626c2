// Package places exposes place lookup as an agent tool, backed by a
// Google-Places-style text search API.
package places

import (
	"context"
	"net/url"
	"time"

	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/ratelimit"
	"github.com/itinera-ai/itinera/internal/tools/httpx"
)

// Config configures the places upstream.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Params is the model-facing parameter schema.
type Params struct {
	Query string `json:"query" jsonschema:"description=Free-text place query, e.g. 'seafood restaurants near Belem'"`

	// Near biases results toward a city or neighborhood.
	Near string `json:"near,omitempty" jsonschema:"description=City or neighborhood to search near"`

	// Category narrows results, e.g. restaurant, museum, lodging.
	Category string `json:"category,omitempty" jsonschema:"description=Place category filter"`
}

// Place is one lookup hit.
type Place struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Rating   float64 `json:"rating,omitempty"`
	Category string  `json:"category,omitempty"`
}

// Response is the tool result.
type Response struct {
	Places []Place `json:"places"`
}

type upstreamResponse struct {
	Results []struct {
		Name             string   `json:"name"`
		FormattedAddress string   `json:"formatted_address"`
		Rating           float64  `json:"rating"`
		Types            []string `json:"types"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

// NewTool builds the bound place lookup tool.
func NewTool(client *httpx.Client, config Config) guard.Handle {
	ttl := config.CacheTTL
	if ttl <= 0 {
		// Place data is nearly static; a long TTL keeps quota usage
		// down.
		ttl = 24 * time.Hour
	}

	return guard.Bind(guard.Tool[Params, Response]{
		Name:        "places_lookup",
		Description: "Look up places such as restaurants, museums, and landmarks. Returns names, addresses, and coordinates.",
		Workflow:    ratelimit.WorkflowPlacesLookup,
		Codes: guard.CodeSet{
			InvalidParams: guard.CodePlacesInvalidParams,
			RateLimited:   guard.CodePlacesRateLimited,
			Failed:        guard.CodePlacesFailed,
		},
		Cache: &guard.CachePolicy{
			Namespace: "places",
			Tag:       "places",
			TTL:       ttl,
		},
		Run: func(ctx context.Context, params Params) (Response, error) {
			return lookup(ctx, client, config, params)
		},
	})
}

func lookup(ctx context.Context, client *httpx.Client, config Config, params Params) (Response, error) {
	text := params.Query
	if params.Near != "" {
		text += " near " + params.Near
	}

	query := url.Values{}
	query.Set("query", text)
	query.Set("key", config.APIKey)
	if params.Category != "" {
		query.Set("type", params.Category)
	}

	var upstream upstreamResponse
	endpoint := config.BaseURL + "/maps/api/place/textsearch/json?" + query.Encode()
	if err := client.GetJSON(ctx, endpoint, nil, &upstream); err != nil {
		return Response{}, guard.NewToolError(guard.CodePlacesFailed, "place lookup failed", map[string]any{
			"cause": err.Error(),
		})
	}
	if upstream.Status != "OK" && upstream.Status != "ZERO_RESULTS" {
		return Response{}, guard.NewToolError(guard.CodePlacesFailed, "place lookup failed", map[string]any{
			"status": upstream.Status,
		})
	}

	var response Response
	for _, hit := range upstream.Results {
		place := Place{
			Name:    hit.Name,
			Address: hit.FormattedAddress,
			Lat:     hit.Geometry.Location.Lat,
			Lng:     hit.Geometry.Location.Lng,
			Rating:  hit.Rating,
		}
		if len(hit.Types) > 0 {
			place.Category = hit.Types[0]
		}
		response.Places = append(response.Places, place)
	}
	return response, nil
}
