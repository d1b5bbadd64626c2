// Package accommodations exposes lodging search as an agent tool,
// backed by an Amadeus-style hotel search API.
package accommodations

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/ratelimit"
	"github.com/itinera-ai/itinera/internal/tools/httpx"
)

// Config configures the lodging search upstream.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// CacheTTL bounds how long search results are reused. Lodging
	// availability goes stale quickly, so the default is short.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Params is the model-facing parameter schema for a lodging search.
type Params struct {
	// City is the destination city name.
	City string `json:"city" jsonschema:"description=Destination city name"`

	// CheckIn and CheckOut are ISO dates (YYYY-MM-DD).
	CheckIn  string `json:"checkIn" jsonschema:"description=Check-in date in YYYY-MM-DD form"`
	CheckOut string `json:"checkOut" jsonschema:"description=Check-out date in YYYY-MM-DD form"`

	// Guests defaults to 2 upstream when omitted.
	Guests int `json:"guests,omitempty" jsonschema:"description=Number of guests"`

	// MaxPricePerNight filters results, in the upstream's currency.
	MaxPricePerNight float64 `json:"maxPricePerNight,omitempty" jsonschema:"description=Maximum nightly price"`
}

// Stay is one lodging option.
type Stay struct {
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	PricePerNight float64 `json:"price_per_night"`
	Currency      string  `json:"currency"`
	Rating        float64 `json:"rating,omitempty"`
}

// Response is the tool result.
type Response struct {
	City  string `json:"city"`
	Stays []Stay `json:"stays"`
}

type upstreamResponse struct {
	Data []struct {
		Hotel struct {
			Name    string `json:"name"`
			Address string `json:"address"`
			Rating  string `json:"rating"`
		} `json:"hotel"`
		Offers []struct {
			Price struct {
				Total    string `json:"total"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"offers"`
	} `json:"data"`
}

// NewTool builds the bound lodging search tool.
func NewTool(client *httpx.Client, config Config) guard.Handle {
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return guard.Bind(guard.Tool[Params, Response]{
		Name:        "accommodation_search",
		Description: "Search lodging options for a city and date range. Returns name, address, and nightly price per option.",
		Workflow:    ratelimit.WorkflowAccommodationSearch,
		Codes: guard.CodeSet{
			InvalidParams: guard.CodeAccomSearchInvalidParams,
			RateLimited:   guard.CodeAccomSearchRateLimited,
			Failed:        guard.CodeAccomSearchFailed,
		},
		Cache: &guard.CachePolicy{
			Namespace: "accom",
			Tag:       "accommodations",
			TTL:       ttl,
		},
		Run: func(ctx context.Context, params Params) (Response, error) {
			return search(ctx, client, config, params)
		},
	})
}

func search(ctx context.Context, client *httpx.Client, config Config, params Params) (Response, error) {
	if err := validateDates(params.CheckIn, params.CheckOut); err != nil {
		return Response{}, guard.NewToolError(guard.CodeAccomSearchInvalidParams, err.Error(), nil)
	}

	query := url.Values{}
	query.Set("cityName", params.City)
	query.Set("checkInDate", params.CheckIn)
	query.Set("checkOutDate", params.CheckOut)
	if params.Guests > 0 {
		query.Set("adults", fmt.Sprintf("%d", params.Guests))
	}
	if params.MaxPricePerNight > 0 {
		query.Set("priceRange", fmt.Sprintf("0-%.0f", params.MaxPricePerNight))
	}

	var upstream upstreamResponse
	endpoint := config.BaseURL + "/v3/shopping/hotel-offers?" + query.Encode()
	headers := map[string]string{"Authorization": "Bearer " + config.APIKey}
	if err := client.GetJSON(ctx, endpoint, headers, &upstream); err != nil {
		return Response{}, guard.NewToolError(guard.CodeAccomSearchFailed, "lodging search failed", map[string]any{
			"cause": err.Error(),
		})
	}

	response := Response{City: params.City}
	for _, item := range upstream.Data {
		stay := Stay{
			Name:    item.Hotel.Name,
			Address: item.Hotel.Address,
			Rating:  parseFloat(item.Hotel.Rating),
		}
		if len(item.Offers) > 0 {
			stay.PricePerNight = parseFloat(item.Offers[0].Price.Total)
			stay.Currency = item.Offers[0].Price.Currency
		}
		response.Stays = append(response.Stays, stay)
	}
	return response, nil
}

func validateDates(checkIn, checkOut string) error {
	in, err := time.Parse("2006-01-02", checkIn)
	if err != nil {
		return fmt.Errorf("checkIn %q is not a YYYY-MM-DD date", checkIn)
	}
	out, err := time.Parse("2006-01-02", checkOut)
	if err != nil {
		return fmt.Errorf("checkOut %q is not a YYYY-MM-DD date", checkOut)
	}
	if !out.After(in) {
		return fmt.Errorf("checkOut %s must be after checkIn %s", checkOut, checkIn)
	}
	return nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
