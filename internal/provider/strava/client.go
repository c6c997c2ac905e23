// Package strava imports activities from the Strava API.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// BaseURL is the Strava v3 API root.
const BaseURL = "https://www.strava.com/api/v3"

const pageSize = 100 // Max allowed by Strava

// APIError is returned for non-200 API responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava API error %d: %s", e.StatusCode, e.Body)
}

// Client is a Strava API client. httpClient is expected to attach the bearer token.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	baseURL     string
}

// NewClient creates a Strava API client.
func NewClient(httpClient *http.Client, limiter *RateLimiter, baseURL string) *Client {
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{httpClient: httpClient, rateLimiter: limiter, baseURL: baseURL}
}

// GetActivities fetches one page of activities started after 'after'.
func (c *Client) GetActivities(ctx context.Context, after time.Time, page, perPage int) ([]Activity, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.get(ctx, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}
	return activities, nil
}

// GetAllActivities pages through every activity started after 'after' until
// Strava returns a short page. The rate limiter paces long histories.
func (c *Client) GetAllActivities(ctx context.Context, after time.Time) ([]Activity, error) {
	var all []Activity
	for page := 1; ; page++ {
		activities, err := c.GetActivities(ctx, after, page, pageSize)
		if err != nil {
			return all, fmt.Errorf("fetching page %d: %w", page, err)
		}
		all = append(all, activities...)
		if len(activities) < pageSize {
			return all, nil
		}
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	c.rateLimiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
