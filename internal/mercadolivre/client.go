package mercadolivre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/precifica/precifica/internal/platform/fetch"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://api.mercadolibre.com"

const maxBodyBytes = 4 << 20

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Retry        fetch.Options
	ClientID     string
	ClientSecret string
}

// Client calls the marketplace API. Every call goes through fetch.Do. Reads
// retry 429 and 5xx answers with backoff; listing writes are sent at most once
// and only a 429 rejection is retried.
type Client struct {
	baseURL      string
	http         *http.Client
	logger       *slog.Logger
	retry        fetch.Options
	clientID     string
	clientSecret string
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      base,
		http:         httpClient,
		logger:       logger.With(slog.String("component", "mercadolivre")),
		retry:        opts.Retry,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
	}
}

// GetMe returns the seller that owns token.
func (c *Client) GetMe(ctx context.Context, token string) (User, error) {
	var user User
	err := c.doJSON(ctx, c.retry, http.MethodGet, "/users/me", token, nil, &user)
	return user, err
}

// SearchActiveItems lists active item ids of a seller.
func (c *Client) SearchActiveItems(ctx context.Context, token string, sellerID int64, offset, limit int) (SearchResult, error) {
	q := url.Values{}
	q.Set("status", "active")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/users/%d/items/search?%s", sellerID, q.Encode())
	var result SearchResult
	err := c.doJSON(ctx, c.retry, http.MethodGet, path, token, nil, &result)
	return result, err
}

// GetItem fetches a listing with all attributes.
func (c *Client) GetItem(ctx context.Context, token, itemID string) (Item, error) {
	var item Item
	path := "/items/" + url.PathEscape(itemID) + "?include_attributes=all"
	err := c.doJSON(ctx, c.retry, http.MethodGet, path, token, nil, &item)
	return item, err
}

// GetItemDescription returns the plain text description of a listing.
func (c *Client) GetItemDescription(ctx context.Context, token, itemID string) (string, error) {
	var desc struct {
		Text      string `json:"text"`
		PlainText string `json:"plain_text"`
	}
	if err := c.doJSON(ctx, c.retry, http.MethodGet, "/items/"+url.PathEscape(itemID)+"/description", token, nil, &desc); err != nil {
		return "", err
	}
	if desc.PlainText != "" {
		return desc.PlainText, nil
	}
	return desc.Text, nil
}

// GetCategory fetches category metadata including the path from root.
func (c *Client) GetCategory(ctx context.Context, token, categoryID string) (Category, error) {
	var category Category
	err := c.doJSON(ctx, c.retry, http.MethodGet, "/categories/"+url.PathEscape(categoryID), token, nil, &category)
	return category, err
}

// CreateItem publishes a new listing.
func (c *Client) CreateItem(ctx context.Context, token string, payload any) (Item, error) {
	var item Item
	err := c.doJSON(ctx, c.writeOptions(), http.MethodPost, "/items", token, payload, &item)
	return item, err
}

// UpdateItem changes an existing listing.
func (c *Client) UpdateItem(ctx context.Context, token, itemID string, payload any) (Item, error) {
	var item Item
	err := c.doJSON(ctx, c.writeOptions(), http.MethodPut, "/items/"+url.PathEscape(itemID), token, payload, &item)
	return item, err
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, token string, orderID string) (Order, error) {
	var order Order
	err := c.doJSON(ctx, c.retry, http.MethodGet, "/orders/"+url.PathEscape(orderID), token, nil, &order)
	return order, err
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return TokenResponse{}, errors.New("mercadolivre: client credentials not configured")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	encoded := form.Encode()

	resp, err := fetch.Do(ctx, c.http, c.logger, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, c.retry)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("mercadolivre: refresh token: %w", err)
	}
	var out TokenResponse
	if err := decodeResponse(resp, &out); err != nil {
		return TokenResponse{}, err
	}
	return out, nil
}

// writeOptions keeps the client's backoff settings but marks the request non
// idempotent, so a listing is never published twice by a retry.
func (c *Client) writeOptions() fetch.Options {
	opts := c.retry
	opts.NonIdempotent = true
	return opts
}

func (c *Client) doJSON(ctx context.Context, opts fetch.Options, method, path, token string, payload, dest any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("mercadolivre: encode %s %s: %w", method, path, err)
		}
	}
	resp, err := fetch.Do(ctx, c.http, c.logger, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	}, opts)
	if err != nil {
		return fmt.Errorf("mercadolivre: %s %s: %w", method, path, err)
	}
	return decodeResponse(resp, dest)
}

func decodeResponse(resp *http.Response, dest any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("mercadolivre: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, raw)
	}
	if dest == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("mercadolivre: decode body: %w", err)
	}
	return nil
}
