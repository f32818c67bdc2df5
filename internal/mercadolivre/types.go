// Package mercadolivre is a small client for the Mercado Livre REST API.
package mercadolivre

import (
	"strconv"
	"strings"
	"time"
)

// Attribute is a catalog attribute on an item or variation.
type Attribute struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ValueID   string `json:"value_id,omitempty"`
	ValueName string `json:"value_name,omitempty"`
}

// Picture is an item image as returned by the items API.
type Picture struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url,omitempty"`
	SecureURL string `json:"secure_url,omitempty"`
}

// Link returns the HTTPS url when present.
func (p Picture) Link() string {
	if p.SecureURL != "" {
		return p.SecureURL
	}
	return p.URL
}

// Variation is one sellable combination of an item. The API returns numeric
// ids; callers compare them through IDString.
type Variation struct {
	ID                int64       `json:"id"`
	Price             float64     `json:"price,omitempty"`
	AvailableQuantity int         `json:"available_quantity"`
	SellerCustomField string      `json:"seller_custom_field,omitempty"`
	SellerSKU         string      `json:"seller_sku,omitempty"`
	Attributes        []Attribute `json:"attributes,omitempty"`
	PictureIDs        []string    `json:"picture_ids,omitempty"`
}

// IDString is the variation id as stored locally.
func (v Variation) IDString() string {
	return strconv.FormatInt(v.ID, 10)
}

// Item is a marketplace listing.
type Item struct {
	ID                string      `json:"id"`
	SellerID          int64       `json:"seller_id"`
	Title             string      `json:"title"`
	Price             float64     `json:"price"`
	CurrencyID        string      `json:"currency_id,omitempty"`
	CategoryID        string      `json:"category_id"`
	AvailableQuantity int         `json:"available_quantity"`
	ListingTypeID     string      `json:"listing_type_id"`
	Condition         string      `json:"condition"`
	Status            string      `json:"status"`
	Permalink         string      `json:"permalink"`
	SellerCustomField string      `json:"seller_custom_field,omitempty"`
	Pictures          []Picture   `json:"pictures"`
	Attributes        []Attribute `json:"attributes"`
	Variations        []Variation `json:"variations,omitempty"`
}

// AttributeValue returns the value_name of the attribute with id, if present.
func AttributeValue(attrs []Attribute, id string) string {
	for _, a := range attrs {
		if a.ID == id {
			return a.ValueName
		}
	}
	return ""
}

// Paging is the paging block of search responses.
type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// SearchResult lists item ids for a seller.
type SearchResult struct {
	SellerID string   `json:"seller_id"`
	Results  []string `json:"results"`
	Paging   Paging   `json:"paging"`
}

// CategoryNode is one element of a category path.
type CategoryNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category describes a marketplace category.
type Category struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	PathFromRoot []CategoryNode `json:"path_from_root"`
}

// Path joins the category names from root, e.g. "Casa > Cozinha > Panelas".
func (c Category) Path() string {
	if len(c.PathFromRoot) == 0 {
		return c.Name
	}
	names := make([]string, 0, len(c.PathFromRoot))
	for _, node := range c.PathFromRoot {
		names = append(names, node.Name)
	}
	return strings.Join(names, " > ")
}

// User is the authenticated seller account.
type User struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	Email     string `json:"email,omitempty"`
	CountryID string `json:"country_id,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Item struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		VariationID int64  `json:"variation_id,omitempty"`
	} `json:"item"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Order is a marketplace sale.
type Order struct {
	ID          int64       `json:"id"`
	Status      string      `json:"status"`
	DateCreated time.Time   `json:"date_created"`
	TotalAmount float64     `json:"total_amount"`
	CurrencyID  string      `json:"currency_id"`
	Buyer       OrderBuyer  `json:"buyer"`
	OrderItems  []OrderItem `json:"order_items"`
}

// OrderBuyer identifies the buyer of an order.
type OrderBuyer struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

// TokenResponse is returned by the OAuth token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

// ExpiresAt converts ExpiresIn into an absolute time.
func (t TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}
