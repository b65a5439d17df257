// Package orderlookup asks the order service whether a customer already
// redeemed a coupon on a committed order.
package orderlookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httpclient"
)

const serviceName = "order-service"

// Doer sends requests through whatever resilience wrapping the caller chose.
type Doer interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// HTTPLookup implements repository.OrderLookup over the order service API.
type HTTPLookup struct {
	baseURL string
	client  Doer
}

// NewHTTPLookup creates a lookup against baseURL.
func NewHTTPLookup(baseURL string, client Doer) *HTTPLookup {
	return &HTTPLookup{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type redemptionResponse struct {
	Data struct {
		Redeemed bool `json:"redeemed"`
	} `json:"data"`
}

// HasRedeemed calls GET /api/v1/coupon-redemptions.
func (l *HTTPLookup) HasRedeemed(ctx context.Context, code string, customer domain.CustomerRef) (bool, error) {
	if customer.Email == "" && customer.IP == "" {
		return false, nil
	}

	q := url.Values{}
	q.Set("code", code)
	if customer.Email != "" {
		q.Set("email", customer.Email)
	}
	if customer.IP != "" {
		q.Set("ip", customer.IP)
	}

	resp, err := l.client.Get(ctx, l.baseURL+"/api/v1/coupon-redemptions?"+q.Encode())
	if err != nil {
		return false, fmt.Errorf("query %s: %w", serviceName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var body redemptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode %s response: %w", serviceName, err)
	}
	return body.Data.Redeemed, nil
}
