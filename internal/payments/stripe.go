package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const DefaultStripeAPI = "https://api.stripe.com"

// StripeClient opens Stripe Checkout sessions over the REST API.
type StripeClient struct {
	http        *resty.Client
	frontendURL string
}

func NewStripeClient(apiURL, secretKey, frontendURL string) *StripeClient {
	if apiURL == "" {
		apiURL = DefaultStripeAPI
	}
	c := resty.New().
		SetBaseURL(apiURL).
		SetBasicAuth(secretKey, "").
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &StripeClient{http: c, frontendURL: strings.TrimRight(frontendURL, "/")}
}

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *StripeClient) CreateSession(ctx context.Context, req SessionRequest) (string, error) {
	form := map[string]string{
		"mode":                    "payment",
		"payment_method_types[0]": "card",
		"line_items[0][quantity]": "1",
		"line_items[0][price_data][currency]":           req.Currency,
		"line_items[0][price_data][unit_amount]":        strconv.FormatInt(req.AmountCents, 10),
		"line_items[0][price_data][product_data][name]": "Order #" + req.OrderID,
		"metadata[orderId]":                             req.OrderID,
		"client_reference_id":                           req.OrderID,
		"success_url":                                   c.frontendURL + "/payment/success?orderId=" + req.OrderID,
		"cancel_url":                                    c.frontendURL + "/payment/cancel?orderId=" + req.OrderID,
	}
	if req.CustomerEmail != "" {
		form["customer_email"] = req.CustomerEmail
	}

	var (
		out    stripeSession
		apiErr stripeError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return "", fmt.Errorf("stripe create session: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("stripe create session: %s: %s", resp.Status(), apiErr.Error.Message)
	}
	if out.URL == "" {
		return "", fmt.Errorf("stripe create session: empty url for session %q", out.ID)
	}
	return out.URL, nil
}
