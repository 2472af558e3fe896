// Package stripe adapts the Stripe SDK to the billing provider contract.
package stripe

import (
	"context"
	"fmt"

	stripesdk "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/vantagecommodities/vantage/internal/billing/domain"
)

// Client implements domain.BillingProvider against the Stripe API.
type Client struct {
	api *client.API
}

func NewClient(apiKey string) *Client {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Client{api: api}
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]domain.ProviderSubscription, error) {
	params := &stripesdk.SubscriptionListParams{
		Customer: stripesdk.String(customerID),
	}
	params.Context = ctx

	var subs []domain.ProviderSubscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		s := iter.Subscription()
		sub := domain.ProviderSubscription{
			ID:     s.ID,
			Status: string(s.Status),
		}
		if s.LatestInvoice != nil {
			sub.LatestInvoiceID = s.LatestInvoice.ID
		}
		subs = append(subs, sub)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return subs, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripesdk.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (c *Client) RetryPayment(ctx context.Context, subscriptionID string) error {
	getParams := &stripesdk.SubscriptionParams{}
	getParams.Context = ctx

	sub, err := c.api.Subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		return fmt.Errorf("failed to load subscription %s: %w", subscriptionID, err)
	}
	if sub.LatestInvoice == nil {
		return fmt.Errorf("subscription %s has no open invoice", subscriptionID)
	}

	payParams := &stripesdk.InvoicePayParams{}
	payParams.Context = ctx

	if _, err := c.api.Invoices.Pay(sub.LatestInvoice.ID, payParams); err != nil {
		return fmt.Errorf("failed to pay invoice %s: %w", sub.LatestInvoice.ID, err)
	}
	return nil
}

func (c *Client) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripesdk.CustomerParams{}
	params.Context = ctx

	if _, err := c.api.Customers.Del(customerID, params); err != nil {
		return fmt.Errorf("failed to delete customer %s: %w", customerID, err)
	}
	return nil
}
