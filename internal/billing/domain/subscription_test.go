package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscriptionStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    SubscriptionStatus
		wantErr bool
	}{
		{raw: "active", want: SubscriptionActive},
		{raw: "past_due", want: SubscriptionPastDue},
		{raw: "canceled", want: SubscriptionCanceled},
		{raw: "unpaid", want: SubscriptionUnpaid},
		{raw: "trialing", wantErr: true},
		{raw: "incomplete", wantErr: true},
		{raw: "ACTIVE", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSubscriptionStatus(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNewlyActive(t *testing.T) {
	active := &Subscription{Status: SubscriptionActive}
	canceled := &Subscription{Status: SubscriptionCanceled}
	pastDue := &Subscription{Status: SubscriptionPastDue}

	tests := []struct {
		name   string
		before *Subscription
		after  *Subscription
		want   bool
	}{
		{name: "first activation", before: nil, after: active, want: true},
		{name: "reactivation after cancel", before: canceled, after: active, want: true},
		{name: "recovery from past_due", before: pastDue, after: active, want: true},
		{name: "active to active update", before: active, after: active, want: false},
		{name: "active to canceled", before: active, after: canceled, want: false},
		{name: "deletion write", before: active, after: nil, want: false},
		{name: "both nil", before: nil, after: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewlyActive(tt.before, tt.after))
		})
	}
}

func TestSubscription_PlanAccessorsNilSafe(t *testing.T) {
	var sub *Subscription
	assert.Empty(t, sub.PlanID())
	assert.Empty(t, sub.PlanName())
	assert.Nil(t, sub.Features())

	empty := &Subscription{}
	assert.Empty(t, empty.PlanID())
	assert.Empty(t, empty.PlanName())

	full := &Subscription{Items: []SubscriptionItem{
		{PriceID: "price_desk", ProductName: "Desk", Features: []string{"streaming"}},
		{PriceID: "price_addon", ProductName: "Addon"},
	}}
	assert.Equal(t, "price_desk", full.PlanID())
	assert.Equal(t, "Desk", full.PlanName())
	assert.Equal(t, []string{"streaming"}, full.Features())
}

func TestLimitsFor(t *testing.T) {
	limits, ok := LimitsFor("price_starter")
	require.True(t, ok)
	assert.Equal(t, int64(1_000), limits.MaxAPICalls)

	_, ok = LimitsFor("price_legacy")
	assert.False(t, ok, "unknown plans must fail closed")

	_, ok = LimitsFor("")
	assert.False(t, ok)
}
