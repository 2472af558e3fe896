package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketApp "github.com/vantagecommodities/vantage/internal/market/application"
	marketDomain "github.com/vantagecommodities/vantage/internal/market/domain"
)

type fakeChatClient struct {
	reply   string
	err     error
	prompts []string
}

func (c *fakeChatClient) GenerateContent(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.reply, c.err
}

type goldProvider struct{}

func (goldProvider) Name() string { return "gold" }

func (goldProvider) GetQuote(_ context.Context, symbol string) (*marketDomain.Quote, error) {
	if symbol != "XAU/USD" {
		return nil, marketDomain.ErrSymbolNotFound
	}
	return &marketDomain.Quote{
		Symbol:        "XAU/USD",
		Price:         2450.25,
		ChangePercent: 0.75,
		Timestamp:     time.Now(),
		Source:        "gold",
	}, nil
}

func testMarket() *marketApp.Aggregator {
	return marketApp.NewAggregator([]marketDomain.Provider{goldProvider{}}, slog.New(slog.DiscardHandler))
}

func TestAssistant_Reply(t *testing.T) {
	llm := &fakeChatClient{reply: "Gold is up today."}
	assistant := NewAssistant(llm, testMarket(), slog.New(slog.DiscardHandler))

	reply := assistant.Reply(context.Background(), "how is gold doing?")
	assert.Equal(t, "Gold is up today.", reply)
}

func TestAssistant_PromptCarriesMarketContext(t *testing.T) {
	llm := &fakeChatClient{reply: "ok"}
	assistant := NewAssistant(llm, testMarket(), slog.New(slog.DiscardHandler))

	assistant.Reply(context.Background(), "how is gold doing?")

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "Vantage Commodities")
	assert.Contains(t, prompt, "XAU/USD: 2450.25")
	assert.Contains(t, prompt, "Client message: how is gold doing?")
}

func TestAssistant_EmptyMessageGreets(t *testing.T) {
	llm := &fakeChatClient{reply: "should not be called"}
	assistant := NewAssistant(llm, testMarket(), slog.New(slog.DiscardHandler))

	reply := assistant.Reply(context.Background(), "   ")
	assert.Contains(t, reply, "How can I help?")
	assert.Empty(t, llm.prompts, "an empty message never reaches the model")
}

func TestAssistant_NoClientFallsBack(t *testing.T) {
	assistant := NewAssistant(nil, testMarket(), slog.New(slog.DiscardHandler))

	reply := assistant.Reply(context.Background(), "hello")
	assert.Contains(t, reply, "trouble answering")
}

func TestAssistant_ClientErrorFallsBack(t *testing.T) {
	llm := &fakeChatClient{err: errors.New("quota exceeded")}
	assistant := NewAssistant(llm, testMarket(), slog.New(slog.DiscardHandler))

	reply := assistant.Reply(context.Background(), "hello")
	assert.Contains(t, reply, "trouble answering")
}

func TestAssistant_BlankCompletionFallsBack(t *testing.T) {
	llm := &fakeChatClient{reply: "   \n"}
	assistant := NewAssistant(llm, testMarket(), slog.New(slog.DiscardHandler))

	reply := assistant.Reply(context.Background(), "hello")
	assert.Contains(t, reply, "trouble answering")
}

func TestAssistant_WorksWithoutMarketData(t *testing.T) {
	llm := &fakeChatClient{reply: "ok"}
	assistant := NewAssistant(llm, nil, slog.New(slog.DiscardHandler))

	reply := assistant.Reply(context.Background(), "hello")
	assert.Equal(t, "ok", reply)
	require.Len(t, llm.prompts, 1)
	assert.NotContains(t, llm.prompts[0], "market snapshot")
}
