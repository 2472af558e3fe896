package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	marketApp "github.com/vantagecommodities/vantage/internal/market/application"
)

const fallbackReply = "I'm sorry, I'm having trouble answering right now. " +
	"Please try again in a moment, or reach your desk contact for urgent requests."

const systemPrompt = `You are the client assistant for Vantage Commodities, a
brokerage covering precious metals, energy, and FX. Answer questions about
our desks, subscription tiers, and market context. Be concise and factual.
Never give personalized investment advice; suggest speaking to a licensed
broker instead.`

// ChatClient generates a single-turn completion for a prompt.
type ChatClient interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Assistant answers client chat messages, grounding replies in the current
// market snapshot when one is available.
type Assistant struct {
	llm    ChatClient
	market *marketApp.Aggregator
	logger *slog.Logger
}

func NewAssistant(llm ChatClient, market *marketApp.Aggregator, logger *slog.Logger) *Assistant {
	return &Assistant{llm: llm, market: market, logger: logger}
}

// Reply answers one user message. It degrades to a canned apology instead
// of failing: chat is a convenience surface, not a critical one.
func (a *Assistant) Reply(ctx context.Context, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "How can I help? Ask me about our desks, plans, or today's markets."
	}

	if a.llm == nil {
		return fallbackReply
	}

	prompt := a.buildPrompt(ctx, message)
	reply, err := a.llm.GenerateContent(ctx, prompt)
	if err != nil {
		a.logger.Error("assistant completion failed", "error", err)
		return fallbackReply
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fallbackReply
	}
	return reply
}

func (a *Assistant) buildPrompt(ctx context.Context, message string) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if a.market != nil {
		overview := a.market.Overview(ctx)
		b.WriteString("\n\nCurrent market snapshot: ")
		b.WriteString(overview.Summary)
		for _, q := range overview.PreciousMetals {
			fmt.Fprintf(&b, "\n%s: %.2f (%+.2f%%)", q.Symbol, q.Price, q.ChangePercent)
		}
	}

	b.WriteString("\n\nClient message: ")
	b.WriteString(message)
	return b.String()
}
