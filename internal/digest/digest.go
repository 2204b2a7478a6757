// Package digest renders the Telegram message from independent components.
package digest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"aave-rate-digest/internal/aave"
)

const (
	// FallbackText is sent when nothing else could be rendered.
	FallbackText = "Hello World!"
	// DefaultToken is used when no configured target token is recognised.
	DefaultToken = "ETH"
)

// Component produces one section of the message. An empty section is skipped.
type Component interface {
	Name() string
	Render(ctx context.Context) (string, error)
}

// Builder joins component output with blank lines.
type Builder struct {
	components []Component
	greeting   string
	logger     zerolog.Logger
}

// NewBuilder returns an empty builder. greeting is used when no component is added.
func NewBuilder(greeting string, logger zerolog.Logger) *Builder {
	return &Builder{greeting: greeting, logger: logger.With().Str("component", "digest").Logger()}
}

// Add appends a component.
func (b *Builder) Add(c Component) *Builder {
	b.components = append(b.components, c)
	return b
}

// Clear removes every component.
func (b *Builder) Clear() *Builder {
	b.components = nil
	return b
}

// Len reports the number of components.
func (b *Builder) Len() int { return len(b.components) }

// Build renders all components. It never fails: broken components are skipped and an empty
// result falls back to FallbackText.
func (b *Builder) Build(ctx context.Context) string {
	if len(b.components) == 0 {
		text, err := Greeting{Message: b.greeting}.Render(ctx)
		if err != nil || text == "" {
			return FallbackText
		}
		return text
	}

	parts := make([]string, 0, len(b.components))
	for _, c := range b.components {
		text, err := c.Render(ctx)
		if err != nil {
			b.logger.Warn().Err(err).Str("section", c.Name()).Msg("component failed; skipping")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, text)
	}

	if len(parts) == 0 {
		b.logger.Warn().Msg("no component produced content; using fallback")
		return FallbackText
	}
	return strings.Join(parts, "\n\n")
}

// Greeting is a plain one-line message.
type Greeting struct {
	Message string
}

// Name implements Component.
func (Greeting) Name() string { return "greeting" }

// Render implements Component.
func (g Greeting) Render(context.Context) (string, error) {
	if g.Message != "" {
		return "👋 " + g.Message, nil
	}
	return "👋 Hello World! This is your daily message from the Telegram bot!", nil
}

// TargetTokens keeps the known symbols from configured, in order, and falls back to ETH when
// none remain.
func TargetTokens(configured []string, logger zerolog.Logger) []string {
	out := make([]string, 0, len(configured))
	for _, raw := range configured {
		symbol := strings.TrimSpace(raw)
		if !aave.IsKnownToken(symbol) {
			logger.Warn().Str("token", raw).Msg("invalid token symbol, skipping")
			continue
		}
		out = append(out, symbol)
	}
	if len(out) == 0 {
		logger.Warn().Msg("no valid target tokens found, using default ETH")
		return []string{DefaultToken}
	}
	return out
}

func formatPercent(v float64, places int) string {
	if v <= 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.*f%%", places, v)
}
