package scrape

import (
	"context"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Locator extracts the price text from a live session by walking an ordered
// strategy list until one yields non-empty text.
type Locator struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewLocator builds a Locator. A nil or empty strategy list falls back to the
// default fallback chain.
func NewLocator(strategies []Strategy, logger *zap.Logger) *Locator {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{strategies: strategies, logger: logger}
}

// Locate returns the normalized price string from the first strategy yielding
// non-empty text. Precedence is strict: once a strategy wins, later ones are
// never consulted, even if normalization then fails.
func (l *Locator) Locate(ctx context.Context, session Session) (string, error) {
	for _, strategy := range l.strategies {
		if err := ctx.Err(); err != nil {
			return "", NewSessionError("locate canceled", err)
		}

		text, err := session.ElementText(ctx, strategy)
		if err != nil {
			l.logger.Debug("strategy missed",
				zap.String("mechanism", string(strategy.Mechanism)),
				zap.String("pattern", strategy.Pattern),
				zap.Error(err),
			)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			l.logger.Debug("strategy matched empty text",
				zap.String("mechanism", string(strategy.Mechanism)),
				zap.String("pattern", strategy.Pattern),
			)
			continue
		}

		l.logger.Info("price text located",
			zap.String("mechanism", string(strategy.Mechanism)),
			zap.String("pattern", strategy.Pattern),
			zap.String("raw", text),
		)
		return Normalize(text)
	}

	info := session.PageInfo(ctx)
	l.logger.Warn("no strategy yielded text",
		zap.String("title", info.Title),
		zap.String("url", info.URL),
		zap.Int("source_len", info.SourceLen),
		zap.Bool("marker_present", info.MarkerPresent),
	)
	return "", NewNotFoundError("no strategy yielded non-empty text")
}

// Normalize strips currency/ticker noise from raw element text and validates
// the residue as a finite non-negative decimal. "$1,234.56 USDC" → "1234.56".
func Normalize(raw string) (string, error) {
	cleaned := raw
	for _, token := range []string{"USDC", "$", ","} {
		cleaned = strings.ReplaceAll(cleaned, token, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", NewInvalidFormatError(raw)
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return "", NewInvalidFormatError(raw)
	}
	return cleaned, nil
}
