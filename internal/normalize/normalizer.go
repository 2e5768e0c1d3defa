// Package normalize turns raw channel posts into forwardable signal text.
//
// Two strategies exist. The generic strategy strips links and always forwards
// what remains. The structured strategy keeps only labelled signal fields and
// rejects posts without a trading pair. Both fail open: an internal fault
// yields the original text unchanged.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"signalrelay/internal/domain"
)

// Mode selects the normalization strategy.
type Mode string

const (
	ModeGeneric    Mode = "generic"
	ModeStructured Mode = "structured"
)

// Payload is the normalizer verdict: forwardable text or a rejection.
type Payload struct {
	Text     string
	Rejected bool
}

func Forward(text string) Payload { return Payload{Text: text} }

func Reject() Payload { return Payload{Rejected: true} }

// Empty reports whether there is nothing to put in the destination chat.
func (p Payload) Empty() bool {
	return p.Rejected || strings.TrimSpace(p.Text) == ""
}

// Normalizer is a configured normalization strategy.
type Normalizer interface {
	Mode() Mode
	Normalize(text string, links []domain.LinkEntity) Payload
}

// New builds the normalizer for mode. Both modes use the referral parameters
// of rules; labels and the pair label only matter for ModeStructured.
func New(mode Mode, rules Rules, logger *slog.Logger) (Normalizer, error) {
	if mode != ModeGeneric && mode != ModeStructured && mode != "" {
		return nil, fmt.Errorf("unknown normalize mode %q (want generic or structured)", mode)
	}
	m, err := newMatcher(rules.withDefaults())
	if err != nil {
		return nil, err
	}
	if mode == ModeStructured {
		return &Structured{matcher: m, logger: logger}, nil
	}
	return &Generic{matcher: m, logger: logger}, nil
}

// Generic strips every scheme URL, link markup and bare referral link, and
// forwards whatever text remains.
type Generic struct {
	matcher *matcher
	logger  *slog.Logger
}

func (g *Generic) Mode() Mode { return ModeGeneric }

func (g *Generic) Normalize(text string, links []domain.LinkEntity) Payload {
	if text == "" {
		g.logger.Debug("empty text, nothing to normalize")
		return Forward("")
	}
	return failOpen(g.logger, text, func() (Payload, error) {
		resolved, err := resolveEntities(text, links)
		if err != nil {
			return Payload{}, &domain.NormalizationFault{Stage: "entities", Err: err}
		}
		out := stripURLs(resolved, "", g.matcher)
		logStripped(g.logger, text, out)
		return Forward(out), nil
	})
}

// Structured keeps labelled fields and requires a trading pair.
type Structured struct {
	matcher *matcher
	logger  *slog.Logger
}

func (s *Structured) Mode() Mode { return ModeStructured }

func (s *Structured) Normalize(text string, links []domain.LinkEntity) Payload {
	if text == "" {
		return Reject()
	}
	return failOpen(s.logger, text, func() (Payload, error) {
		buf, err := resolveEntities(text, links)
		if err != nil {
			return Payload{}, &domain.NormalizationFault{Stage: "entities", Err: err}
		}
		buf = filterLines(buf, s.matcher)
		token := extractPair(buf, s.matcher)
		buf = stripURLs(buf, token, s.matcher)
		buf = compactLines(buf)

		if token == "" || !s.matcher.pairLine.MatchString(buf) || !strings.Contains(buf, token) {
			s.logger.Debug("no trading pair found, rejecting", "text_len", len(text))
			return Reject(), nil
		}
		logStripped(s.logger, text, buf)
		return Forward(buf), nil
	})
}

// failOpen runs fn and falls back to the untouched text on error or panic.
func failOpen(logger *slog.Logger, original string, fn func() (Payload, error)) (p Payload) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("normalization panicked, forwarding original text", "panic", r)
			p = Forward(original)
		}
	}()
	p, err := fn()
	if err != nil {
		logger.Error("normalization failed, forwarding original text", "err", err)
		return Forward(original)
	}
	return p
}

func logStripped(logger *slog.Logger, before, after string) {
	if before == after {
		logger.Debug("no links found")
		return
	}
	logger.Info("links removed", "before_len", len(before), "after_len", len(after))
}
