package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"signalrelay/internal/domain"
)

var (
	// [anchor](url)
	markupLinkRe = regexp.MustCompile(`(?i)\[([^\]\n]*)\]\((?:https?://|www\.)[^\s)]*\)`)
	// <a href="url">anchor</a>
	htmlAnchorRe = regexp.MustCompile(`(?i)<a\s+[^>]*?href\s*=\s*["'][^"']*["'][^>]*>([^<]*)</a>`)
	// Scheme-prefixed URL; trailing sentence punctuation is left in place.
	schemeURLRe = regexp.MustCompile(`(?i)https?://[^\s<>"'\]]*[^\s<>"'.,;:!?)\]]`)
	// Bare domain with optional path, checked against referral params afterwards.
	bareDomainRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[^\s]*)?\?[^\s]+`)
	// Parenthesized or bracketed suffixes at the end of a line.
	trailingSuffixRe = regexp.MustCompile(`(?:\s+[(\[][^)\]\n]*[)\]])+\s*$`)
)

// matcher holds the rule-dependent expressions, compiled once per normalizer.
type matcher struct {
	pairLabel string
	labelLine *regexp.Regexp
	pairLine  *regexp.Regexp
	pairToken *regexp.Regexp
	referral  *regexp.Regexp
}

func newMatcher(r Rules) (*matcher, error) {
	labels := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, labelPattern(l))
		}
	}
	params := make([]string, 0, len(r.ReferralParams))
	for _, p := range r.ReferralParams {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, regexp.QuoteMeta(p))
		}
	}
	if len(labels) == 0 || len(params) == 0 {
		return nil, fmt.Errorf("normalize rules: labels and referral params must not be empty")
	}

	pair := labelPattern(r.PairLabel)
	m := &matcher{pairLabel: strings.TrimSpace(r.PairLabel)}
	var err error
	if m.labelLine, err = regexp.Compile(`(?i)(?:^|[^\pL\pN])(?:` + strings.Join(labels, "|") + `)\s*:`); err != nil {
		return nil, err
	}
	if m.pairLine, err = regexp.Compile(`(?i)(?:^|[^\pL\pN])` + pair + `\s*:`); err != nil {
		return nil, err
	}
	if m.pairToken, err = regexp.Compile(`(?i)(?:^|[^\pL\pN])` + pair + `\s*:\s*\[?([A-Za-z0-9_-]+)`); err != nil {
		return nil, err
	}
	if m.referral, err = regexp.Compile(`(?i)[?&](?:` + strings.Join(params, "|") + `)=`); err != nil {
		return nil, err
	}
	return m, nil
}

// labelPattern quotes a label and lets any run of spaces inside it match.
func labelPattern(label string) string {
	parts := strings.Fields(label)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}

// resolveEntities replaces every annotated span with its visible anchor text.
// Spans are applied from the highest offset down so earlier offsets stay valid.
func resolveEntities(text string, links []domain.LinkEntity) (string, error) {
	if len(links) == 0 {
		return text, nil
	}
	sorted := make([]domain.LinkEntity, len(links))
	copy(sorted, links)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset > sorted[j].Offset })

	limit := len(text)
	for _, l := range sorted {
		start, end := l.Offset, l.Offset+l.Length
		if l.Length < 0 || start < 0 || end > limit {
			return "", fmt.Errorf("link span [%d,%d) out of range", start, end)
		}
		if !isRuneBoundary(text, start) || !isRuneBoundary(text, end) {
			return "", fmt.Errorf("link span [%d,%d) splits a character", start, end)
		}
		text = text[:start] + anchorText(text[start:end]) + text[end:]
		limit = start
	}
	return text, nil
}

func isRuneBoundary(s string, i int) bool {
	return i == len(s) || utf8.RuneStart(s[i])
}

// anchorText unwraps inline link markup; plain spans are already visible text.
func anchorText(span string) string {
	if m := markupLinkRe.FindStringSubmatch(span); m != nil && m[0] == span {
		return m[1]
	}
	if m := htmlAnchorRe.FindStringSubmatch(span); m != nil && m[0] == span {
		return m[1]
	}
	return span
}

// filterLines keeps only labelled lines. The first pair line wins and loses
// any trailing "(Exchange)" or "[note]" suffix.
func filterLines(text string, m *matcher) string {
	var kept []string
	seenPair := false
	for _, line := range strings.Split(text, "\n") {
		if !m.labelLine.MatchString(line) {
			continue
		}
		if m.pairLine.MatchString(line) {
			if seenPair {
				continue
			}
			seenPair = true
			line = trailingSuffixRe.ReplaceAllString(line, "")
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// extractPair returns the canonical pair token, or "" when there is none.
func extractPair(text string, m *matcher) string {
	loc := m.pairToken.FindStringSubmatchIndex(text)
	if loc == nil {
		return ""
	}
	token := text[loc[2]:loc[3]]
	if strings.HasPrefix(text[loc[3]:], "://") {
		return ""
	}
	return token
}

// stripURLs removes link markup (keeping anchors), HTML anchors (keeping
// anchors), scheme URLs and, when m is set, bare referral links.
func stripURLs(text, token string, m *matcher) string {
	text = replaceAnchors(text, markupLinkRe, token, m)
	text = replaceAnchors(text, htmlAnchorRe, token, m)
	text = schemeURLRe.ReplaceAllString(text, "")
	if m != nil {
		text = bareDomainRe.ReplaceAllStringFunc(text, func(s string) string {
			if m.referral.MatchString(s) {
				return ""
			}
			return s
		})
	}
	return text
}

// replaceAnchors swaps every match of re for its first capture group. An
// anchor equal to the pair token becomes a full pair line when nothing else
// in the text carries the pair label.
func replaceAnchors(text string, re *regexp.Regexp, token string, m *matcher) string {
	locs := re.FindAllStringSubmatchIndex(text, -1)
	if locs == nil {
		return text
	}
	var sb strings.Builder
	prev := 0
	for _, loc := range locs {
		anchor := text[loc[2]:loc[3]]
		sb.WriteString(text[prev:loc[0]])
		if token != "" && m != nil && anchor == token && !m.pairLine.MatchString(text[:loc[0]]+text[loc[1]:]) {
			sb.WriteString(m.pairLabel + ": " + token)
		} else {
			sb.WriteString(anchor)
		}
		prev = loc[1]
	}
	sb.WriteString(text[prev:])
	return sb.String()
}

// compactLines trims trailing blanks and drops empty lines.
func compactLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
