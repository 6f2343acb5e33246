package classify

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Classify scores every registered mode against the URL and an HTML sample
// and returns the winner. When no mode reaches the minimum confidence the
// fallback mode is returned with the scored modes as fallbacks.
func (r *Registry) Classify(pageURL, htmlSample string) models.ClassificationResult {
	lowerHTML := strings.ToLower(htmlSample)
	host := hostOf(pageURL)

	type scored struct {
		mode       Mode
		order      int
		confidence float64
		matched    []string
	}

	var candidates []scored
	for i, m := range r.modes {
		conf, matched := scoreMode(m, pageURL, host, lowerHTML)
		if conf > 0 {
			candidates = append(candidates, scored{mode: m, order: i, confidence: conf, matched: matched})
		}
	}

	// Stable sort keeps registration order for equal confidence, so the
	// first-registered mode wins ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].confidence > candidates[j].confidence
	})

	var fallbacks []string
	for _, c := range candidates {
		fallbacks = append(fallbacks, c.mode.Name)
	}

	if len(candidates) == 0 || candidates[0].confidence < r.minConfidence {
		slog.Debug("classification below threshold, using fallback",
			"url", pageURL, "fallback", r.fallback)
		return models.ClassificationResult{
			Mode:      r.fallback,
			Fallbacks: fallbacks,
		}
	}

	best := candidates[0]
	slog.Debug("page classified",
		"url", pageURL, "mode", best.mode.Name, "confidence", best.confidence)

	return models.ClassificationResult{
		Mode:              best.mode.Name,
		Confidence:        best.confidence,
		MatchedIndicators: best.matched,
		Fallbacks:         fallbacks[1:],
	}
}

// scoreMode computes the weighted indicator sum for one mode, normalized by
// the mode's total indicator weight so confidence lands in [0, 1].
func scoreMode(m Mode, pageURL, host, lowerHTML string) (float64, []string) {
	var score, total float64
	var matched []string

	for _, wp := range m.Indicators.URLPatterns {
		total += wp.Weight
		if wp.Pattern.MatchString(pageURL) {
			score += wp.Weight
			matched = append(matched, "url:"+wp.Pattern.String())
		}
	}

	if len(m.Indicators.Domains) > 0 {
		total += m.Indicators.DomainWeight
		for _, d := range m.Indicators.Domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				score += m.Indicators.DomainWeight
				matched = append(matched, "domain:"+d)
				break
			}
		}
	}

	for _, wp := range m.Indicators.ContentFeatures {
		total += wp.Weight
		if wp.Pattern.MatchString(lowerHTML) {
			score += wp.Weight
			matched = append(matched, "content:"+wp.Pattern.String())
		}
	}

	if total == 0 {
		return 0, nil
	}
	return score / total, matched
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
