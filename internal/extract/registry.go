package extract

import (
	"regexp"

	"github.com/quarrydocs/quarry/internal/classify"
)

// NewRegistry builds the default mode registry: standard first (and the
// fallback), then ecommerce. Registration order is the tie-break order.
func NewRegistry(minConfidence float64) *classify.Registry {
	r := classify.NewRegistry(minConfidence, ModeStandard)
	r.Register(classify.Mode{
		Name:      ModeStandard,
		Extractor: NewStandard(),
	})
	r.Register(classify.Mode{
		Name:       ModeEcommerce,
		Indicators: ecommerceIndicators(),
		Extractor:  NewEcommerce(),
	})
	return r
}

func ecommerceIndicators() classify.IndicatorSet {
	return classify.IndicatorSet{
		URLPatterns: []classify.WeightedPattern{
			{Pattern: regexp.MustCompile(`(?i)/(product|products|item|shop|store)s?/`), Weight: 2},
			{Pattern: regexp.MustCompile(`(?i)/(cart|checkout|basket)\b`), Weight: 1},
			{Pattern: regexp.MustCompile(`(?i)[?&](sku|variant|pid)=`), Weight: 1},
		},
		Domains:      []string{"amazon.com", "ebay.com", "etsy.com", "shopify.com", "aliexpress.com"},
		DomainWeight: 2,
		ContentFeatures: []classify.WeightedPattern{
			{Pattern: regexp.MustCompile(`add to (cart|bag|basket)`), Weight: 3},
			{Pattern: regexp.MustCompile(`schema\.org/product`), Weight: 3},
			{Pattern: regexp.MustCompile(`itemprop="price"`), Weight: 2},
			{Pattern: regexp.MustCompile(`property="product:price`), Weight: 2},
			{Pattern: regexp.MustCompile(`(in|out of) stock`), Weight: 1},
			{Pattern: regexp.MustCompile(`free shipping`), Weight: 1},
		},
	}
}
