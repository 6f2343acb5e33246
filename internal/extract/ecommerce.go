package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quarrydocs/quarry/pkg/models"
)

// Ecommerce extracts product structured data on top of the standard
// content extraction. Every field is best-effort: absent data is omitted
// from the metadata map, never an error.
type Ecommerce struct {
	standard *Standard
}

// NewEcommerce creates the e-commerce extractor.
func NewEcommerce() *Ecommerce {
	return &Ecommerce{standard: NewStandard()}
}

// Variant is one product variation: attribute/value pairs with optional
// per-variant price and availability.
type Variant struct {
	Attributes map[string]string `json:"attributes"`
	Price      string            `json:"price,omitempty"`
	Available  bool              `json:"available"`
}

// Extract produces the normalized page content plus product metadata.
func (e *Ecommerce) Extract(ctx context.Context, pageURL, htmlContent string) (*models.ExtractResult, error) {
	result, err := e.standard.Extract(ctx, pageURL, htmlContent)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		// Content extraction succeeded; ship it without structured data.
		slog.Warn("product parse failed, keeping content only", "url", pageURL, "error", err)
		return result, nil
	}

	meta := map[string]string{}
	putIf(meta, "product_name", e.productName(doc))
	putIf(meta, "brand", firstText(doc,
		`[itemprop="brand"]`, `meta[property="product:brand"]`, ".brand", ".product-brand"))
	putIf(meta, "sku", firstText(doc, `[itemprop="sku"]`, ".sku", "[data-sku]"))

	current, original := e.prices(doc)
	if current != "" {
		if p, ok := ParsePrice(current); ok {
			meta["price"] = strconv.FormatFloat(p.Amount, 'f', 2, 64)
			putIf(meta, "currency", p.Currency)
		}
	}
	if original != "" {
		if p, ok := ParsePrice(original); ok {
			meta["original_price"] = strconv.FormatFloat(p.Amount, 'f', 2, 64)
			if cur, okc := meta["price"]; okc {
				if curAmt, err := strconv.ParseFloat(cur, 64); err == nil && p.Amount > 0 && curAmt < p.Amount {
					discount := (1 - curAmt/p.Amount) * 100
					meta["discount_percent"] = strconv.FormatFloat(discount, 'f', 1, 64)
				}
			}
		}
	}
	if cur := firstAttr(doc, `[itemprop="priceCurrency"]`, "content"); cur != "" {
		meta["currency"] = cur
	}

	putIf(meta, "stock_status", e.stockStatus(doc))
	putIf(meta, "rating", firstText(doc, `[itemprop="ratingValue"]`, ".rating-value"))
	putIf(meta, "review_count", firstText(doc, `[itemprop="reviewCount"]`, ".review-count"))

	if images := e.images(doc); len(images) > 0 {
		meta["images"] = strings.Join(images, " ")
	}
	if variants := e.variants(doc); len(variants) > 0 {
		if data, err := json.Marshal(variants); err == nil {
			meta["variants"] = string(data)
		}
	}

	if len(meta) > 0 {
		result.Metadata = meta
	}
	return result, nil
}

func (e *Ecommerce) productName(doc *goquery.Document) string {
	if name := firstText(doc, `[itemprop="name"]`, "h1.product-title", "h1"); name != "" {
		return name
	}
	return firstAttr(doc, `meta[property="og:title"]`, "content")
}

// prices returns the raw current and original (pre-discount) price strings.
func (e *Ecommerce) prices(doc *goquery.Document) (current, original string) {
	current = firstText(doc,
		`[itemprop="price"]`, ".price--current", ".sale-price", ".current-price", ".price")
	if current == "" {
		current = firstAttr(doc, `[itemprop="price"]`, "content")
	}
	if current == "" {
		current = firstAttr(doc, `meta[property="product:price:amount"]`, "content")
	}

	original = firstText(doc,
		".price--original", ".was-price", ".original-price", ".price del", ".price s")
	return current, original
}

func (e *Ecommerce) stockStatus(doc *goquery.Document) string {
	if avail := firstAttr(doc, `[itemprop="availability"]`, "href"); avail != "" {
		switch {
		case strings.Contains(avail, "InStock"):
			return "in_stock"
		case strings.Contains(avail, "OutOfStock"):
			return "out_of_stock"
		}
	}
	text := strings.ToLower(firstText(doc, ".stock", ".availability", ".stock-status"))
	switch {
	case strings.Contains(text, "out of stock"), strings.Contains(text, "sold out"):
		return "out_of_stock"
	case strings.Contains(text, "in stock"), strings.Contains(text, "available"):
		return "in_stock"
	}
	return ""
}

func (e *Ecommerce) images(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var images []string
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src != "" && !seen[src] {
			seen[src] = true
			images = append(images, src)
		}
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})
	doc.Find(`[itemprop="image"], .product-image img, .product-gallery img`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", s.AttrOr("content", "")))
	})
	return images
}

// variants reads <select> option lists and explicit variant rows. Select
// options become one variant each, keyed by the select's name attribute.
func (e *Ecommerce) variants(doc *goquery.Document) []Variant {
	var variants []Variant

	doc.Find(`select[name*="variant"], select[name*="option"], .product-variants select`).Each(func(_ int, sel *goquery.Selection) {
		attr := sel.AttrOr("name", "variant")
		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			value := strings.TrimSpace(opt.Text())
			if value == "" || opt.AttrOr("value", "") == "" {
				return
			}
			variants = append(variants, Variant{
				Attributes: map[string]string{attr: value},
				Price:      opt.AttrOr("data-price", ""),
				Available:  opt.AttrOr("disabled", "absent") == "absent",
			})
		})
	})

	doc.Find(".variant-row, [data-variant]").Each(func(_ int, row *goquery.Selection) {
		attrs := map[string]string{}
		if name := row.AttrOr("data-variant", ""); name != "" {
			attrs["variant"] = name
		}
		if len(attrs) == 0 {
			return
		}
		variants = append(variants, Variant{
			Attributes: attrs,
			Price:      row.AttrOr("data-price", ""),
			Available:  !strings.Contains(strings.ToLower(row.Text()), "out of stock"),
		})
	})

	return variants
}

func putIf(meta map[string]string, key, value string) {
	value = strings.TrimSpace(value)
	if value != "" {
		meta[key] = value
	}
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	if s := doc.Find(selector).First(); s.Length() > 0 {
		return strings.TrimSpace(s.AttrOr(attr, ""))
	}
	return ""
}
