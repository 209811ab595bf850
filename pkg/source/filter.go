package source

import "strings"

// DefaultPromoKeywords are words that mark a post as promoting something
// for sale.
var DefaultPromoKeywords = []string{
	"merch", "album", "vinyl", "buy", "sold out", "pre-order",
	"drop", "collection", "tour", "tickets", "concert", "shop",
	"limited edition", "exclusive", "purchase", "store",
}

// Filter holds keyword lists for promotional content matching.
type Filter struct {
	keywords []string
	exclude  []string
}

// NewFilter creates a filter with default promo keywords plus extras.
func NewFilter(extraKeywords, excludeKeywords []string) *Filter {
	keywords := make([]string, len(DefaultPromoKeywords))
	copy(keywords, DefaultPromoKeywords)
	keywords = append(keywords, extraKeywords...)

	for i, kw := range keywords {
		keywords[i] = strings.ToLower(kw)
	}

	exclude := make([]string, len(excludeKeywords))
	for i, kw := range excludeKeywords {
		exclude[i] = strings.ToLower(kw)
	}

	return &Filter{keywords: keywords, exclude: exclude}
}

// MatchesPromo returns true if text mentions a product or sale.
func (f *Filter) MatchesPromo(text string) bool {
	if f == nil {
		return false
	}
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
