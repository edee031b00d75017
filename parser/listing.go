package parser

import (
	"iter"
	"net/url"
	"strings"
)

const (
	itemCardPattern   = "article.product_pod"
	detailLinkPattern = "h3 > a"
	nextLinkPattern   = "li.next > a"
)

// ListingFragment is one item card from a listing page together with the
// absolute URL of its detail page.
type ListingFragment struct {
	Card      Node
	DetailURL string
}

// ExtractListingFragments yields the item cards on a listing page in document
// order. Cards without a usable detail link are skipped.
func ExtractListingFragments(page Node, base *url.URL) iter.Seq[ListingFragment] {
	return func(yield func(ListingFragment) bool) {
		for _, card := range page.SelectAll(itemCardPattern) {
			href, ok := firstAttr(card, detailLinkPattern, "href")
			if !ok {
				continue
			}
			detailURL, ok := resolveURL(base, href)
			if !ok {
				continue
			}
			if !yield(ListingFragment{Card: card, DetailURL: detailURL}) {
				return
			}
		}
	}
}

// CountItemCards returns the number of item cards on a listing page,
// including cards without a detail link.
func CountItemCards(page Node) int {
	return len(page.SelectAll(itemCardPattern))
}

// NextPageURL returns the absolute URL of the next listing page, if any.
func NextPageURL(page Node, base *url.URL) (string, bool) {
	href, ok := firstAttr(page, nextLinkPattern, "href")
	if !ok {
		return "", false
	}
	return resolveURL(base, href)
}

func resolveURL(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base == nil {
		return ref.String(), true
	}
	return base.ResolveReference(ref).String(), true
}
