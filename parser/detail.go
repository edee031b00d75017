package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-books-spider/models"
)

// NoDescription replaces a missing product description.
const NoDescription = "No description available"

const (
	titlePattern        = "h3 > a"
	pricePattern        = ".price_color"
	ratingPattern       = ".star-rating"
	categoryPattern     = ".breadcrumb li:nth-child(3) > a"
	descriptionPattern  = "#product_description + p"
	identifierPattern   = "table tr:first-child td"
	availabilityPattern = ".instock.availability"
)

var stockPattern = regexp.MustCompile(`\((\d+) available\)`)

// ExtractDetail builds a catalog entry from a listing fragment and its detail page.
// Title, price and rating come from the fragment; the rest from the detail page.
func ExtractDetail(fragment ListingFragment, detail Node) (*models.CatalogEntry, error) {
	priceText, _ := firstText(fragment.Card, pricePattern)
	price, err := ParsePrice(priceText)
	if err != nil {
		return nil, err
	}

	ratingClass, _ := firstAttr(fragment.Card, ratingPattern, "class")
	rating, err := DecodeRating(ratingClass)
	if err != nil {
		return nil, err
	}

	upc, _ := firstText(detail, identifierPattern)
	if upc == "" {
		return nil, &MissingIdentifierError{URL: fragment.DetailURL}
	}

	category, _ := firstText(detail, categoryPattern)

	description, _ := firstText(detail, descriptionPattern)
	if description == "" {
		description = NoDescription
	}

	return &models.CatalogEntry{
		Title:       extractTitle(fragment.Card),
		Price:       price,
		Rating:      rating,
		StockCount:  extractStockCount(detail),
		Category:    category,
		Description: description,
		UPC:         upc,
		URL:         fragment.DetailURL,
		ScrapedAt:   time.Now().UTC(),
	}, nil
}

func extractTitle(card Node) string {
	anchor, ok := card.SelectFirst(titlePattern)
	if !ok {
		return ""
	}
	if title, ok := anchor.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(anchor.Text())
}

func extractStockCount(detail Node) *int {
	availability, ok := firstText(detail, availabilityPattern)
	if !ok {
		return nil
	}
	match := stockPattern.FindStringSubmatch(availability)
	if match == nil {
		return nil
	}
	count, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &count
}
