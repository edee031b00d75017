// Package models defines data structures for the spider.
package models

import "time"

// CatalogEntry is one book record extracted from a listing card and its detail page.
type CatalogEntry struct {
	Title       string    `csv:"title" json:"title" bson:"title"`
	Price       float64   `csv:"price" json:"price" bson:"price"`
	Rating      int       `csv:"rating" json:"rating" bson:"rating"`
	StockCount  *int      `csv:"amount_in_stock" json:"amount_in_stock" bson:"amount_in_stock"`
	Category    string    `csv:"category" json:"category" bson:"category"`
	Description string    `csv:"description" json:"description" bson:"description"`
	UPC         string    `csv:"upc" json:"upc" bson:"upc"`
	URL         string    `csv:"url" json:"url" bson:"url"`
	ScrapedAt   time.Time `csv:"scraped_at" json:"scraped_at" bson:"scraped_at"`
}

// ScraperResult holds the overall result of a crawl.
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int

	ListingPages     int
	DetailPages      int
	SkippedItems     int
	ExtractionErrors map[string]int
}
