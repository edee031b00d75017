package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-books-spider/models"
)

// ValidateEntry ensures an entry carries the fields downstream sinks rely on.
func ValidateEntry(e *models.CatalogEntry) error {
	if e == nil {
		return fmt.Errorf("entry is nil")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("entry missing title")
	}
	if strings.TrimSpace(e.UPC) == "" {
		return fmt.Errorf("entry missing upc for %s", e.Title)
	}
	if e.Price <= 0 {
		return fmt.Errorf("entry has non-positive price for %s", e.Title)
	}
	if e.Rating < 0 || e.Rating > MaxRating {
		return fmt.Errorf("entry rating %d out of range for %s", e.Rating, e.Title)
	}
	if e.StockCount != nil && *e.StockCount < 0 {
		return fmt.Errorf("entry has negative stock count for %s", e.Title)
	}
	return nil
}
