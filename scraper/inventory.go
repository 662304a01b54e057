package scraper

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aluiziolira/go-grab-ebooks/models"
	"github.com/aluiziolira/go-grab-ebooks/parser"
)

// Inventory reads the account library once and returns one entry per owned
// ebook, in page order.
func (s *Session) Inventory(ctx context.Context) ([]models.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	libraryURL := s.URL(InventoryPath)
	s.logger.Info("getting data of all your books")

	p, err := s.fetch(stepInventory, http.MethodGet, libraryURL, nil)
	if err != nil || p.status != http.StatusOK {
		return nil, &InventoryError{URL: libraryURL, Status: p.status, Err: err}
	}
	doc, err := p.document()
	if err != nil {
		return nil, &InventoryError{URL: libraryURL, Status: p.status, Err: err}
	}

	entries, err := extractOrMarkup(libraryURL, doc, parser.ExtractInventory)
	if err != nil {
		return nil, &InventoryError{URL: libraryURL, Status: p.status, Err: err}
	}

	for _, e := range entries {
		if err := parser.ValidateEntry(e); err != nil {
			s.logger.Warn("suspicious inventory entry", slog.String("id", e.ID), slog.Any("error", err))
		}
	}

	s.logger.Info("opened library", slog.String("url", libraryURL), slog.Int("books", len(entries)))
	return entries, nil
}
