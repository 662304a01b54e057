package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aluiziolira/go-grab-ebooks/models"
	"github.com/aluiziolira/go-grab-ebooks/parser"
)

// ClaimResult describes a successfully claimed daily ebook.
type ClaimResult struct {
	Title string
	Link  string
}

// Claim scrapes the free-learning offer and follows its claim link. Any
// failure after the title was scraped carries that title.
func (s *Session) Claim(ctx context.Context) (*ClaimResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Info("start grabbing eBook")

	offerURL := s.URL(OfferPath)
	p, err := s.fetch(stepOffer, http.MethodGet, offerURL, nil)
	if err == nil && p.status != http.StatusOK {
		err = &StatusError{URL: offerURL, Status: p.status}
	}
	if err != nil {
		return nil, &ClaimFailedError{Status: p.status, Err: err}
	}
	doc, err := p.document()
	if err != nil {
		return nil, &ClaimFailedError{Status: p.status, Err: err}
	}

	link, err := parser.ExtractClaimLink(doc)
	if err != nil {
		return nil, &ClaimFailedError{Title: link.Title, Status: p.status, Err: &MarkupError{URL: offerURL, Err: err}}
	}

	claimURL := s.URL(link.Href)
	p, err = s.fetch(stepClaim, http.MethodGet, claimURL, nil)
	if err != nil || p.status != http.StatusOK {
		return nil, &ClaimFailedError{Title: link.Title, Status: p.status, Err: err}
	}

	s.logger.Info("eBook has been successfully grabbed", slog.String("title", link.Title))
	return &ClaimResult{Title: link.Title, Link: claimURL}, nil
}

// ClaimedBookDetails re-reads the offer page and the book's own page to
// collect the metadata recorded for a claimed title.
func (s *Session) ClaimedBookDetails(ctx context.Context, title string) (models.ClaimedBook, error) {
	book := models.ClaimedBook{Title: title}
	if err := ctx.Err(); err != nil {
		return book, err
	}

	offerURL := s.URL(OfferPath)
	p, err := s.fetch(stepOffer, http.MethodGet, offerURL, nil)
	if err == nil && p.status != http.StatusOK {
		err = &StatusError{URL: offerURL, Status: p.status}
	}
	if err != nil {
		return book, fmt.Errorf("fetch offer page: %w", err)
	}
	doc, err := p.document()
	if err != nil {
		return book, err
	}

	offer := parser.ExtractOfferDetails(doc)
	book.Description = offer.Description
	book.CapturedAt = s.now()
	if offer.BookURL == "" {
		s.logger.Warn("offer page has no book link, skipping book page", slog.String("title", title))
		return book, nil
	}
	book.BookURL = s.URL(offer.BookURL)

	p, err = s.fetch(stepBook, http.MethodGet, book.BookURL, nil)
	if err == nil && p.status != http.StatusOK {
		err = &StatusError{URL: book.BookURL, Status: p.status}
	}
	if err != nil {
		return book, fmt.Errorf("fetch book page: %w", err)
	}
	doc, err = p.document()
	if err != nil {
		return book, err
	}

	details := parser.ExtractBookDetails(doc)
	book.Author = details.Author
	book.PublishDate = details.PublishDate
	if details.CodeFilesURL != "" {
		book.CodeFilesURL = s.URL(details.CodeFilesURL)
	}
	return book, nil
}
