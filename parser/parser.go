// Package parser extracts claim links, inventory and metadata from the
// publisher's markup. Every selector the grabber depends on lives here.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-grab-ebooks/models"
)

// ErrNotFound is returned when an expected element is missing from a page.
var ErrNotFound = errors.New("parser: element not found")

var (
	downloadPathRe = regexp.MustCompile(`^(/[a-zA-Z]+_download/(\w+)(/(\w+))*)`)
	ebookTagRe     = regexp.MustCompile(`(?i)\s*\[e\w+\]\s*`)
	whitespaceRe   = regexp.MustCompile(`\s+`)

	forbiddenTitleChars = strings.NewReplacer(
		"?", " ", ":", " ", "*", " ", "/", " ", "<", " ",
		">", " ", `"`, " ", "|", " ", `\`, " ", "–", " ",
	)
)

// ClaimLink is what the offer page exposes for the daily free ebook.
type ClaimLink struct {
	Href  string
	Title string
}

// OfferDetails is the extra information shown next to the daily offer.
type OfferDetails struct {
	Description string
	BookURL     string
}

// BookDetails is scraped from an ebook's own page.
type BookDetails struct {
	Author       string
	PublishDate  string
	CodeFilesURL string
}

// ExtractFormBuildID returns the one-time token embedded in the login form.
func ExtractFormBuildID(doc *goquery.Selection) (string, error) {
	form := doc.Find("#packt-user-login-form")
	if form.Length() == 0 {
		return "", fmt.Errorf("login form: %w", ErrNotFound)
	}
	value, ok := form.Find(`input[name="form_build_id"]`).First().Attr("value")
	if !ok || value == "" {
		return "", fmt.Errorf("form_build_id: %w", ErrNotFound)
	}
	return value, nil
}

// ExtractClaimLink returns the claim hyperlink and the offered title.
func ExtractClaimLink(doc *goquery.Selection) (ClaimLink, error) {
	var link ClaimLink

	titleSel := doc.Find("div.dotd-title h2").First()
	if titleSel.Length() == 0 {
		return link, fmt.Errorf("offer title: %w", ErrNotFound)
	}
	link.Title = collapseSpace(titleSel.Text())

	href, ok := doc.Find(".twelve-days-claim").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return link, fmt.Errorf("claim link for %q: %w", link.Title, ErrNotFound)
	}
	link.Href = strings.TrimSpace(href)
	return link, nil
}

// ExtractOfferDetails reads the summary block of the offer page. Missing
// fields are left empty.
func ExtractOfferDetails(doc *goquery.Selection) OfferDetails {
	summary := doc.Find("div.dotd-main-book-summary").First()
	description := ""
	summary.ChildrenFiltered("div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if _, hasClass := s.Attr("class"); hasClass {
			return true
		}
		description = collapseSpace(s.Text())
		return false
	})

	bookURL, _ := doc.Find("div.dotd-main-book-image a").First().Attr("href")
	return OfferDetails{
		Description: description,
		BookURL:     strings.TrimSpace(bookURL),
	}
}

// ExtractBookDetails reads author, publish date and code archive link from a
// book page. Missing fields are left empty.
func ExtractBookDetails(doc *goquery.Selection) BookDetails {
	codeURL, _ := doc.Find("div.book-top-block-code a").First().Attr("href")
	return BookDetails{
		Author:       collapseSpace(doc.Find(".book-top-block-info-authors").First().Text()),
		PublishDate:  collapseSpace(doc.Find("time").First().Text()),
		CodeFilesURL: strings.TrimSpace(codeURL),
	}
}

// ExtractInventory builds one entry per product line of the library page.
// Button block i only ever contributes to entry i; surplus blocks are ignored.
func ExtractInventory(doc *goquery.Selection) ([]models.CatalogEntry, error) {
	list := doc.Find("#product-account-list")
	if list.Length() == 0 {
		return nil, fmt.Errorf("product account list: %w", ErrNotFound)
	}

	lines := list.Find("div.product-line.unseen")
	entries := make([]models.CatalogEntry, 0, lines.Length())
	lines.Each(func(_ int, line *goquery.Selection) {
		title, _ := line.Attr("title")
		id, _ := line.Attr("nid")
		entries = append(entries, models.CatalogEntry{
			Title:     NormalizeTitle(title),
			ID:        strings.TrimSpace(id),
			Downloads: map[models.Format]string{},
		})
	})

	doc.Find("div.product-buttons-line.toggle").Each(func(i int, block *goquery.Selection) {
		if i >= len(entries) {
			return
		}
		entries[i].Downloads = ExtractDownloadLinks(block)
	})

	return entries, nil
}

// ExtractDownloadLinks maps formats to download paths for one button block.
// A path without a trailing format segment is the code archive.
func ExtractDownloadLinks(block *goquery.Selection) map[models.Format]string {
	links := map[models.Format]string{}
	block.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		m := downloadPathRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		format := models.FormatCode
		if m[4] != "" {
			format = models.Format(m[4])
		}
		links[format] = m[0]
	})
	return links
}

// NormalizeTitle removes the "[eBook]" style tag and surrounding spaces.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(ebookTagRe.ReplaceAllString(title, ""))
}

// SanitizeTitle makes a title safe to use as a file name.
func SanitizeTitle(title string) string {
	return forbiddenTitleChars.Replace(title)
}

// ValidateEntry ensures the scraper captured the fields needed for transfer.
func ValidateEntry(e models.CatalogEntry) error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("entry %q missing title", e.ID)
	}
	for format, path := range e.Downloads {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("entry %q has non-relative %s path %q", e.Title, format, path)
		}
	}
	return nil
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
