// Package parser extracts name records and pagination state from listing
// pages.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrMalformed matches every *ParseFailure.
var ErrMalformed = errors.New("malformed page")

// ParseFailure reports a page whose structure could not be understood. It is
// distinct from a legitimate last page.
type ParseFailure struct {
	Category model.Category
	Reason   string
	Err      error
}

// Error implements the error interface.
func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s page: %s: %v", e.Category, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s page: %s", e.Category, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// Is reports ErrMalformed as a match.
func (e *ParseFailure) Is(target error) bool {
	return target == ErrMalformed
}

// Selectors locate the parts of a listing page.
type Selectors struct {
	Row        string
	MaleName   string
	FemaleName string
	NativeName string
	Pagination string
}

// DefaultSelectors matches the muslimnames.com listing layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Row:        "div.name_row",
		MaleName:   "a.name_boys",
		FemaleName: "a.name_girls",
		NativeName: "b.name_arabic",
		Pagination: `div[style*="text-align:center"]`,
	}
}

func (s Selectors) nameFor(cat model.Category) string {
	if cat == model.Female {
		return s.FemaleName
	}
	return s.MaleName
}

// Result is what one page yields.
type Result struct {
	Records []model.Record

	// HasMore is true when the pagination region names a later page.
	HasMore bool

	// CurrentPage and TotalPages come from the pagination region; 0 if absent.
	CurrentPage int
	TotalPages  int

	// Skipped counts entries dropped for lacking a display name.
	Skipped int
}

var pageOfRe = regexp.MustCompile(`(?i)(?:page\s+)?(\d+)\s+of\s+(\d+)`)

// Parser is stateless and safe for concurrent use.
type Parser struct {
	sel     Selectors
	baseURL *url.URL
	logger  zerolog.Logger
}

// New creates a parser resolving relative entry links against baseURL.
func New(baseURL string, sel Selectors) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Parser{
		sel:     sel,
		baseURL: base,
		logger:  log.With().Str("component", "parser").Logger(),
	}, nil
}

// Parse extracts the records of one listing page.
func (p *Parser) Parse(content []byte, cat model.Category) (Result, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return Result{}, &ParseFailure{Category: cat, Reason: "empty body"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return Result{}, &ParseFailure{Category: cat, Reason: "unreadable document", Err: err}
	}

	var res Result
	rows := doc.Find(p.sel.Row)
	rows.Each(func(i int, row *goquery.Selection) {
		rec, ok := p.parseRow(row, cat)
		if !ok {
			res.Skipped++
			p.logger.Debug().Str("category", string(cat)).Int("row", i).Msg("Skipping entry without display name")
			return
		}
		res.Records = append(res.Records, rec)
	})

	current, total, found := p.pagination(doc)
	res.CurrentPage, res.TotalPages = current, total
	res.HasMore = found && current < total

	switch {
	case rows.Length() == 0 && !found:
		return Result{}, &ParseFailure{Category: cat, Reason: "no entries and no pagination region"}
	case rows.Length() > 0 && len(res.Records) == 0 && !found:
		return Result{}, &ParseFailure{Category: cat, Reason: fmt.Sprintf("none of %d entries has a display name", rows.Length())}
	case res.HasMore && len(res.Records) == 0:
		return Result{}, &ParseFailure{Category: cat, Reason: fmt.Sprintf("page %d of %d has no entries", current, total)}
	}

	return res, nil
}

func (p *Parser) parseRow(row *goquery.Selection, cat model.Category) (model.Record, bool) {
	link := row.Find(p.sel.nameFor(cat)).First()
	name := cleanText(link.Text())
	if link.Length() == 0 || name == "" {
		return model.Record{}, false
	}

	native := cleanText(row.Find(p.sel.NativeName).First().Text())

	rest := row.Clone()
	rest.Find(p.sel.nameFor(cat)).Remove()
	rest.Find(p.sel.NativeName).Remove()
	meaning := lastLine(rest.Text())

	rec := model.Record{
		DisplayName: name,
		NativeName:  native,
		Meaning:     meaning,
		Category:    cat,
	}
	if href, ok := link.Attr("href"); ok && strings.TrimSpace(href) != "" {
		rec.URL = p.resolve(strings.TrimSpace(href))
	}
	return rec, true
}

// pagination reads "Page X of N" from the pagination region.
func (p *Parser) pagination(doc *goquery.Document) (current, total int, found bool) {
	doc.Find(p.sel.Pagination).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := pageOfRe.FindStringSubmatch(s.Text())
		if m == nil {
			return true
		}
		c, err1 := strconv.Atoi(m[1])
		t, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || c < 1 || t < 1 {
			return true
		}
		current, total, found = c, t, true
		return false
	})
	return current, total, found
}

func (p *Parser) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.baseURL.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := cleanText(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
