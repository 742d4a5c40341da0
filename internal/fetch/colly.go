// Package fetch implements harvest.Fetcher using the Colly collector.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/beautydex/harvester/internal/harvest"
)

// ItemSelectors names the CSS selectors used to extract item fields. The
// values are configuration, not code: the core stays free of site-specific
// knowledge.
type ItemSelectors struct {
	Name           string `mapstructure:"name"`
	Brand          string `mapstructure:"brand"`
	Description    string `mapstructure:"description"`
	Image          string `mapstructure:"image"`
	IngredientRows string `mapstructure:"ingredient_rows"`
	Hashtags       string `mapstructure:"hashtags"`
	HighlightRows  string `mapstructure:"highlight_rows"`
}

// Config controls collector behavior and page addressing.
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	ListingPath  string        `mapstructure:"listing_path"`
	OffsetParam  string        `mapstructure:"offset_param"`
	LinkSelector string        `mapstructure:"link_selector"`
	SkipPatterns []string      `mapstructure:"skip_patterns"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Delay        time.Duration `mapstructure:"delay"`
	Selectors    ItemSelectors `mapstructure:"selectors"`
}

// Fetcher retrieves listing and item pages via Colly.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// New builds a configured Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source base_url must be set")
	}
	opts := []colly.CollectorOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	if cfg.Timeout > 0 {
		base.SetRequestTimeout(cfg.Timeout)
	}
	if cfg.Delay > 0 {
		if err := base.Limit(&colly.LimitRule{DomainGlob: "*", Delay: cfg.Delay}); err != nil {
			return nil, fmt.Errorf("set collector limits: %w", err)
		}
	}
	return &Fetcher{
		cfg:           cfg,
		logger:        logger,
		baseCollector: base,
	}, nil
}

// PageURL returns the listing URL for a zero-based page offset.
func (f *Fetcher) PageURL(offset int) string {
	param := f.cfg.OffsetParam
	if param == "" {
		param = "offset"
	}
	return fmt.Sprintf("%s%s?%s=%d", strings.TrimRight(f.cfg.BaseURL, "/"), f.cfg.ListingPath, param, offset)
}

// FetchPage visits a listing page and collects the item keys it links to,
// in document order. A missing page or a page without item links signals
// harvest.ErrEndOfData.
func (f *Fetcher) FetchPage(ctx context.Context, offset int) (harvest.Page, error) {
	collector := f.baseCollector.Clone()

	var (
		keys       []string
		seen       = make(map[string]struct{})
		statusCode int
		fetchErr   error
	)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
	})
	collector.OnHTML(f.cfg.LinkSelector, func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" || f.skip(href) {
			return
		}
		key := e.Request.AbsoluteURL(href)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	pageURL := f.PageURL(offset)
	visitErr := collector.Visit(pageURL)
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return harvest.Page{}, err
	}
	// Visit reports HTTP status errors too, so the 404 check comes first: a
	// missing page is the end of the catalog, not a failure.
	if statusCode == http.StatusNotFound {
		return harvest.Page{}, harvest.ErrEndOfData
	}
	if fetchErr != nil {
		return harvest.Page{}, fmt.Errorf("fetch page %d: %w", offset, fetchErr)
	}
	if visitErr != nil {
		return harvest.Page{}, fmt.Errorf("visit %s: %w", pageURL, visitErr)
	}
	if len(keys) == 0 {
		f.logger.Info("listing page has no item links, treating as end of data",
			zap.Int("offset", offset),
			zap.String("url", pageURL),
		)
		return harvest.Page{}, harvest.ErrEndOfData
	}

	return harvest.Page{Offset: offset, Keys: keys}, nil
}

// FetchItem retrieves a single item page and extracts a Record using the
// configured selectors.
func (f *Fetcher) FetchItem(ctx context.Context, key string) (harvest.Record, error) {
	collector := f.baseCollector.Clone()

	record := harvest.Record{Key: key}
	var (
		parsed   bool
		fetchErr error
	)

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		parsed = true
		f.extract(e, &record)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	visitErr := collector.Visit(key)
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return harvest.Record{}, err
	}
	if fetchErr != nil {
		return harvest.Record{}, fmt.Errorf("fetch item %s: %w", key, fetchErr)
	}
	if visitErr != nil {
		return harvest.Record{}, fmt.Errorf("visit %s: %w", key, visitErr)
	}
	if !parsed {
		return harvest.Record{}, errors.New("item fetch produced no document")
	}

	record.Timestamp = time.Now().UTC()
	return record, nil
}

func (f *Fetcher) skip(href string) bool {
	for _, pattern := range f.cfg.SkipPatterns {
		if strings.Contains(href, pattern) {
			return true
		}
	}
	return false
}

func (f *Fetcher) extract(e *colly.HTMLElement, record *harvest.Record) {
	sel := f.cfg.Selectors

	record.Name = strings.TrimSpace(e.ChildText(sel.Name))
	record.Brand = strings.TrimSpace(e.ChildText(sel.Brand))
	if record.Brand != "" && record.Name != "" {
		record.FullName = record.Brand + " " + record.Name
	}
	record.Description = strings.TrimSpace(e.ChildText(sel.Description))

	if image := e.ChildAttr(sel.Image, "src"); image != "" {
		record.ImageURL = image
		// Image URLs carry a size modifier after '@'; strip it for the
		// original-resolution variant.
		if at := strings.Index(image, "@"); at > 0 {
			record.HighResImageURL = image[:at] + "_original.jpeg"
		}
	}

	if sel.IngredientRows != "" {
		record.Ingredients = f.extractIngredients(e, sel.IngredientRows)
	}
	if sel.Hashtags != "" {
		for _, tag := range e.ChildTexts(sel.Hashtags) {
			if tag = strings.TrimSpace(tag); tag != "" {
				record.Hashtags = append(record.Hashtags, tag)
			}
		}
	}
	if sel.HighlightRows != "" {
		record.Highlights = extractHighlights(e, sel.HighlightRows)
	}
}

func (f *Fetcher) extractIngredients(e *colly.HTMLElement, rowSelector string) []harvest.Ingredient {
	var out []harvest.Ingredient
	seen := make(map[string]struct{})

	e.ForEach(rowSelector, func(_ int, row *colly.HTMLElement) {
		ing := harvest.Ingredient{
			Name: strings.TrimSpace(row.ChildText("td:nth-child(1) a")),
		}
		if ing.Name == "" {
			return
		}
		// Tables repeat rows for mobile and desktop layouts.
		if _, dup := seen[ing.Name]; dup {
			return
		}
		seen[ing.Name] = struct{}{}

		if link := row.ChildAttr("td:nth-child(1) a", "href"); link != "" {
			ing.Link = row.Request.AbsoluteURL(link)
		}
		for _, role := range row.ChildTexts("td:nth-child(2) a") {
			if role = strings.TrimSpace(role); role != "" {
				ing.WhatItDoes = append(ing.WhatItDoes, role)
			}
		}
		ing.IrritancyValues = titleValues(row, `td:nth-child(3) span[title*="irritancy"]`)
		ing.ComedogenicityValues = titleValues(row, `td:nth-child(3) span[title*="comedogenicity"]`)
		ing.Rating = strings.TrimSpace(row.ChildText("td:nth-child(4) span"))

		out = append(out, ing)
	})
	return out
}

// titleValues pulls the value halves out of title attributes shaped like
// "irritancy: 2".
func titleValues(row *colly.HTMLElement, selector string) []string {
	var values []string
	row.ForEach(selector, func(_ int, span *colly.HTMLElement) {
		title := span.Attr("title")
		if _, value, found := strings.Cut(title, ":"); found {
			values = append(values, strings.TrimSpace(value))
		}
	})
	return values
}

func extractHighlights(e *colly.HTMLElement, rowSelector string) []harvest.Highlight {
	var out []harvest.Highlight
	e.ForEach(rowSelector, func(_ int, block *colly.HTMLElement) {
		function := strings.TrimSpace(block.ChildText("span.bold a"))
		if function == "" {
			return
		}
		h := harvest.Highlight{Function: function}
		for _, name := range block.ChildTexts("span:not(.bold) a") {
			if name = strings.TrimSpace(name); name != "" {
				h.Ingredients = append(h.Ingredients, name)
			}
		}
		if len(h.Ingredients) > 0 {
			out = append(out, h)
		}
	})
	return out
}
