// Package catalog loads the reference item list used for fuzzy matching.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// FormatError reports malformed reference data. It is fatal: the orchestrator
// refuses to schedule any job until the reference file is fixed.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("reference data %s: %s", e.Path, e.Reason)
}

// Item is one reference entry as it appears in the source file.
type Item struct {
	Brand    string `json:"brand"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Catalog is an immutable in-memory index of known items. Entries keep
// first-seen order; exact duplicate full names are discarded on load.
type Catalog struct {
	fullNames  []string
	normalized []string
	categories map[string]string
}

// Load reads and validates a reference data file. Any shape violation
// returns a *FormatError.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &FormatError{Path: path, Reason: err.Error()}
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &FormatError{Path: path, Reason: "expected a JSON list of objects"}
	}

	items := make([]Item, 0, len(entries))
	for i, entry := range entries {
		brand, brandOK := entry["brand"].(string)
		name, nameOK := entry["name"].(string)
		if !brandOK || !nameOK {
			return nil, &FormatError{
				Path:   path,
				Reason: fmt.Sprintf("entry %d must contain string 'brand' and 'name' fields", i),
			}
		}
		item := Item{Brand: brand, Name: name}
		if category, ok := entry["category"].(string); ok {
			item.Category = category
		}
		items = append(items, item)
	}

	c := build(items)
	logger.Info("reference catalog loaded",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
		zap.Int("unique", c.Len()),
	)
	return c, nil
}

func build(items []Item) *Catalog {
	c := &Catalog{categories: make(map[string]string, len(items))}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		fullName := item.Brand + " " + item.Name
		if _, dup := seen[fullName]; dup {
			continue
		}
		seen[fullName] = struct{}{}
		c.fullNames = append(c.fullNames, fullName)
		c.normalized = append(c.normalized, Normalize(fullName))
		c.categories[fullName] = item.Category
	}
	return c
}

// New builds a catalog directly from items. Used by tests and by callers
// that already hold parsed reference data.
func New(items []Item) *Catalog {
	return build(items)
}

// Len reports the number of unique entries.
func (c *Catalog) Len() int {
	return len(c.fullNames)
}

// FullNames returns the entries in first-seen order. Callers must not
// mutate the returned slice.
func (c *Catalog) FullNames() []string {
	return c.fullNames
}

// NormalizedNames returns the pre-normalized entries, index-aligned with
// FullNames.
func (c *Catalog) NormalizedNames() []string {
	return c.normalized
}

// LookupCategory returns the category recorded for a full name, if any.
func (c *Catalog) LookupCategory(fullName string) (string, bool) {
	category, ok := c.categories[fullName]
	if !ok || category == "" {
		return "", false
	}
	return category, true
}

// Normalize canonicalizes a name before similarity scoring. The same
// transform is applied to catalog entries and candidates, and it is
// idempotent.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "&", " and ")
	text = strings.ReplaceAll(text, "-", " ")
	text = strings.ReplaceAll(text, "/", " ")
	text = strings.ReplaceAll(text, "®", "") // registered sign
	text = strings.ReplaceAll(text, "™", "") // trademark sign
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
