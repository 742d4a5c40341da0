// Package harvest defines core types shared across subsystems.
package harvest

import (
	"errors"
	"time"
)

// ErrEndOfData is returned by a Fetcher when the catalog has no page at the
// requested offset.
var ErrEndOfData = errors.New("end of data")

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

// Job status values reported by the runner.
const (
	JobStatusCreated   JobStatus = "created"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Ingredient is one row of an item's ingredient table.
type Ingredient struct {
	Name                 string   `json:"name"`
	Link                 string   `json:"ingredient_link,omitempty"`
	WhatItDoes           []string `json:"what_it_does,omitempty"`
	IrritancyValues      []string `json:"irritancy_values,omitempty"`
	ComedogenicityValues []string `json:"comedogenicity_values,omitempty"`
	Rating               string   `json:"id_rating,omitempty"`
}

// Highlight groups key ingredients by the function they serve.
type Highlight struct {
	Function    string   `json:"function"`
	Ingredients []string `json:"ingredients"`
}

// Record is the extracted payload for a single catalog item. It doubles as
// the cache entry: the matched fields are mutable in place, so a record
// cached as unmatched can later be promoted.
type Record struct {
	FullName        string       `json:"full_name,omitempty"`
	Brand           string       `json:"brand,omitempty"`
	Name            string       `json:"name,omitempty"`
	Description     string       `json:"description,omitempty"`
	Key             string       `json:"url"`
	ImageURL        string       `json:"image_url,omitempty"`
	HighResImageURL string       `json:"high_res_image_url,omitempty"`
	Matched         bool         `json:"matched"`
	MatchedName     string       `json:"matched_name,omitempty"`
	Category        string       `json:"category,omitempty"`
	Ingredients     []Ingredient `json:"ingredients,omitempty"`
	Hashtags        []string     `json:"hashtags,omitempty"`
	Highlights      []Highlight  `json:"highlights,omitempty"`
	Error           string       `json:"error,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Page is one page of the paginated listing: the ordered item keys found at
// a given offset.
type Page struct {
	Offset int
	Keys   []string
}

// JobSpec defines one bounded unit of harvest work.
type JobSpec struct {
	StartOffset    int
	PageCount      int
	BatchSize      int
	Threshold      int
	OutputDir      string
	CheckpointPath string
	CachePath      string
	ReferencePath  string
}

// JobSummary is written once per job at completion and merged into the
// orchestrator's global stats.
type JobSummary struct {
	JobID        string    `json:"job_id,omitempty"`
	StartOffset  int       `json:"start_offset"`
	PageCount    int       `json:"page_count"`
	ItemCount    int       `json:"item_count"`
	MatchedCount int       `json:"matched_count"`
	EndOffset    int       `json:"end_offset"`
	Timestamp    time.Time `json:"timestamp"`
	OutputDir    string    `json:"output_dir,omitempty"`
}
