// Package fuzzy implements approximate name matching against the reference
// catalog.
package fuzzy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/beautydex/harvester/internal/catalog"
)

// Names shorter than this get a stricter threshold to suppress false
// positives ("Dove" would otherwise match every "Dove ..." entry).
const (
	shortNameLength    = 15
	shortNameThreshold = 90
)

// Result reports a single match decision.
type Result struct {
	IsMatch     bool
	MatchedName string
	Score       float64
}

// Ratio scores the character-level similarity of two strings on a 0..100
// scale, based on the normalized indel distance. Equal strings score 100.
func Ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	return 200 * float64(lcsLength(ra, rb)) / float64(total)
}

// TokenSetRatio scores similarity ignoring word order and duplicated words.
// Both inputs are reduced to sorted unique token sets; the score is the best
// Ratio among the intersection and each side's intersection+remainder.
func TokenSetRatio(a, b string) float64 {
	tokensA := uniqueSortedTokens(a)
	tokensB := uniqueSortedTokens(b)
	if len(tokensA) == 0 && len(tokensB) == 0 {
		return 100
	}

	inter, diffA, diffB := tokenSetSplit(tokensA, tokensB)

	sectJoined := strings.Join(inter, " ")
	combinedA := joinNonEmpty(sectJoined, strings.Join(diffA, " "))
	combinedB := joinNonEmpty(sectJoined, strings.Join(diffB, " "))

	// A non-empty intersection with one side fully contained means the
	// smaller name is a token subset of the larger: full score.
	if sectJoined != "" && (len(diffA) == 0 || len(diffB) == 0) {
		return 100
	}

	best := Ratio(combinedA, combinedB)
	if s := Ratio(sectJoined, combinedA); s > best {
		best = s
	}
	if s := Ratio(sectJoined, combinedB); s > best {
		best = s
	}
	return best
}

// EffectiveThreshold applies the short-name floor: un-normalized candidates
// shorter than 15 characters require at least 90 regardless of the
// configured threshold.
func EffectiveThreshold(candidate string, configured int) int {
	if utf8.RuneCountInString(candidate) < shortNameLength && configured < shortNameThreshold {
		return shortNameThreshold
	}
	return configured
}

// Match scores the candidate against every catalog entry and decides whether
// the best entry clears the effective threshold. Per entry the score is the
// maximum of the two measures; ties keep the earlier entry. An empty catalog
// yields a non-match, never an error.
func Match(candidateFullName string, cat *catalog.Catalog, threshold int) Result {
	if cat == nil || cat.Len() == 0 {
		return Result{}
	}

	normalized := catalog.Normalize(candidateFullName)
	bestScore := -1.0
	bestIndex := -1
	for i, entry := range cat.NormalizedNames() {
		score := Ratio(normalized, entry)
		if ts := TokenSetRatio(normalized, entry); ts > score {
			score = ts
		}
		if score > bestScore {
			bestScore = score
			bestIndex = i
		}
	}

	result := Result{Score: bestScore}
	if bestScore >= float64(EffectiveThreshold(candidateFullName, threshold)) {
		result.IsMatch = true
		result.MatchedName = cat.FullNames()[bestIndex]
	}
	return result
}

// lcsLength computes the longest common subsequence length with two rolling
// rows.
func lcsLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
		for j := range curr {
			curr[j] = 0
		}
	}
	return prev[len(b)]
}

func uniqueSortedTokens(s string) []string {
	fields := strings.Fields(s)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func tokenSetSplit(a, b []string) (inter, diffA, diffB []string) {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	inA := make(map[string]struct{}, len(a))
	for _, t := range a {
		inA[t] = struct{}{}
	}
	for _, t := range a {
		if _, ok := inB[t]; ok {
			inter = append(inter, t)
		} else {
			diffA = append(diffA, t)
		}
	}
	for _, t := range b {
		if _, ok := inA[t]; !ok {
			diffB = append(diffB, t)
		}
	}
	return inter, diffA, diffB
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
