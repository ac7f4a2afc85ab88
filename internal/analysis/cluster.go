package analysis

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Normalization regexes compiled once at package init.
var (
	reSeparators = regexp.MustCompile(`[\s_\-./]+`)
	reNonWord    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	reEdgeUnders = regexp.MustCompile(`^_+|_+$`)
)

const (
	maxSpellings   = 10
	maxSpellingLen = 200
)

// ClusterValues groups the distinct non-empty values of a column by
// fingerprint. Only groups with more than one spelling are returned, sorted
// by (Count DESC, Canonical ASC). Returns an empty slice (never nil).
func ClusterValues(values []string) []models.ValueVariant {
	type clusterState struct {
		canonical string
		spellings map[string]int
		count     int
	}

	groups := make(map[string]*clusterState)

	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		fp := Fingerprint(v)
		cs, exists := groups[fp]
		if !exists {
			cs = &clusterState{
				canonical: SnakeCase(v),
				spellings: make(map[string]int),
			}
			groups[fp] = cs
		}
		cs.count++
		cs.spellings[v]++
	}

	variants := make([]models.ValueVariant, 0)
	for _, cs := range groups {
		if len(cs.spellings) < 2 {
			continue
		}
		variants = append(variants, models.ValueVariant{
			Canonical: cs.canonical,
			Spellings: topSpellings(cs.spellings),
			Count:     cs.count,
		})
	}

	sort.Slice(variants, func(i, j int) bool {
		if variants[i].Count != variants[j].Count {
			return variants[i].Count > variants[j].Count
		}
		return variants[i].Canonical < variants[j].Canonical
	})

	return variants
}

// topSpellings returns the most frequent spellings first.
func topSpellings(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > maxSpellings {
		out = out[:maxSpellings]
	}
	for i := range out {
		out[i] = truncateString(out[i], maxSpellingLen)
	}
	return out
}

// Fingerprint computes a stable SHA-256 fingerprint for a cell value.
func Fingerprint(value string) string {
	normalized := NormalizeValue(value)
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hash)
}

// NormalizeValue folds case and collapses separator runs so that
// "In-store", "in store" and "IN_STORE" compare equal.
func NormalizeValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.ToLower(v)
	v = reSeparators.ReplaceAllString(v, " ")
	v = strings.TrimSpace(v)
	return truncateString(v, 500)
}

// SnakeCase renders v as lower snake_case: "In-store" -> "in_store".
func SnakeCase(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = reNonWord.ReplaceAllString(v, "_")
	return reEdgeUnders.ReplaceAllString(v, "")
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
