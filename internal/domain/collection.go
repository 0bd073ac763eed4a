package domain

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTags trims and NFC-normalizes tags, dropping empties and duplicates.
// The first occurrence of each tag keeps its position so display order survives.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(norm.NFC.String(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FilterByStatus returns copies of the books with the given status, preserving order.
func FilterByStatus(books []Book, status Status) []Book {
	out := make([]Book, 0)
	for _, b := range books {
		if b.Status == status {
			out = append(out, b.Clone())
		}
	}
	return out
}

// DistinctTags returns every tag used across books, sorted lexicographically.
func DistinctTags(books []Book) []string {
	seen := make(map[string]struct{})
	for _, b := range books {
		for _, t := range b.Tags {
			seen[t] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// CloneBooks deep-copies a book slice.
func CloneBooks(books []Book) []Book {
	out := make([]Book, len(books))
	for i, b := range books {
		out[i] = b.Clone()
	}
	return out
}
