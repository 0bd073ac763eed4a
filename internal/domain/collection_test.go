package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"trims and drops empty", []string{"  fantasy ", "", "   "}, []string{"fantasy"}},
		{"dedupes preserving order", []string{"b", "a", "b", "c", "a"}, []string{"b", "a", "c"}},
		// "e" + combining acute accent composes to the same tag as the precomposed form.
		{"unicode normalization", []string{"café", "café"}, []string{"café"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTags(tt.in))
		})
	}
}

func TestFilterByStatus(t *testing.T) {
	now := time.Now()
	books := []Book{
		NewBook(BookInput{Title: "A", Author: "X", Status: StatusReading}, now),
		NewBook(BookInput{Title: "B", Author: "X", Status: StatusDropped}, now),
		NewBook(BookInput{Title: "C", Author: "X", Status: StatusReading}, now),
	}

	reading := FilterByStatus(books, StatusReading)
	assert.Len(t, reading, 2)
	assert.Equal(t, "A", reading[0].Title)
	assert.Equal(t, "C", reading[1].Title)

	assert.Empty(t, FilterByStatus(books, StatusFinished))
}

func TestDistinctTags(t *testing.T) {
	now := time.Now()
	books := []Book{
		NewBook(BookInput{Title: "A", Author: "X", Status: StatusReading, Tags: []string{"sci-fi", "classic"}}, now),
		NewBook(BookInput{Title: "B", Author: "X", Status: StatusReading, Tags: []string{"classic", "horror"}}, now),
	}

	assert.Equal(t, []string{"classic", "horror", "sci-fi"}, DistinctTags(books))
	assert.Empty(t, DistinctTags(nil))
}
