package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
)

var added = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func sampleDoc() Document {
	b := domain.NewBook(domain.BookInput{
		Title:  "Dune",
		Author: "Frank Herbert",
		Status: domain.StatusReading,
		Rating: 4,
		Tags:   []string{"x"},
	}, added)
	return ToDocument(b, "u1")
}

func TestDocument_JSONCarriesOwner(t *testing.T) {
	doc := sampleDoc()

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "u1", raw["owner"])
	assert.Equal(t, "Dune", raw["title"])
	assert.Equal(t, doc.ID, raw["id"])

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, doc, back)
}

func TestStripOwner(t *testing.T) {
	doc := sampleDoc()
	books := StripOwner([]Document{doc})

	require.Len(t, books, 1)
	assert.Equal(t, doc.Book, books[0])

	data, err := json.Marshal(books[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "owner")
}

func TestDocument_Validate(t *testing.T) {
	assert.NoError(t, sampleDoc().Validate())

	untitled := sampleDoc()
	untitled.Title, untitled.Author = "", ""
	assert.NoError(t, untitled.Validate())

	tests := []struct {
		name   string
		mutate func(*Document)
	}{
		{"no owner", func(d *Document) { d.Owner = "" }},
		{"no id", func(d *Document) { d.ID = "" }},
		{"bad status", func(d *Document) { d.Status = "shelved" }},
		{"bad rating", func(d *Document) { d.Rating = 11 }},
		{"updated before added", func(d *Document) { d.UpdatedAt = d.AddedAt.Add(-time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDoc()
			tt.mutate(&d)
			assert.ErrorIs(t, d.Validate(), domainerrors.ErrValidation)
		})
	}
}

func TestPatchFromUpdate(t *testing.T) {
	at := added.Add(time.Hour)
	p := PatchFromUpdate(domain.BookUpdate{Rating: ptr(0), Tags: ptr([]string{" a ", "a"})}, at)

	assert.Equal(t, []string{"rating", "tags", "updatedAt"}, p.Keys())
	assert.Equal(t, 0, p["rating"])
	assert.Equal(t, []string{"a"}, p["tags"])
	assert.Equal(t, at, p["updatedAt"])
}

func TestApplyPatch(t *testing.T) {
	doc := sampleDoc()
	at := added.Add(time.Hour)

	merged, err := ApplyPatch(doc, PatchFromUpdate(domain.BookUpdate{
		Status: ptr(domain.StatusFinished),
		Rating: ptr(5),
	}, at))
	require.NoError(t, err)

	assert.Equal(t, doc.ID, merged.ID)
	assert.Equal(t, "u1", merged.Owner)
	assert.Equal(t, "Dune", merged.Title)
	assert.Equal(t, domain.StatusFinished, merged.Status)
	assert.Equal(t, 5, merged.Rating)
	assert.Equal(t, doc.AddedAt, merged.AddedAt)
	assert.True(t, merged.UpdatedAt.Equal(at))
	assert.Equal(t, []string{"x"}, merged.Tags)
}

func TestApplyPatch_Comments(t *testing.T) {
	doc := sampleDoc()
	c := domain.NewComment("good book", added.Add(time.Minute))

	merged, err := ApplyPatch(doc, CommentsPatch([]domain.Comment{c}, added.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, merged.Comments, 1)
	assert.Equal(t, "good book", merged.Comments[0].Text)
	assert.Equal(t, c.ID, merged.Comments[0].ID)
}

func TestApplyPatch_RejectsImmutableAndUnknown(t *testing.T) {
	doc := sampleDoc()

	for _, key := range []string{"id", "owner", "addedAt", "isbn"} {
		_, err := ApplyPatch(doc, Patch{key: "x"})
		assert.ErrorIs(t, err, domainerrors.ErrValidation, key)
	}
}

func TestApplyPatch_RejectsWrongShape(t *testing.T) {
	_, err := ApplyPatch(sampleDoc(), Patch{"rating": "five"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}
