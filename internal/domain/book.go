// Package domain contains the book and comment entities of a personal library
// along with their construction helpers and merge rules.
package domain

import (
	"slices"
	"time"

	"github.com/shelfieapp/shelfie/internal/id"
)

// Status is the reading status of a book.
type Status string

// Reading statuses.
const (
	StatusReading  Status = "reading"
	StatusWillRead Status = "will-read"
	StatusFinished Status = "finished"
	StatusDropped  Status = "dropped"
)

// Rating bounds, inclusive.
const (
	MinRating = 0
	MaxRating = 5
)

// Statuses returns every status in display order.
func Statuses() []Status {
	return []Status{StatusReading, StatusWillRead, StatusFinished, StatusDropped}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

// Label returns the human readable name of the status.
func (s Status) Label() string {
	switch s {
	case StatusReading:
		return "Reading"
	case StatusWillRead:
		return "Will Read"
	case StatusFinished:
		return "Finished"
	case StatusDropped:
		return "Dropped"
	default:
		return string(s)
	}
}

// ValidRating reports whether r lies within [MinRating, MaxRating].
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// Book is a tracked book in the user's library.
// ID and AddedAt never change after creation.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	CoverURL    string    `json:"coverUrl,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Rating      int       `json:"rating"`
	Tags        []string  `json:"tags"`
	Comments    []Comment `json:"comments"`
	AddedAt     time.Time `json:"addedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Comment is a note attached to exactly one book.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookInput holds the caller-supplied fields of a new book.
type BookInput struct {
	Title       string   `json:"title" validate:"required,notblank"`
	Author      string   `json:"author" validate:"required,notblank"`
	CoverURL    string   `json:"coverUrl,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status" validate:"required,oneof=reading will-read finished dropped"`
	Rating      int      `json:"rating" validate:"gte=0,lte=5"`
	Tags        []string `json:"tags,omitempty"`
}

// BookUpdate is a partial set of fields to merge onto an existing book.
// Nil fields are left untouched.
type BookUpdate struct {
	Title       *string   `json:"title,omitempty" validate:"omitempty,notblank"`
	Author      *string   `json:"author,omitempty" validate:"omitempty,notblank"`
	CoverURL    *string   `json:"coverUrl,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty" validate:"omitempty,oneof=reading will-read finished dropped"`
	Rating      *int      `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	Tags        *[]string `json:"tags,omitempty"`
}

// IsEmpty reports whether the update sets no field.
func (u BookUpdate) IsEmpty() bool {
	return u.Title == nil && u.Author == nil && u.CoverURL == nil && u.Description == nil &&
		u.Status == nil && u.Rating == nil && u.Tags == nil
}

// NewBook builds a book from input with a fresh ID, matching AddedAt and
// UpdatedAt timestamps and no comments.
func NewBook(in BookInput, now time.Time) Book {
	now = now.UTC()
	return Book{
		ID:          id.MustGenerate(id.PrefixBook),
		Title:       in.Title,
		Author:      in.Author,
		CoverURL:    in.CoverURL,
		Description: in.Description,
		Status:      in.Status,
		Rating:      in.Rating,
		Tags:        NormalizeTags(in.Tags),
		Comments:    []Comment{},
		AddedAt:     now,
		UpdatedAt:   now,
	}
}

// NewComment builds a comment with a fresh ID and creation time.
func NewComment(text string, now time.Time) Comment {
	return Comment{
		ID:        id.MustGenerate(id.PrefixComment),
		Text:      text,
		CreatedAt: now.UTC(),
	}
}

// Apply shallow-merges u onto b and stamps UpdatedAt.
// The ID and AddedAt are never touched.
func (b *Book) Apply(u BookUpdate, now time.Time) {
	if u.Title != nil {
		b.Title = *u.Title
	}
	if u.Author != nil {
		b.Author = *u.Author
	}
	if u.CoverURL != nil {
		b.CoverURL = *u.CoverURL
	}
	if u.Description != nil {
		b.Description = *u.Description
	}
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.Rating != nil {
		b.Rating = *u.Rating
	}
	if u.Tags != nil {
		b.Tags = NormalizeTags(*u.Tags)
	}
	b.Touch(now)
}

// AppendComment adds c to the end of the comment sequence and stamps UpdatedAt.
func (b *Book) AppendComment(c Comment, now time.Time) {
	b.Comments = append(b.Comments, c)
	b.Touch(now)
}

// RemoveComment drops the comment with the given ID and stamps UpdatedAt.
// Returns true if a comment was removed.
func (b *Book) RemoveComment(commentID string, now time.Time) bool {
	before := len(b.Comments)
	b.Comments = slices.DeleteFunc(b.Comments, func(c Comment) bool {
		return c.ID == commentID
	})
	b.Touch(now)
	return len(b.Comments) != before
}

// Touch refreshes UpdatedAt, never letting it fall behind AddedAt.
func (b *Book) Touch(now time.Time) {
	now = now.UTC()
	if now.Before(b.AddedAt) {
		now = b.AddedAt
	}
	b.UpdatedAt = now
}

// HasComment reports whether a comment with the given ID exists.
func (b *Book) HasComment(commentID string) bool {
	return slices.ContainsFunc(b.Comments, func(c Comment) bool {
		return c.ID == commentID
	})
}

// Clone returns a deep copy of b so callers cannot alias its slices.
func (b Book) Clone() Book {
	b.Tags = slices.Clone(b.Tags)
	b.Comments = slices.Clone(b.Comments)
	if b.Tags == nil {
		b.Tags = []string{}
	}
	if b.Comments == nil {
		b.Comments = []Comment{}
	}
	return b
}
