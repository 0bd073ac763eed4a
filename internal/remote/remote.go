// Package remote defines the contract between the sync coordinator and a
// user-scoped remote document store, plus the document and patch shapes
// shared by every adapter.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/shelfieapp/shelfie/internal/domain"
	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
)

// Document is a book as stored remotely: the book record plus its owner.
type Document struct {
	domain.Book
	Owner string `json:"owner"`
}

// ToDocument tags b with owner.
func ToDocument(b domain.Book, owner string) Document {
	return Document{Book: b.Clone(), Owner: owner}
}

// ToDocuments tags every book with owner.
func ToDocuments(books []domain.Book, owner string) []Document {
	docs := make([]Document, len(books))
	for i, b := range books {
		docs[i] = ToDocument(b, owner)
	}
	return docs
}

// StripOwner returns the books of docs without their owner tag.
func StripOwner(docs []Document) []domain.Book {
	books := make([]domain.Book, len(docs))
	for i, d := range docs {
		books[i] = d.Book.Clone()
	}
	return books
}

// Validate checks the structural invariants a stored document must hold.
// Title and author are checked where books are created, not here.
func (d Document) Validate() error {
	switch {
	case d.ID == "":
		return domainerrors.Validation("document id is required")
	case d.Owner == "":
		return domainerrors.Validation("document owner is required")
	case !d.Status.Valid():
		return domainerrors.Validationf("invalid status %q", d.Status)
	case !domain.ValidRating(d.Rating):
		return domainerrors.Validationf("rating must be between %d and %d", domain.MinRating, domain.MaxRating)
	case d.UpdatedAt.Before(d.AddedAt):
		return domainerrors.Validation("updatedAt precedes addedAt")
	}
	return nil
}

// Patch is a partial document keyed by JSON field name.
type Patch map[string]any

// Fields a patch may set. id, owner and addedAt are immutable.
var patchable = []string{"title", "author", "coverUrl", "description", "status", "rating", "tags", "comments", "updatedAt"}

// PatchFromUpdate converts the set fields of u into a patch stamped with updatedAt.
func PatchFromUpdate(u domain.BookUpdate, updatedAt time.Time) Patch {
	p := Patch{"updatedAt": updatedAt.UTC()}
	if u.Title != nil {
		p["title"] = *u.Title
	}
	if u.Author != nil {
		p["author"] = *u.Author
	}
	if u.CoverURL != nil {
		p["coverUrl"] = *u.CoverURL
	}
	if u.Description != nil {
		p["description"] = *u.Description
	}
	if u.Status != nil {
		p["status"] = *u.Status
	}
	if u.Rating != nil {
		p["rating"] = *u.Rating
	}
	if u.Tags != nil {
		p["tags"] = domain.NormalizeTags(*u.Tags)
	}
	return p
}

// CommentsPatch replaces the whole comment sequence and stamps updatedAt.
func CommentsPatch(comments []domain.Comment, updatedAt time.Time) Patch {
	if comments == nil {
		comments = []domain.Comment{}
	}
	return Patch{"comments": comments, "updatedAt": updatedAt.UTC()}
}

// Keys returns the patch keys in sorted order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ApplyPatch overlays p onto doc field by field and returns the merged document.
// Unknown or immutable keys are a validation error.
func ApplyPatch(doc Document, p Patch) (Document, error) {
	for _, k := range p.Keys() {
		if !slices.Contains(patchable, k) {
			return Document{}, domainerrors.Validationf("field %q cannot be patched", k)
		}
	}

	base, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}

	for k, v := range p {
		raw, err := json.Marshal(v)
		if err != nil {
			return Document{}, domainerrors.Validationf("field %q: %v", k, err)
		}
		fields[k] = raw
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encode merged document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(merged, &out); err != nil {
		return Document{}, domainerrors.Validation("patch does not fit the document shape").WithCause(err)
	}
	out.Book = out.Book.Clone()
	return out, nil
}

// SnapshotFunc receives the full set of documents for an owner.
type SnapshotFunc func(docs []Document)

// CancelFunc stops a subscription.
type CancelFunc func()

// Adapter is a remote document store partitioned by owner.
//
// Subscribe delivers an initial snapshot and one after every change to the
// owner's documents, until the returned CancelFunc is called. ctx only bounds
// the setup of the subscription, not its lifetime. Snapshots may be delivered
// on another goroutine but never concurrently for one subscription, and a
// CancelFunc must not block waiting for an in-flight delivery.
// BatchWrite is all-or-nothing. Merge and Delete of a missing document
// return a NOT_FOUND error.
type Adapter interface {
	QueryByOwner(ctx context.Context, owner string) ([]Document, error)
	Subscribe(ctx context.Context, owner string, fn SnapshotFunc) (CancelFunc, error)
	Write(ctx context.Context, doc Document) error
	Merge(ctx context.Context, owner, id string, patch Patch) error
	Delete(ctx context.Context, owner, id string) error
	BatchWrite(ctx context.Context, docs []Document) error
}
