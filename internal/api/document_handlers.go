package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/remote"
)

func (s *Server) registerDocumentRoutes() {
	security := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID: "whoAmI",
		Method:      http.MethodGet,
		Path:        "/api/v1/whoami",
		Summary:     "Who am I",
		Description: "Returns the identity carried by the bearer token",
		Tags:        []string{"Identity"},
		Security:    security,
	}, s.handleWhoAmI)

	huma.Register(s.api, huma.Operation{
		OperationID: "listDocuments",
		Method:      http.MethodGet,
		Path:        "/api/v1/owners/{owner}/books",
		Summary:     "List documents",
		Description: "Returns every book document of the owner, oldest first",
		Tags:        []string{"Documents"},
		Security:    security,
	}, s.handleListDocuments)

	huma.Register(s.api, huma.Operation{
		OperationID:   "putDocument",
		Method:        http.MethodPut,
		Path:          "/api/v1/owners/{owner}/books/{id}",
		Summary:       "Write document",
		Description:   "Creates or replaces a book document",
		Tags:          []string{"Documents"},
		Security:      security,
		DefaultStatus: http.StatusNoContent,
	}, s.handlePutDocument)

	huma.Register(s.api, huma.Operation{
		OperationID:   "patchDocument",
		Method:        http.MethodPatch,
		Path:          "/api/v1/owners/{owner}/books/{id}",
		Summary:       "Merge document",
		Description:   "Overlays the given fields onto an existing book document",
		Tags:          []string{"Documents"},
		Security:      security,
		DefaultStatus: http.StatusNoContent,
	}, s.handlePatchDocument)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteDocument",
		Method:        http.MethodDelete,
		Path:          "/api/v1/owners/{owner}/books/{id}",
		Summary:       "Delete document",
		Tags:          []string{"Documents"},
		Security:      security,
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteDocument)

	huma.Register(s.api, huma.Operation{
		OperationID:   "batchWriteDocuments",
		Method:        http.MethodPost,
		Path:          "/api/v1/owners/{owner}/batch",
		Summary:       "Batch write",
		Description:   "Writes every document in one transaction; either all are stored or none",
		Tags:          []string{"Documents"},
		Security:      security,
		DefaultStatus: http.StatusNoContent,
	}, s.handleBatchWrite)
}

// === DTOs ===

// WhoAmIResponse is the identity behind a token.
type WhoAmIResponse struct {
	UserID string `json:"userId" doc:"Owner key of the caller"`
	Email  string `json:"email,omitempty" doc:"Email address, if the token carries one"`
}

// WhoAmIOutput wraps the whoami response for Huma.
type WhoAmIOutput struct {
	Body WhoAmIResponse
}

// OwnerInput addresses an owner's collection.
type OwnerInput struct {
	Owner string `path:"owner" doc:"Owner user ID"`
}

// DocumentInput addresses one document.
type DocumentInput struct {
	Owner string `path:"owner" doc:"Owner user ID"`
	ID    string `path:"id" doc:"Book ID"`
}

// DocumentsBody carries a list of documents.
type DocumentsBody struct {
	Documents []remote.Document `json:"documents" doc:"Book documents"`
}

// ListDocumentsOutput wraps the document list for Huma.
type ListDocumentsOutput struct {
	Body DocumentsBody
}

// PutDocumentInput is the request for a full document write.
type PutDocumentInput struct {
	Owner string `path:"owner" doc:"Owner user ID"`
	ID    string `path:"id" doc:"Book ID"`
	Body  remote.Document
}

// PatchDocumentInput is the request for a partial document write.
type PatchDocumentInput struct {
	Owner string `path:"owner" doc:"Owner user ID"`
	ID    string `path:"id" doc:"Book ID"`
	Body  map[string]any
}

// BatchWriteInput is the request for an atomic multi-document write.
type BatchWriteInput struct {
	Owner string `path:"owner" doc:"Owner user ID"`
	Body  DocumentsBody
}

// === Handlers ===

func (s *Server) handleWhoAmI(ctx context.Context, _ *struct{}) (*WhoAmIOutput, error) {
	claims, err := requireClaims(ctx)
	if err != nil {
		return nil, err
	}
	return &WhoAmIOutput{Body: WhoAmIResponse{UserID: claims.UserID, Email: claims.Email}}, nil
}

func (s *Server) handleListDocuments(ctx context.Context, input *OwnerInput) (*ListDocumentsOutput, error) {
	if _, err := s.authorize(ctx, input.Owner); err != nil {
		return nil, err
	}
	docs, err := s.docs.QueryByOwner(ctx, input.Owner)
	if err != nil {
		return nil, err
	}
	return &ListDocumentsOutput{Body: DocumentsBody{Documents: docs}}, nil
}

func (s *Server) handlePutDocument(ctx context.Context, input *PutDocumentInput) (*struct{}, error) {
	if _, err := s.authorize(ctx, input.Owner); err != nil {
		return nil, err
	}
	doc := input.Body
	if doc.ID != input.ID {
		return nil, domainerrors.Validationf("document id %q does not match path id %q", doc.ID, input.ID)
	}
	if err := checkOwner(doc, input.Owner); err != nil {
		return nil, err
	}
	if err := s.docs.Write(ctx, doc); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handlePatchDocument(ctx context.Context, input *PatchDocumentInput) (*struct{}, error) {
	if _, err := s.authorize(ctx, input.Owner); err != nil {
		return nil, err
	}
	if len(input.Body) == 0 {
		return nil, domainerrors.Validation("patch is empty")
	}
	if err := s.docs.Merge(ctx, input.Owner, input.ID, remote.Patch(input.Body)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, input *DocumentInput) (*struct{}, error) {
	if _, err := s.authorize(ctx, input.Owner); err != nil {
		return nil, err
	}
	if err := s.docs.Delete(ctx, input.Owner, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleBatchWrite(ctx context.Context, input *BatchWriteInput) (*struct{}, error) {
	if _, err := s.authorize(ctx, input.Owner); err != nil {
		return nil, err
	}
	for _, doc := range input.Body.Documents {
		if err := checkOwner(doc, input.Owner); err != nil {
			return nil, err
		}
	}
	if err := s.docs.BatchWrite(ctx, input.Body.Documents); err != nil {
		return nil, err
	}
	s.logger.Info("batch written", "user_id", input.Owner, "count", len(input.Body.Documents))
	return nil, nil
}

func checkOwner(doc remote.Document, owner string) error {
	if doc.Owner != owner {
		return domainerrors.Forbiddenf("document %s is tagged for another owner", doc.ID)
	}
	return nil
}
