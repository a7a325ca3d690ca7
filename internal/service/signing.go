package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"docsign/internal/mailer"
	"docsign/internal/model"
	"docsign/internal/pdf"
	"docsign/internal/repository"
	"docsign/internal/storage"
)

var (
	ErrIDRequired        = errors.New("id is required")
	ErrRecipientRequired = errors.New("recipient email is required")
	ErrReaderNil         = errors.New("reader is nil")
	ErrNotFound          = errors.New("document not found")
	ErrAlreadySigned     = errors.New("document already signed")
	ErrNotification      = errors.New("signing notification failed")
)

// RecordListResult is the service-level DTO for paginated document records.
type RecordListResult struct {
	Items []model.DocumentRecord `json:"data"`
	Total int                    `json:"total"`
}

// FieldInjector prepares an uploaded document for signing by adding the
// fill-in fields.
type FieldInjector interface {
	Inject(src []byte) ([]byte, error)
}

// SignatureMerger fills field values and stamps the signature image,
// producing the final flattened document. The int result counts submitted
// keys that matched no field.
type SignatureMerger interface {
	Merge(src []byte, values map[string]string, signature []byte) ([]byte, int, error)
}

// SigningService drives the document signing lifecycle: intake with field
// injection and recipient notification, finalization with value fill and
// signature stamping, and retrieval of either version.
type SigningService interface {
	// CreateAndDispatch injects signing fields into the uploaded PDF, stores
	// it, persists the record, and emails the recipient their signing link.
	// If the email cannot be sent the stored record is still returned
	// alongside an error wrapping ErrNotification.
	CreateAndDispatch(ctx context.Context, r io.Reader, size int64, recipientEmail string) (*model.DocumentRecord, error)

	// Finalize fills the submitted values, stamps the decoded signature
	// image, archives the flattened result, and marks the record signed.
	// signatureDataURL is a base64 data URL of a PNG or JPEG raster.
	Finalize(ctx context.Context, id string, values map[string]string, signatureDataURL string) (*model.DocumentRecord, error)

	// Get returns a single record by its ID.
	Get(ctx context.Context, id string) (*model.DocumentRecord, error)

	// Retrieve streams the document content: the signed version once
	// finalized, the prepared version before that.
	Retrieve(ctx context.Context, id string) (io.ReadCloser, *model.DocumentRecord, error)

	// List returns records using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*RecordListResult, error)
}

// signingService is a concrete implementation of SigningService.
type signingService struct {
	store    storage.Storage
	repo     repository.RecordRepository
	injector FieldInjector
	merger   SignatureMerger
	notifier mailer.Notifier
	baseURL  string
}

// NewSigningService constructs a new SigningService. baseURL is the external
// address used to build signing links, without a trailing slash.
func NewSigningService(
	store storage.Storage,
	repo repository.RecordRepository,
	injector FieldInjector,
	merger SignatureMerger,
	notifier mailer.Notifier,
	baseURL string,
) SigningService {
	return &signingService{
		store:    store,
		repo:     repo,
		injector: injector,
		merger:   merger,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (s *signingService) CreateAndDispatch(ctx context.Context, r io.Reader, size int64, recipientEmail string) (*model.DocumentRecord, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	if recipientEmail == "" {
		return nil, ErrRecipientRequired
	}

	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	prepared, err := s.injector.Inject(src)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	key := "documents/" + id + ".pdf"

	if _, err := s.store.Put(ctx, key, bytes.NewReader(prepared), storage.PutObjectOptions{
		Size:        int64(len(prepared)),
		ContentType: "application/pdf",
	}); err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	rec := &model.DocumentRecord{
		ID:             id,
		SourcePath:     key,
		RecipientEmail: recipientEmail,
		Signed:         false,
		CreatedAt:      time.Now().UTC(),
	}
	stored, err := s.repo.Create(ctx, rec)
	if err != nil {
		// Rollback: delete the object from storage
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	if err := s.notifier.Send(ctx, s.inviteMessage(stored)); err != nil {
		// The record exists and the document is stored; the caller decides
		// how to surface the delivery failure.
		return stored, fmt.Errorf("%w: %s", ErrNotification, err)
	}
	return stored, nil
}

func (s *signingService) inviteMessage(rec *model.DocumentRecord) mailer.Message {
	link := s.baseURL + "/sign/" + rec.ID
	return mailer.Message{
		To:      rec.RecipientEmail,
		Subject: "Document ready for signature",
		HTML: "<p>A document is waiting for your signature.</p>" +
			"<p><a href=\"" + html.EscapeString(link) + "\">Review and sign the document</a></p>",
	}
}

func (s *signingService) Finalize(ctx context.Context, id string, values map[string]string, signatureDataURL string) (*model.DocumentRecord, error) {
	if id == "" {
		return nil, ErrIDRequired
	}

	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.Signed {
		return nil, ErrAlreadySigned
	}

	sig, err := decodeSignatureDataURL(signatureDataURL)
	if err != nil {
		return nil, err
	}

	rc, _, err := s.store.Get(ctx, rec.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("fetch source document: %w", err)
	}
	src, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	merged, skipped, err := s.merger.Merge(src, values, sig)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Printf("finalize %s: %d submitted value(s) matched no field", id, skipped)
	}

	// Each attempt writes its own object, so a lost race never clobbers the
	// winner's bytes.
	signedKey := "signed/" + id + "_" + uuid.New().String()[:8] + ".pdf"
	if _, err := s.store.Put(ctx, signedKey, bytes.NewReader(merged), storage.PutObjectOptions{
		Size:        int64(len(merged)),
		ContentType: "application/pdf",
	}); err != nil {
		return nil, fmt.Errorf("archive signed document: %w", err)
	}

	updated, err := s.repo.MarkSigned(ctx, id, signedKey)
	if err != nil {
		// Best effort cleanup of the orphaned archive object.
		if delErr := s.store.Delete(ctx, signedKey); delErr != nil {
			log.Printf("finalize %s: orphan cleanup failed: %v", id, delErr)
		}
		switch {
		case errors.Is(err, repository.ErrAlreadySigned):
			return nil, ErrAlreadySigned
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

// Get returns a record by ID.
func (s *signingService) Get(ctx context.Context, id string) (*model.DocumentRecord, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Retrieve returns the archived version once signed, the prepared version
// before that.
func (s *signingService) Retrieve(ctx context.Context, id string) (io.ReadCloser, *model.DocumentRecord, error) {
	if id == "" {
		return nil, nil, ErrIDRequired
	}

	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	key := rec.SourcePath
	if rec.Signed {
		key = rec.SignedPath
	}
	rc, _, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch document: %w", err)
	}
	return rc, rec, nil
}

// List returns paginated records without exposing repository types.
func (s *signingService) List(ctx context.Context, limit, offset int) (*RecordListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &RecordListResult{Items: res.Items, Total: res.Total}, nil
}

// decodeSignatureDataURL extracts the raw image bytes from a base64 data
// URL. A bare base64 payload without the data: prefix is accepted too.
func decodeSignatureDataURL(dataURL string) ([]byte, error) {
	if dataURL == "" {
		return nil, fmt.Errorf("%w: empty signature payload", pdf.ErrImageDecode)
	}
	payload := dataURL
	if strings.HasPrefix(dataURL, "data:") {
		idx := strings.IndexByte(dataURL, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data url", pdf.ErrImageDecode)
		}
		payload = dataURL[idx+1:]
	}
	sig, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", pdf.ErrImageDecode, err)
	}
	return sig, nil
}
