package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"docsign/internal/mailer"
	mailMocks "docsign/internal/mailer/mocks"
	"docsign/internal/model"
	"docsign/internal/pdf"
	"docsign/internal/repository"
	repoMocks "docsign/internal/repository/mocks"
	"docsign/internal/storage"
	storeMocks "docsign/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type stubInjector struct {
	out []byte
	err error
}

func (s *stubInjector) Inject(src []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

type stubMerger struct {
	out     []byte
	skipped int
	err     error
}

func (s *stubMerger) Merge(src []byte, values map[string]string, signature []byte) ([]byte, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.out, s.skipped, nil
}

func sigDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
}

func TestSigningService_CreateAndDispatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		reader     io.Reader
		recipient  string
		injector   *stubInjector
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository, mMail *mailMocks.MockNotifier)
		wantErr    error
		wantErrMsg string
		wantRecord bool
	}{
		{
			name:      "happy path",
			reader:    strings.NewReader("%PDF-1.4 raw"),
			recipient: "signer@example.com",
			injector:  &stubInjector{out: []byte("prepared")},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository, mMail *mailMocks.MockNotifier) {
				mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "documents/") && strings.HasSuffix(key, ".pdf")
				}), mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, nil)
				mRepo.On("Create", ctx, mock.MatchedBy(func(rec *model.DocumentRecord) bool {
					return rec.ID != "" && rec.RecipientEmail == "signer@example.com" && !rec.Signed
				})).Return(&model.DocumentRecord{ID: "gen-id", RecipientEmail: "signer@example.com"}, nil)
				mMail.On("Send", ctx, mock.MatchedBy(func(msg mailer.Message) bool {
					return msg.To == "signer@example.com" && strings.Contains(msg.HTML, "/sign/gen-id")
				})).Return(nil)
			},
			wantRecord: true,
		},
		{
			name:      "validation error - nil reader",
			reader:    nil,
			recipient: "signer@example.com",
			injector:  &stubInjector{},
			wantErr:   ErrReaderNil,
		},
		{
			name:      "validation error - missing recipient",
			reader:    strings.NewReader("x"),
			recipient: "",
			injector:  &stubInjector{},
			wantErr:   ErrRecipientRequired,
		},
		{
			name:      "injection rejects malformed upload",
			reader:    strings.NewReader("not a pdf"),
			recipient: "signer@example.com",
			injector:  &stubInjector{err: pdf.ErrMalformedDocument},
			wantErr:   pdf.ErrMalformedDocument,
		},
		{
			name:      "repository error with rollback",
			reader:    strings.NewReader("%PDF-1.4 raw"),
			recipient: "signer@example.com",
			injector:  &stubInjector{out: []byte("prepared")},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository, mMail *mailMocks.MockNotifier) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, nil)
				mRepo.On("Create", ctx, mock.Anything).Return(nil, errors.New("db fail"))
				mStore.On("Delete", ctx, mock.Anything).Return(nil)
			},
			wantErrMsg: "db save failed: db fail",
		},
		{
			name:      "notification failure still returns record",
			reader:    strings.NewReader("%PDF-1.4 raw"),
			recipient: "signer@example.com",
			injector:  &stubInjector{out: []byte("prepared")},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository, mMail *mailMocks.MockNotifier) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, nil)
				mRepo.On("Create", ctx, mock.Anything).Return(&model.DocumentRecord{ID: "gen-id"}, nil)
				mMail.On("Send", ctx, mock.Anything).Return(errors.New("smtp down"))
			},
			wantErr:    ErrNotification,
			wantRecord: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockRecordRepository)
			mMail := new(mailMocks.MockNotifier)
			if tt.setupMocks != nil {
				tt.setupMocks(mStore, mRepo, mMail)
			}
			svc := NewSigningService(mStore, mRepo, tt.injector, &stubMerger{}, mMail, "http://localhost:3000")

			rec, err := svc.CreateAndDispatch(ctx, tt.reader, 12, tt.recipient)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else if tt.wantErrMsg != "" {
				assert.ErrorContains(t, err, tt.wantErrMsg)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantRecord {
				assert.NotNil(t, rec)
			} else if tt.wantErr != nil || tt.wantErrMsg != "" {
				assert.Nil(t, rec)
			}
			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
			mMail.AssertExpectations(t)
		})
	}
}

func TestSigningService_Finalize(t *testing.T) {
	ctx := context.Background()
	values := map[string]string{"FullName": "Jane Doe"}

	unsigned := func() *model.DocumentRecord {
		return &model.DocumentRecord{
			ID:             "doc-1",
			SourcePath:     "documents/doc-1.pdf",
			RecipientEmail: "signer@example.com",
			CreatedAt:      time.Now().UTC(),
		}
	}

	tests := []struct {
		name       string
		id         string
		sig        string
		merger     *stubMerger
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository)
		wantErr    error
	}{
		{
			name:   "happy path",
			id:     "doc-1",
			sig:    sigDataURL(),
			merger: &stubMerger{out: []byte("flattened")},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", ctx, "doc-1").Return(unsigned(), nil)
				mStore.On("Get", ctx, "documents/doc-1.pdf").
					Return(io.NopCloser(strings.NewReader("prepared")), storage.ObjectInfo{}, nil)
				mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "signed/doc-1_") && strings.HasSuffix(key, ".pdf")
				}), mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, nil)
				mRepo.On("MarkSigned", ctx, "doc-1", mock.Anything).
					Return(&model.DocumentRecord{ID: "doc-1", Signed: true, SignedPath: "signed/doc-1_x.pdf"}, nil)
			},
		},
		{
			name:    "missing id",
			id:      "",
			sig:     sigDataURL(),
			merger:  &stubMerger{},
			wantErr: ErrIDRequired,
		},
		{
			name:   "unknown record",
			id:     "missing",
			sig:    sigDataURL(),
			merger: &stubMerger{},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:   "already signed before merge",
			id:     "doc-1",
			sig:    sigDataURL(),
			merger: &stubMerger{},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository) {
				rec := unsigned()
				rec.Signed = true
				rec.SignedPath = "signed/doc-1_x.pdf"
				mRepo.On("FindByID", ctx, "doc-1").Return(rec, nil)
			},
			wantErr: ErrAlreadySigned,
		},
		{
			name:   "bad signature payload",
			id:     "doc-1",
			sig:    "data:image/png;base64,@@@not-base64@@@",
			merger: &stubMerger{},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", ctx, "doc-1").Return(unsigned(), nil)
			},
			wantErr: pdf.ErrImageDecode,
		},
		{
			name:   "merge rejects undecodable image",
			id:     "doc-1",
			sig:    sigDataURL(),
			merger: &stubMerger{err: pdf.ErrImageDecode},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", ctx, "doc-1").Return(unsigned(), nil)
				mStore.On("Get", ctx, "documents/doc-1.pdf").
					Return(io.NopCloser(strings.NewReader("prepared")), storage.ObjectInfo{}, nil)
			},
			wantErr: pdf.ErrImageDecode,
		},
		{
			name:   "lost race cleans up its archive copy",
			id:     "doc-1",
			sig:    sigDataURL(),
			merger: &stubMerger{out: []byte("flattened")},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockRecordRepository) {
				mRepo.On("FindByID", ctx, "doc-1").Return(unsigned(), nil)
				mStore.On("Get", ctx, "documents/doc-1.pdf").
					Return(io.NopCloser(strings.NewReader("prepared")), storage.ObjectInfo{}, nil)
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).Return(storage.ObjectInfo{}, nil)
				mRepo.On("MarkSigned", ctx, "doc-1", mock.Anything).Return(nil, repository.ErrAlreadySigned)
				mStore.On("Delete", ctx, mock.MatchedBy(func(key string) bool {
					return strings.HasPrefix(key, "signed/doc-1_")
				})).Return(nil)
			},
			wantErr: ErrAlreadySigned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockRecordRepository)
			if tt.setupMocks != nil {
				tt.setupMocks(mStore, mRepo)
			}
			svc := NewSigningService(mStore, mRepo, &stubInjector{}, tt.merger, new(mailMocks.MockNotifier), "http://localhost:3000")

			rec, err := svc.Finalize(ctx, tt.id, values, tt.sig)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, rec)
			} else {
				assert.NoError(t, err)
				assert.True(t, rec.Signed)
				assert.NotEmpty(t, rec.SignedPath)
			}
			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestSigningService_Retrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("prepared version before signing", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockRecordRepository)
		mRepo.On("FindByID", ctx, "doc-1").Return(&model.DocumentRecord{
			ID:         "doc-1",
			SourcePath: "documents/doc-1.pdf",
		}, nil)
		mStore.On("Get", ctx, "documents/doc-1.pdf").
			Return(io.NopCloser(strings.NewReader("prepared")), storage.ObjectInfo{}, nil)
		svc := NewSigningService(mStore, mRepo, &stubInjector{}, &stubMerger{}, new(mailMocks.MockNotifier), "")

		rc, rec, err := svc.Retrieve(ctx, "doc-1")

		assert.NoError(t, err)
		assert.False(t, rec.Signed)
		data, _ := io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, "prepared", string(data))
	})

	t.Run("signed version after signing", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockRecordRepository)
		mRepo.On("FindByID", ctx, "doc-1").Return(&model.DocumentRecord{
			ID:         "doc-1",
			SourcePath: "documents/doc-1.pdf",
			Signed:     true,
			SignedPath: "signed/doc-1_x.pdf",
		}, nil)
		mStore.On("Get", ctx, "signed/doc-1_x.pdf").
			Return(io.NopCloser(strings.NewReader("flattened")), storage.ObjectInfo{}, nil)
		svc := NewSigningService(mStore, mRepo, &stubInjector{}, &stubMerger{}, new(mailMocks.MockNotifier), "")

		rc, rec, err := svc.Retrieve(ctx, "doc-1")

		assert.NoError(t, err)
		assert.True(t, rec.Signed)
		data, _ := io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, "flattened", string(data))
	})

	t.Run("unknown record", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockRecordRepository)
		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)
		svc := NewSigningService(mStore, mRepo, &stubInjector{}, &stubMerger{}, new(mailMocks.MockNotifier), "")

		_, _, err := svc.Retrieve(ctx, "missing")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSigningService_List(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockRecordRepository)
	mRepo.On("List", ctx, repository.PageQuery{Limit: 10, Offset: 0}).
		Return(&repository.PageResult[model.DocumentRecord]{
			Items: []model.DocumentRecord{{ID: "doc-1"}},
			Total: 1,
		}, nil)
	svc := NewSigningService(new(storeMocks.MockStorage), mRepo, &stubInjector{}, &stubMerger{}, new(mailMocks.MockNotifier), "")

	// Non-positive limit falls back to the default page size.
	res, err := svc.List(ctx, 0, -3)

	assert.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Len(t, res.Items, 1)
	mRepo.AssertExpectations(t)
}
