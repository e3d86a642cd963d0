package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taxgpt/taxgpt/internal/llm"
	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/pdftext"
	"github.com/taxgpt/taxgpt/internal/repository"
)

type fakeRepo struct {
	doc         *model.Document
	getErr      error
	transitions []string
	completed   *repository.CompletedFields
	failedMsg   string
	markErr     error
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*model.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.doc, nil
}

func (f *fakeRepo) MarkProcessing(ctx context.Context, id string) error {
	f.transitions = append(f.transitions, "processing")
	return f.markErr
}

func (f *fakeRepo) MarkCompleted(ctx context.Context, id string, fields repository.CompletedFields) error {
	f.transitions = append(f.transitions, "completed")
	f.completed = &fields
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id string, msg string) error {
	f.transitions = append(f.transitions, "failed")
	f.failedMsg = model.TruncateError(msg)
	return nil
}

type fakeStore struct {
	data []byte
	err  error
}

func (f *fakeStore) Download(ctx context.Context, objectKey string) ([]byte, error) {
	return f.data, f.err
}

type fakeText struct {
	result pdftext.Result
	err    error
	calls  int
}

func (f *fakeText) Extract(ctx context.Context, data []byte) (pdftext.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeFields struct {
	fields llm.DocumentFields
	err    error
}

func (f *fakeFields) ExtractFields(ctx context.Context, text string) (llm.DocumentFields, error) {
	return f.fields, f.err
}

func pendingDoc() *model.Document {
	return &model.Document{
		ID:               "doc-1",
		OriginalFilename: "w2.pdf",
		ObjectKey:        "documents/doc-1/w2.pdf",
		Status:           model.StatusPending,
		DocType:          model.DocTypeUnknown,
	}
}

func intPtr(v int) *int { return &v }

func TestProcessHappyPath(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	text := &fakeText{result: pdftext.Result{Text: "Form W-2 Wage and Tax Statement", Pages: 2}}
	fields := &fakeFields{fields: llm.DocumentFields{
		DocType:   "w2",
		TaxYear:   intPtr(2024),
		PayerName: "Acme Corp",
	}}
	o := NewOrchestrator(repo, &fakeStore{data: []byte("%PDF")}, text, fields, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []string{"processing", "completed"}
	if strings.Join(repo.transitions, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v, want %v", repo.transitions, want)
	}
	if repo.completed == nil {
		t.Fatal("completed fields not committed")
	}
	if repo.completed.DocType != model.DocTypeW2 {
		t.Errorf("doc type = %s, want w2", repo.completed.DocType)
	}
	if repo.completed.TaxYear == nil || *repo.completed.TaxYear != 2024 {
		t.Errorf("tax year = %v, want 2024", repo.completed.TaxYear)
	}
	if repo.completed.PayerName == nil || *repo.completed.PayerName != "Acme Corp" {
		t.Errorf("payer = %v, want Acme Corp", repo.completed.PayerName)
	}
	if repo.completed.TaxpayerName != nil {
		t.Errorf("taxpayer should stay nil when the extractor omits it")
	}
	if repo.completed.NumPages != 2 {
		t.Errorf("pages = %d, want 2", repo.completed.NumPages)
	}
}

func TestProcessMissingDocumentIsNoOp(t *testing.T) {
	repo := &fakeRepo{getErr: repository.ErrNotFound}
	text := &fakeText{}
	o := NewOrchestrator(repo, &fakeStore{}, text, &fakeFields{}, nil)

	if err := o.Process(context.Background(), "gone"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(repo.transitions) != 0 {
		t.Fatalf("transitions = %v, want none", repo.transitions)
	}
	if text.calls != 0 {
		t.Fatal("extraction ran for a missing document")
	}
}

func TestProcessDownloadFailureMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	o := NewOrchestrator(repo, &fakeStore{err: errors.New("object not found")}, &fakeText{}, &fakeFields{}, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []string{"processing", "failed"}
	if strings.Join(repo.transitions, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions = %v, want %v", repo.transitions, want)
	}
	if !strings.Contains(repo.failedMsg, "object not found") {
		t.Errorf("failure message %q missing cause", repo.failedMsg)
	}
}

func TestProcessTextExtractionFailureMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	text := &fakeText{err: errors.New("parse pdf: malformed xref")}
	o := NewOrchestrator(repo, &fakeStore{data: []byte("junk")}, text, &fakeFields{}, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if repo.transitions[len(repo.transitions)-1] != "failed" {
		t.Fatalf("transitions = %v, want terminal failed", repo.transitions)
	}
}

func TestProcessRefusalMarksFailedWithReason(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	text := &fakeText{result: pdftext.Result{Text: "some text", Pages: 1}}
	fields := &fakeFields{err: &llm.RefusalError{Reason: "cannot process identity documents"}}
	o := NewOrchestrator(repo, &fakeStore{data: []byte("%PDF")}, text, fields, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(repo.failedMsg, "cannot process identity documents") {
		t.Errorf("failure message %q missing refusal reason", repo.failedMsg)
	}
}

func TestProcessFailureMessageTruncated(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	text := &fakeText{err: errors.New(strings.Repeat("x", 2000))}
	o := NewOrchestrator(repo, &fakeStore{data: []byte("%PDF")}, text, &fakeFields{}, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := len([]rune(repo.failedMsg)); got > model.MaxErrorMessageLen {
		t.Errorf("failure message length = %d, want <= %d", got, model.MaxErrorMessageLen)
	}
}

func TestProcessDegradedTextStillCompletes(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	text := &fakeText{result: pdftext.Result{
		Text:           "[Image-based PDF - OCR extraction failed: vision timeout]",
		Pages:          3,
		Degraded:       true,
		DegradedReason: "vision timeout",
	}}
	fields := &fakeFields{fields: llm.DocumentFields{DocType: "unknown"}}
	o := NewOrchestrator(repo, &fakeStore{data: []byte("%PDF")}, text, fields, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if repo.completed == nil {
		t.Fatal("degraded document should still complete")
	}
	if !strings.Contains(repo.completed.FullText, "OCR extraction failed") {
		t.Errorf("full text %q missing placeholder", repo.completed.FullText)
	}
}

func TestProcessUnknownDocTypeCoerced(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc()}
	text := &fakeText{result: pdftext.Result{Text: "text", Pages: 1}}
	fields := &fakeFields{fields: llm.DocumentFields{DocType: "schedule_k1"}}
	o := NewOrchestrator(repo, &fakeStore{data: []byte("%PDF")}, text, fields, nil)

	if err := o.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if repo.completed.DocType != model.DocTypeUnknown {
		t.Errorf("doc type = %s, want unknown for unrecognized category", repo.completed.DocType)
	}
}

func TestProcessInfrastructureErrorPropagates(t *testing.T) {
	repo := &fakeRepo{doc: pendingDoc(), markErr: errors.New("connection reset")}
	o := NewOrchestrator(repo, &fakeStore{}, &fakeText{}, &fakeFields{}, nil)

	if err := o.Process(context.Background(), "doc-1"); err == nil {
		t.Fatal("expected commit error to propagate")
	}
}
