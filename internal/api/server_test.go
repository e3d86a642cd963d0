package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taxgpt/taxgpt/internal/config"
	"github.com/taxgpt/taxgpt/internal/model"
	"github.com/taxgpt/taxgpt/internal/repository"
)

type fakeRepo struct {
	docs       map[string]*model.Document
	created    []*model.Document
	listFilter repository.ListFilter
	listErr    error
	deleteKeys []string
}

func (f *fakeRepo) Create(ctx context.Context, doc *model.Document) error {
	doc.Status = model.StatusPending
	doc.DocType = model.DocTypeUnknown
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return doc, nil
}

func (f *fakeRepo) List(ctx context.Context, filter repository.ListFilter) ([]*model.Document, error) {
	f.listFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	var docs []*model.Document
	for _, doc := range f.docs {
		docs = append(docs, doc)
	}
	return docs, nil
}

func (f *fakeRepo) DeleteAll(ctx context.Context) ([]string, error) {
	return f.deleteKeys, nil
}

type fakeStore struct {
	uploads   map[string][]byte
	files     map[string][]byte
	removed   []string
	removeErr error
}

func (f *fakeStore) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[objectKey] = data
	return nil
}

func (f *fakeStore) Download(ctx context.Context, objectKey string) ([]byte, error) {
	data, ok := f.files[objectKey]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (f *fakeStore) Remove(ctx context.Context, objectKey string) error {
	f.removed = append(f.removed, objectKey)
	return f.removeErr
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (f *fakeQueue) EnqueueProcess(ctx context.Context, docID string) error {
	f.enqueued = append(f.enqueued, docID)
	return f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Address:      ":0",
		MaxFileSize:  1 << 20,
		AllowOrigins: []string{"http://localhost:5173"},
	}
}

func newTestServer(repo *fakeRepo, store *fakeStore, queue *fakeQueue) *httptest.Server {
	return httptest.NewServer(New(testConfig(), repo, store, queue, nil).Handler())
}

func completedDoc() *model.Document {
	year := 2024
	payer := "Acme Corp"
	return &model.Document{
		ID:               "doc-1",
		OriginalFilename: "w2.pdf",
		ObjectKey:        "documents/doc-1/w2.pdf",
		Status:           model.StatusCompleted,
		DocType:          model.DocTypeW2,
		TaxYear:          &year,
		PayerName:        &payer,
		NumPages:         2,
		FullText:         "Form W-2 Wage and Tax Statement",
		IngestedAt:       time.Now().UTC(),
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestListDocuments(t *testing.T) {
	repo := &fakeRepo{docs: map[string]*model.Document{"doc-1": completedDoc()}}
	srv := newTestServer(repo, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/documents?tax_year=2024&doc_type=w2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var docs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents", len(docs))
	}
	if repo.listFilter.TaxYear != 2024 || repo.listFilter.DocType != "w2" {
		t.Errorf("filter = %+v", repo.listFilter)
	}
	if _, ok := docs[0]["full_text"]; ok {
		t.Error("list response must not include full_text")
	}
}

func TestListDocumentsEmptyIsArray(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/documents")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body = %q, want empty array", body)
	}
}

func TestListDocumentsBadFilters(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	for _, query := range []string{"?tax_year=abc", "?doc_type=passport"} {
		resp, err := http.Get(srv.URL + "/api/documents" + query)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestGetDocument(t *testing.T) {
	repo := &fakeRepo{docs: map[string]*model.Document{"doc-1": completedDoc()}}
	srv := newTestServer(repo, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/documents/doc-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc["doc_type"] != "w2" {
		t.Errorf("doc_type = %v", doc["doc_type"])
	}

	resp, err = http.Get(srv.URL + "/api/documents/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing document: status = %d, want 404", resp.StatusCode)
	}
}

func TestGetDocumentText(t *testing.T) {
	pending := completedDoc()
	pending.ID = "doc-2"
	pending.Status = model.StatusProcessing
	repo := &fakeRepo{docs: map[string]*model.Document{
		"doc-1": completedDoc(),
		"doc-2": pending,
	}}
	srv := newTestServer(repo, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/documents/doc-1/text")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload["full_text"] != "Form W-2 Wage and Tax Statement" {
		t.Errorf("full_text = %q", payload["full_text"])
	}

	resp, err = http.Get(srv.URL + "/api/documents/doc-2/text")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("unprocessed document: status = %d, want 409", resp.StatusCode)
	}
}

func TestGetDocumentFile(t *testing.T) {
	doc := completedDoc()
	repo := &fakeRepo{docs: map[string]*model.Document{"doc-1": doc}}
	store := &fakeStore{files: map[string][]byte{doc.ObjectKey: []byte("%PDF-1.4 data")}}
	srv := newTestServer(repo, store, &fakeQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/documents/doc-1/file")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "w2.pdf") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestDeleteAllDocuments(t *testing.T) {
	repo := &fakeRepo{deleteKeys: []string{"documents/a/a.pdf", "documents/b/b.pdf"}}
	store := &fakeStore{removeErr: errors.New("transient")}
	srv := newTestServer(repo, store, &fakeQueue{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/documents", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		DeletedCount int    `json:"deleted_count"`
		Message      string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.DeletedCount != 2 {
		t.Errorf("deleted_count = %d, want 2", payload.DeletedCount)
	}
	// Storage cleanup failures do not fail the request.
	if len(store.removed) != 2 {
		t.Errorf("removed %d objects, want 2", len(store.removed))
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestIngest(t *testing.T) {
	repo := &fakeRepo{}
	store := &fakeStore{}
	queue := &fakeQueue{}
	srv := newTestServer(repo, store, queue)
	defer srv.Close()

	body, contentType := multipartBody(t, "file", "w2.pdf", []byte("%PDF-1.4\nsome pdf content"))
	resp, err := http.Post(srv.URL+"/api/documents/ingest", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc["status"] != "pending" {
		t.Errorf("status = %v, want pending", doc["status"])
	}
	if doc["original_filename"] != "w2.pdf" {
		t.Errorf("filename = %v", doc["original_filename"])
	}
	if len(repo.created) != 1 {
		t.Fatalf("created %d documents", len(repo.created))
	}
	id := repo.created[0].ID
	if len(queue.enqueued) != 1 || queue.enqueued[0] != id {
		t.Errorf("enqueued = %v, want [%s]", queue.enqueued, id)
	}
	if len(store.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(store.uploads))
	}
}

func TestIngestRejectsNonPDF(t *testing.T) {
	queue := &fakeQueue{}
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, queue)
	defer srv.Close()

	body, contentType := multipartBody(t, "file", "notes.txt", []byte("just some plain text notes"))
	resp, err := http.Post(srv.URL+"/api/documents/ingest", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(queue.enqueued) != 0 {
		t.Error("rejected upload must not be enqueued")
	}
}

func TestIngestMissingFileField(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	body, contentType := multipartBody(t, "attachment", "w2.pdf", []byte("%PDF-1.4"))
	resp, err := http.Post(srv.URL+"/api/documents/ingest", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestIngestEmptyFile(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	body, contentType := multipartBody(t, "file", "w2.pdf", nil)
	resp, err := http.Post(srv.URL+"/api/documents/ingest", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	srv := newTestServer(&fakeRepo{}, &fakeStore{}, &fakeQueue{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q for unlisted origin", got)
	}
}
