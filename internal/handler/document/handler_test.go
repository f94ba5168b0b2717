package document_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	documentHandler "github.com/laborare/docchat/internal/handler/document"
	"github.com/laborare/docchat/internal/service/ai"

	"github.com/go-chi/chi/v5"
)

func newHandler(t *testing.T, upstream http.Handler) http.Handler {
	t.Helper()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	client, err := ai.NewClient(ai.Config{APIKey: "test-key", BaseURL: srv.URL, OCRModel: "ocr-model"})
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}

	r := chi.NewRouter()
	documentHandler.New(client, 1, zap.NewNop()).RegisterRoutes(r)
	return r
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	form.Close()
	return &body, form.FormDataContentType()
}

func TestUploadAcceptsPDF(t *testing.T) {
	router := newHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/files" {
			t.Fatalf("unexpected upstream path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ai.File{ID: "file-123", Filename: "report.pdf"})
	}))

	body, contentType := multipartBody(t, "report.pdf", "%PDF-fake")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body: %s", rec.Code, rec.Body.String())
	}

	var file ai.File
	if err := json.Unmarshal(rec.Body.Bytes(), &file); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if file.ID != "file-123" {
		t.Fatalf("unexpected file id: %q", file.ID)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	router := newHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called for invalid uploads")
	}))

	body, contentType := multipartBody(t, "notes.txt", "plain text")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	router := newHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called for invalid uploads")
	}))

	body, contentType := multipartBody(t, "empty.pdf", "")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestOCRRequiresFileID(t *testing.T) {
	router := newHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called without a file id")
	}))

	req := httptest.NewRequest(http.MethodPost, "/ocr/query", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestOCRReturnsPages(t *testing.T) {
	router := newHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/files/file-123/url":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://signed.example/file-123"})
		case "/v1/ocr":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode ocr body: %v", err)
			}
			doc := body["document"].(map[string]any)
			if doc["document_url"] != "https://signed.example/file-123" {
				t.Fatalf("signed url not forwarded: %v", doc)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"pages": []ai.OCRPage{{Index: 0, Markdown: "# Report"}},
			})
		default:
			t.Fatalf("unexpected upstream path: %s", r.URL.Path)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/ocr/query", strings.NewReader(`{"fileId":"file-123"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Pages []ai.OCRPage `json:"pages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode pages: %v", err)
	}
	if len(payload.Pages) != 1 || payload.Pages[0].Markdown != "# Report" {
		t.Fatalf("unexpected pages: %+v", payload.Pages)
	}
}
