// Package document exposes upload, retrieval and OCR endpoints for
// documents held by the upstream service.
package document

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/laborare/docchat/internal/service/ai"
	"github.com/laborare/docchat/pkg/utils"
)

// Handler proxies document management to the upstream file store.
type Handler struct {
	ai            *ai.Client
	maxFileSizeMB int64
	log           *zap.Logger
}

// New creates the document handler.
func New(client *ai.Client, maxFileSizeMB int64, logger *zap.Logger) *Handler {
	return &Handler{ai: client, maxFileSizeMB: maxFileSizeMB, log: logger}
}

// RegisterRoutes mounts the document and OCR routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents/upload", h.handleUpload)
	r.Get("/documents", h.handleList)
	r.Get("/documents/{fileID}", h.handleRetrieve)
	r.Delete("/documents/{fileID}", h.handleDelete)
	r.Get("/documents/{fileID}/signed-url", h.handleSignedURL)
	r.Post("/ocr/query", h.handleOCR)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.maxFileSizeMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file exceeds size limit or form is malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		utils.RespondError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		utils.RespondError(w, http.StatusBadRequest, "only pdf files are supported")
		return
	}
	if header.Size == 0 {
		utils.RespondError(w, http.StatusBadRequest, "file is empty")
		return
	}

	uploaded, err := h.ai.UploadFile(r.Context(), header.Filename, file)
	if err != nil {
		h.log.Error("upload failed", zap.String("filename", header.Filename), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to upload file")
		return
	}

	h.log.Info("document uploaded",
		zap.String("fileId", uploaded.ID),
		zap.String("filename", uploaded.Filename))
	utils.RespondJSON(w, http.StatusCreated, uploaded)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	files, err := h.ai.ListFiles(r.Context())
	if err != nil {
		h.log.Error("list documents failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to list files")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"files": files,
		"total": len(files),
	})
}

func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	file, err := h.ai.RetrieveFile(r.Context(), fileID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "file not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, file)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	if err := h.ai.DeleteFile(r.Context(), fileID); err != nil {
		h.log.Error("delete document failed", zap.String("fileId", fileID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to delete file")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"id":      fileID,
		"deleted": true,
	})
}

func (h *Handler) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	expiryHours := 0
	if raw := r.URL.Query().Get("expiryHours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid expiryHours")
			return
		}
		expiryHours = parsed
	}

	url, err := h.ai.GetSignedURL(r.Context(), fileID, expiryHours)
	if err != nil {
		h.log.Error("signed url failed", zap.String("fileId", fileID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to get signed url")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) handleOCR(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FileID             string `json:"fileId"`
		IncludeImageBase64 bool   `json:"includeImageBase64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.FileID == "" {
		utils.RespondError(w, http.StatusBadRequest, "fileId is required")
		return
	}

	url, err := h.ai.GetSignedURL(r.Context(), payload.FileID, 0)
	if err != nil {
		h.log.Error("signed url failed", zap.String("fileId", payload.FileID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to resolve document")
		return
	}

	pages, err := h.ai.ProcessOCR(r.Context(), url, payload.IncludeImageBase64)
	if err != nil {
		h.log.Error("ocr failed", zap.String("fileId", payload.FileID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, "failed to process ocr")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"pages": pages})
}
