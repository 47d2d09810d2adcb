package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"school-service/internal/service"
	"school-service/internal/util"
)

// FileHandler accepts multipart uploads and serves stored files.
type FileHandler struct {
	responder
	files   *service.FileService
	maxSize int64
}

func NewFileHandler(files *service.FileService, maxSize int64, r responder) *FileHandler {
	return &FileHandler{responder: r, files: files, maxSize: maxSize}
}

func (h *FileHandler) RegisterRoutes(router chi.Router) {
	router.Route("/files", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/{name}", h.Download)
	})
}

// Upload expects the multipart field "file" plus uploadedBy and optional
// taskId and studentId.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+1<<20)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, r, service.ValidationErrors{{Field: "file", Message: "exceeds the maximum upload size"}}, "Upload rejected")
			return
		}
		h.respondWithError(w, r, errors.Join(errBadRequest, err), "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondWithError(w, r, service.ValidationErrors{{Field: "file", Message: "is required"}}, "Upload rejected")
		return
	}
	defer file.Close()

	req := &service.UploadRequest{
		FileName:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		UploadedBy:  r.FormValue("uploadedBy"),
		TaskID:      r.FormValue("taskId"),
		StudentID:   r.FormValue("studentId"),
	}
	info, err := h.files.Upload(r.Context(), req, file, h.client(r))
	if err != nil {
		h.respondWithError(w, r, err, "Upload rejected")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, util.SuccessResponse(info, "File uploaded successfully"))
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	rc, info, err := h.files.Open(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to open file")
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("File download interrupted",
			util.String("name", info.Name),
			util.ErrorField(err))
	}
}
