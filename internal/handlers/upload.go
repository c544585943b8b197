package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/JAGGU8160/blog-app/internal/services"
)

const (
	formFieldImage     = "image"
	multipartOverhead  = 1 << 20
	maxMultipartMemory = 8 << 20
)

// UploadHandler accepts post images.
type UploadHandler struct {
	uploadService *services.UploadService
	log           logrus.FieldLogger
}

func NewUploadHandler(uploadService *services.UploadService, log logrus.FieldLogger) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, log: log}
}

// Upload stores the multipart "image" field and returns its public URL.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadService.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Image must be at most %d bytes", h.uploadService.MaxBytes()))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile(formFieldImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Image is required")
		return
	}
	defer file.Close()

	url, err := h.uploadService.UploadImage(r.Context(), file)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{ImageURL: url})
}

type UploadResponse struct {
	ImageURL string `json:"imageUrl"`
}
