package handler

import (
	"net/http"

	"go.uber.org/zap"

	"instrumentation-backend/internal/validation"
)

// UploadFrame stores a screenshot or extracted video frame sent as the
// multipart field "file". The returned URL can be used as imageFrame or
// videoFrame when starting an analysis.
func (h *Handler) UploadFrame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxFrameSize+maxBodyBytes)
	if err := r.ParseMultipartForm(validation.MaxFrameSize); err != nil {
		h.writeError(w, r, validation.New(validation.ErrInvalidInput, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, validation.New(validation.ErrEmptyFrame, "missing file field"))
		return
	}
	defer file.Close()

	if err := validation.ValidateFrame(header); err != nil {
		h.writeError(w, r, err)
		return
	}

	contentType := validation.FrameContentType(header)

	url, err := h.Frames.Put(r.Context(), file, header.Filename, contentType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger().Info("frame uploaded",
		zap.String("owner", ownerFrom(r)),
		zap.String("content_type", contentType),
		zap.Int64("size", header.Size),
	)
	writeJSON(w, http.StatusCreated, map[string]string{
		"url":         url,
		"contentType": contentType,
	})
}
