package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/najdeno/internal/storage"
)

// Presigner signs photo uploads.
type Presigner interface {
	PresignUpload(ctx context.Context, userID int64, contentType string) (*storage.Upload, error)
}

// UploadsHandler hands out upload URLs for item photos.
type UploadsHandler struct {
	Uploader Presigner
}

type uploadRequest struct {
	ContentType string `json:"contentType" validate:"required"`
}

// Create handles POST /api/uploads.
func (h *UploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if h.Uploader == nil {
		jsonError(w, http.StatusServiceUnavailable, "photo uploads are not configured")
		return
	}

	var req uploadRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	up, err := h.Uploader.PresignUpload(r.Context(), claims.UserID, req.ContentType)
	if errors.Is(err, storage.ErrUnsupportedType) {
		jsonError(w, http.StatusBadRequest, "contentType must be an image type")
		return
	}
	if err != nil {
		slog.Error("presigning upload", "user", claims.UserID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create upload")
		return
	}

	jsonResponse(w, http.StatusCreated, up)
}
