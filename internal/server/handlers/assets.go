package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/imagequeue/internal/errors"
	"github.com/3leaps/imagequeue/pkg/jobstore"
)

// ArtifactOpener reads stored artifacts.
type ArtifactOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// AssetsHandler serves generated images for local storage providers, where
// no CDN sits in front of the bucket. Only keys under images/ are served.
func AssetsHandler(artifacts ArtifactOpener, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "*")
		if !strings.HasPrefix(key, "images/") || strings.Contains(key, "..") {
			respondWithError(w, req, apperrors.NewNotFound("asset not found"))
			return
		}

		body, err := artifacts.Open(req.Context(), key)
		if err != nil {
			if jobstore.IsNotFound(err) {
				respondWithError(w, req, apperrors.NewNotFound("asset not found"))
				return
			}
			respondWithError(w, req, err)
			return
		}
		defer func() { _ = body.Close() }()

		w.Header().Set("Content-Type", jobstore.ArtifactContentType)
		w.Header().Set("Cache-Control", jobstore.ArtifactCacheControl)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			logger.Warn("asset write failed", zap.String("key", key), zap.Error(err))
		}
	})
	return r
}
