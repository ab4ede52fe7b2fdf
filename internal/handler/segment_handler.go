package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"campaignengine/internal/service"
)

// SegmentPreviewer evaluates unsaved rule sets
type SegmentPreviewer interface {
	PreviewSegment(ctx context.Context, req *service.PreviewSegmentRequest) (*service.SegmentPreview, error)
}

// SegmentHandler handles HTTP requests for segment preview
type SegmentHandler struct {
	previewer SegmentPreviewer
	log       *zap.Logger
}

// NewSegmentHandler creates a new SegmentHandler instance
func NewSegmentHandler(previewer SegmentPreviewer, log *zap.Logger) *SegmentHandler {
	return &SegmentHandler{
		previewer: previewer,
		log:       log,
	}
}

// Preview handles POST /segments/preview. Nothing is persisted.
func (h *SegmentHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req service.PreviewSegmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.previewer.PreviewSegment(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, result)
}
