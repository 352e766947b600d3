package handler

import (
	"Go_Drop/internal/dto"
	"Go_Drop/internal/repo"
	"Go_Drop/internal/service"
	"Go_Drop/internal/storage"
	"Go_Drop/model"
	"Go_Drop/utils"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const startUsage = "Send me a file, and I'll generate a download link for it."

// ErrTooLarge is returned for uploads above the configured size limit.
var ErrTooLarge = errors.New("file too large")

// Objects is what the HTTP layer needs from the object service.
type Objects interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*model.ObjectRecord, error)
	ListActive(ctx context.Context, ownerID string) ([]service.ActiveObject, error)
	RefreshHandle(ctx context.Context, ownerID, id string) (*service.ActiveObject, error)
}

type ObjectHandler struct {
	objects        Objects
	maxUploadBytes int64
}

func NewObjectHandler(objects Objects, maxUploadBytes int64) *ObjectHandler {
	return &ObjectHandler{objects: objects, maxUploadBytes: maxUploadBytes}
}

// Start returns usage text.
func (h *ObjectHandler) Start(c *gin.Context) {
	c.JSON(http.StatusOK, dto.StartResponse{Usage: startUsage})
}

// Upload stores a multipart file and returns its download link.
func (h *ObjectHandler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}
	var req dto.UploadObjectRequest
	if err := c.ShouldBind(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			utils.Fail(c, http.StatusRequestEntityTooLarge, ErrTooLarge)
			return
		}
		utils.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if h.maxUploadBytes > 0 && req.File.Size > h.maxUploadBytes {
		utils.Fail(c, http.StatusRequestEntityTooLarge, ErrTooLarge)
		return
	}

	var lifetime time.Duration
	if raw := strings.TrimSpace(req.Lifetime); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			utils.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid lifetime %q", raw))
			return
		}
		lifetime = parsed
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.File.Filename
	}

	file, err := req.File.Open()
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, fmt.Errorf("open upload: %w", err))
		return
	}
	defer file.Close()

	contentType := req.File.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	rec, err := h.objects.Ingest(c.Request.Context(), service.IngestRequest{
		OwnerID:     utils.OwnerID(c),
		DisplayName: name,
		Body:        file,
		Size:        req.File.Size,
		ContentType: contentType,
		Lifetime:    lifetime,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	utils.Success(c, dto.ObjectResponse{
		ID:              rec.ID,
		Name:            rec.DisplayName,
		Size:            rec.Size,
		RetrievalHandle: rec.RetrievalHandle,
		ExpiresAt:       rec.ExpiresAt(),
	})
}

// List returns the caller's live objects.
func (h *ObjectHandler) List(c *gin.Context) {
	objects, err := h.objects.ListActive(c.Request.Context(), utils.OwnerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.ObjectListResponse{Objects: make([]dto.ObjectResponse, 0, len(objects))}
	for _, obj := range objects {
		resp.Objects = append(resp.Objects, toObjectResponse(obj))
	}
	resp.Total = len(resp.Objects)
	utils.Success(c, resp)
}

// RefreshLink issues a new download link for one of the caller's objects.
func (h *ObjectHandler) RefreshLink(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		utils.Fail(c, http.StatusBadRequest, errors.New("id required"))
		return
	}
	obj, err := h.objects.RefreshHandle(c.Request.Context(), utils.OwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	utils.Success(c, toObjectResponse(*obj))
}

func toObjectResponse(obj service.ActiveObject) dto.ObjectResponse {
	return dto.ObjectResponse{
		ID:              obj.ID,
		Name:            obj.DisplayName,
		Size:            obj.Size,
		RetrievalHandle: obj.RetrievalHandle,
		ExpiresAt:       obj.ExpiresAt,
	}
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrLifetimeTooLong):
		utils.Fail(c, http.StatusBadRequest, err)
	case errors.Is(err, repo.ErrRecordNotFound), errors.Is(err, storage.ErrNotFound):
		utils.Fail(c, http.StatusNotFound, errors.New("object not found"))
	case errors.Is(err, storage.ErrStorageUnavailable):
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("storage unavailable")
		utils.Fail(c, http.StatusServiceUnavailable, errors.New("storage unavailable, try again later"))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		utils.Fail(c, http.StatusInternalServerError, errors.New("internal error"))
	}
}
