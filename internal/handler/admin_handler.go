package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler serves operator endpoints: attempt export and exam cache control.
type AdminHandler struct {
	export  *service.ExportService
	catalog *service.ExamCatalog
	log     zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(export *service.ExportService, catalog *service.ExamCatalog, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		export:  export,
		catalog: catalog,
		log:     log.With().Str("component", "admin_handler").Logger(),
	}
}

// ExportAttempts godoc
// GET /api/v1/admin/exams/:exam_id/attempts/export
// Downloads the stored attempts of an exam as xlsx.
func (h *AdminHandler) ExportAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	data, name, err := h.export.Export(c.Request.Context(), examID)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// RefreshExamCache godoc
// POST /api/v1/admin/exams/:exam_id/cache
// Reloads the exam definition from PostgreSQL. An exam that is no longer
// playable is evicted instead. Running sessions keep the definition they started with.
func (h *AdminHandler) RefreshExamCache(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	ctx := c.Request.Context()

	err = h.catalog.Warm(ctx, examID.String())
	switch {
	case err == nil:
		h.log.Info().Str("exam_id", examID.String()).Msg("Exam cache refreshed")
		response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "cached": true})
	case errors.Is(err, service.ErrExamNotFound), errors.Is(err, service.ErrExamNotAvailable):
		if err := h.catalog.Invalidate(ctx, examID.String()); err != nil {
			fail(c, err)
			return
		}
		h.log.Info().Str("exam_id", examID.String()).Msg("Exam evicted from cache")
		response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "cached": false})
	default:
		fail(c, err)
	}
}
