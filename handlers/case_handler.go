package handlers

import (
	"errors"
	"net/http"

	"sowforge-backend/models"
	"sowforge-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CaseHandler handles HTTP requests for workflow cases
type CaseHandler struct {
	workflowService *service.WorkflowService
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(workflowService *service.WorkflowService) *CaseHandler {
	return &CaseHandler{workflowService: workflowService}
}

// CreateCaseRequest represents the request body for creating a case
type CreateCaseRequest struct {
	Intake map[string]interface{} `json:"intake" binding:"required"`
}

// CreateCase handles POST /api/cases
func (h *CaseHandler) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.workflowService.CreateCase(c.Request.Context(), service.CreateCaseRequest{
		Intake: models.Intake(req.Intake),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"case": result,
		},
	})
}

// GetCase handles GET /api/cases/:id
func (h *CaseHandler) GetCase(c *gin.Context) {
	caseID, ok := parseCaseID(c)
	if !ok {
		return
	}

	result, err := h.workflowService.GetCase(caseID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"case": result,
		},
	})
}

// RunStageRequest represents the request body for running a stage
type RunStageRequest struct {
	Plan                  *models.Plan            `json:"plan,omitempty"`
	TopK                  int                     `json:"top_k,omitempty"`
	ProhibitedCommitments []string                `json:"prohibited_commitments,omitempty"`
	Evidence              *models.EvidenceContext `json:"evidence,omitempty"`
}

// RunStage handles POST /api/cases/:id/stages/:stage
func (h *CaseHandler) RunStage(c *gin.Context) {
	caseID, ok := parseCaseID(c)
	if !ok {
		return
	}

	stage := models.WorkflowStage(c.Param("stage"))
	if !models.IsValidStage(stage) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_STAGE",
				"message": "Unknown workflow stage: " + c.Param("stage"),
			},
		})
		return
	}

	var req RunStageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_REQUEST",
					"message": err.Error(),
				},
			})
			return
		}
	}

	artifact, err := h.workflowService.RunStage(c.Request.Context(), caseID, service.StageRunRequest{
		Stage:      stage,
		Plan:       req.Plan,
		TopK:       req.TopK,
		Prohibited: req.ProhibitedCommitments,
		Evidence:   req.Evidence,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"artifact": artifact,
		},
	})
}

// GetArtifact handles GET /api/cases/:id/artifacts/:stage
func (h *CaseHandler) GetArtifact(c *gin.Context) {
	caseID, ok := parseCaseID(c)
	if !ok {
		return
	}

	artifact, err := h.workflowService.GetLatestArtifact(caseID, models.WorkflowStage(c.Param("stage")))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"artifact": artifact,
		},
	})
}

// ApproveCaseRequest represents the request body for approving a case
type ApproveCaseRequest struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

// ApproveCase handles POST /api/cases/:id/approve
func (h *CaseHandler) ApproveCase(c *gin.Context) {
	caseID, ok := parseCaseID(c)
	if !ok {
		return
	}

	var req ApproveCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.workflowService.Approve(c.Request.Context(), caseID, req.ApprovedBy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"case": result,
		},
	})
}

// parseCaseID pulls the case UUID from the request path, writing the error
// response itself when the ID is malformed.
func parseCaseID(c *gin.Context) (uuid.UUID, bool) {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_CASE_ID",
				"message": "Invalid case ID format",
			},
		})
		return uuid.Nil, false
	}
	return caseID, true
}

// respondError maps service errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var transitionErr *service.StateTransitionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": validationErr.Message,
			},
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_STAGE_TRANSITION",
				"message": transitionErr.Message,
			},
		})
	case errors.Is(err, service.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CASE_NOT_FOUND",
				"message": err.Error(),
			},
		})
	case errors.Is(err, service.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "ARTIFACT_NOT_FOUND",
				"message": err.Error(),
			},
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
	}
}
