package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BluceCao2018/funbenchmark.com/internal/cpt"
	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
)

// ScoreHandler scores submitted continuous-performance event logs.
type ScoreHandler struct {
	logger  logging.Logger
	metrics *BenchmarkMetrics
}

func NewScoreHandler(logger logging.Logger, metrics *BenchmarkMetrics) *ScoreHandler {
	return &ScoreHandler{logger: logger, metrics: metrics}
}

type scoreRequest struct {
	Stimuli   []cpt.StimulusEvent `json:"stimuli"`
	Responses []cpt.ResponseEvent `json:"responses"`
}

// Summarize handles POST /api/cpt/summary. The client ships its raw event
// log; classification and period bucketing happen here so scoring rules stay
// in one place.
func (h *ScoreHandler) Summarize(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.IncScore("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format",
		})
		return
	}

	summary := cpt.Score(req.Stimuli, req.Responses, cpt.DefaultConfig())

	h.metrics.IncScore("success")
	h.logger.WithFields(logging.Fields{
		"stimuli":   len(req.Stimuli),
		"responses": len(req.Responses),
		"correct":   summary.CorrectResponses,
	}).Info("Continuous performance log scored")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
	})
}
