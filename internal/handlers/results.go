package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BluceCao2018/funbenchmark.com/internal/ranking"
	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
	"github.com/BluceCao2018/funbenchmark.com/pkg/geoip"
	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/middleware"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// ResultsHandler serves trial submission and leaderboard reads for one test
// type at a time.
type ResultsHandler struct {
	store   ResultsGateway
	geo     GeoResolver
	clk     clock.Clock
	logger  logging.Logger
	metrics *BenchmarkMetrics
}

func NewResultsHandler(store ResultsGateway, geo GeoResolver, clk clock.Clock, logger logging.Logger, metrics *BenchmarkMetrics) *ResultsHandler {
	return &ResultsHandler{
		store:   store,
		geo:     geo,
		clk:     clk,
		logger:  logger,
		metrics: metrics,
	}
}

// resolveLocation geo-tags a request. Proxy-injected country headers win
// (Cloudflare and nginx stamp these at the edge); the MMDB lookup on the
// client IP is the fallback when no header is present.
func resolveLocation(c *gin.Context, geo GeoResolver) *geoip.GeoData {
	country := c.GetHeader("CF-IPCountry")
	if country == "" {
		country = c.GetHeader("X-Country-Code")
	}
	if country != "" {
		return &geoip.GeoData{CountryCode: country}
	}
	return geo.Resolve(c.Request.Context(), middleware.GetRemoteIP(c))
}

// LatencyMs is a pointer so an explicit zero survives binding.
type submitResultRequest struct {
	LatencyMs *int64 `json:"reactionTime"`
	SubjectID string `json:"userId"`
}

type placementResponse struct {
	Rank      int `json:"rank"`
	ScopeSize int `json:"totalUsers"`
}

// Submit handles POST /api/results/:testType. The trial is geo-tagged from
// the request, appended to the store, and ranked within every scope its
// location expands to. Stale trials are pruned on the same write.
func (h *ResultsHandler) Submit(c *gin.Context) {
	testType := c.Param("testType")
	if !models.IsKnownTestType(testType) {
		h.metrics.IncResult(testType, "unknown_test_type")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unknown test type",
		})
		return
	}

	var req submitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.IncResult(testType, "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format",
		})
		return
	}
	if req.LatencyMs == nil || *req.LatencyMs < 0 {
		h.metrics.IncResult(testType, "bad_request")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "reactionTime must be a non-negative integer",
		})
		return
	}

	ctx := c.Request.Context()
	subjectID := req.SubjectID
	if subjectID == "" {
		subjectID = "anonymous"
	}

	trial := models.Trial{
		TimestampMs: h.clk.Now().UnixMilli(),
		LatencyMs:   *req.LatencyMs,
		SubjectID:   subjectID,
	}
	remoteIP := middleware.GetRemoteIP(c)
	if geo := resolveLocation(c, h.geo); geo != nil {
		trial.Location = &models.Location{
			CountryCode: geo.CountryCode,
			Region:      geo.Region,
			City:        geo.City,
		}
	}

	store, err := h.store.ReadResults(ctx)
	if err != nil {
		h.metrics.IncResult(testType, "storage_error")
		h.logger.WithFields(logging.Fields{
			"error":     err.Error(),
			"test_type": testType,
		}).Error("Failed to read result store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read results",
		})
		return
	}

	// Retention pruning rides along with every write.
	now := h.clk.Now()
	for tt, trials := range store {
		store[tt] = ranking.Fresh(trials, now, ranking.DefaultRetention)
	}

	rankings := make(map[string]placementResponse)
	for _, scope := range ranking.ScopesFor(trial) {
		p := ranking.Rank(trial, store[testType], scope)
		rankings[scope.Name] = placementResponse{Rank: p.Rank, ScopeSize: p.ScopeSize}
	}

	store[testType] = append(store[testType], trial)
	if err := h.store.WriteResults(ctx, store); err != nil {
		h.metrics.IncResult(testType, "storage_error")
		h.logger.WithFields(logging.Fields{
			"error":     err.Error(),
			"test_type": testType,
		}).Error("Failed to write result store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to store result",
		})
		return
	}

	h.metrics.IncResult(testType, "success")
	h.logger.WithFields(logging.Fields{
		"test_type":  testType,
		"latency_ms": trial.LatencyMs,
		"ip":         remoteIP,
	}).Info("Trial recorded")

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"stored":   trial,
		"rankings": rankings,
	})
}

type leaderboardResponse struct {
	Name    string         `json:"name"`
	Entries []models.Trial `json:"entries"`
}

// List handles GET /api/results/:testType. Leaderboards are computed for the
// requester's own location scopes; trials past retention never appear even
// before the next pruning write removes them.
func (h *ResultsHandler) List(c *gin.Context) {
	testType := c.Param("testType")
	if !models.IsKnownTestType(testType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unknown test type",
		})
		return
	}

	ctx := c.Request.Context()
	store, err := h.store.ReadResults(ctx)
	if err != nil {
		h.logger.WithFields(logging.Fields{
			"error":     err.Error(),
			"test_type": testType,
		}).Error("Failed to read result store")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read results",
		})
		return
	}

	fresh := ranking.Fresh(store[testType], h.clk.Now(), ranking.DefaultRetention)

	scopes := []ranking.Scope{ranking.Global}
	if geo := resolveLocation(c, h.geo); geo != nil {
		for _, s := range []ranking.Scope{
			ranking.Country(geo.CountryCode),
			ranking.Region(geo.CountryCode, geo.Region),
			ranking.City(geo.CountryCode, geo.Region, geo.City),
		} {
			if s.Defined() {
				scopes = append(scopes, s)
			}
		}
	}

	rankings := make(map[string]leaderboardResponse)
	for _, scope := range scopes {
		rankings[scope.Name] = leaderboardResponse{
			Name:    scope.Name,
			Entries: ranking.TopN(fresh, scope, ranking.DefaultLeaderboardSize),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"rankings": rankings,
	})
}
