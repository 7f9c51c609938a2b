// Package api is the operator surface: pipeline trigger intake, run
// inspection, abort, audit log, and metrics.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/gate"
	"github.com/sentilytics/greenlight/internal/release"
)

type Api struct {
	gate       *gate.Gate
	controller *release.Controller
	router     *gin.Engine
}

func NewApi(g *gate.Gate, controller *release.Controller, router *gin.Engine) (*Api, error) {
	api := &Api{
		gate:       g,
		controller: controller,
		router:     router,
	}

	api.setupRouters(router)
	return api, nil
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.POST("/v1/pipeline/events", api.SubmitPipelineEvent)
	router.GET("/v1/deployments", api.ListDeployments)
	router.GET("/v1/deployments/current", api.GetCurrentDeployment)
	router.POST("/v1/deployments/current/abort", api.AbortCurrentDeployment)
	router.GET("/v1/instance", api.GetServingInstance)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// SubmitPipelineEvent handles POST /v1/pipeline/events.
func (api *Api) SubmitPipelineEvent(c *gin.Context) {
	var ev gate.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}
	if ev.CommitID == "" || ev.Branch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commit_id and branch are required"})
		return
	}

	disposition := api.gate.Submit(ev)
	c.JSON(http.StatusAccepted, gin.H{
		"commit_id":   ev.CommitID,
		"disposition": disposition,
	})
}

// GetCurrentDeployment handles GET /v1/deployments/current.
func (api *Api) GetCurrentDeployment(c *gin.Context) {
	run, ok := api.controller.CurrentRun()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active deployment run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// AbortCurrentDeployment handles POST /v1/deployments/current/abort. Aborts
// are honored only while the run is validating the candidate.
func (api *Api) AbortCurrentDeployment(c *gin.Context) {
	err := api.controller.Abort()
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "abort requested"})
	case errors.Is(err, release.ErrNoActiveRun):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, release.ErrAbortRefused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("abort request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "abort failed"})
	}
}

// ListDeployments handles GET /v1/deployments?limit=N, newest first.
func (api *Api) ListDeployments(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := api.controller.Runs(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list deployment runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deployments"})
		return
	}
	if runs == nil {
		runs = []release.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

// GetServingInstance handles GET /v1/instance.
func (api *Api) GetServingInstance(c *gin.Context) {
	inst, ok := api.controller.Serving()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no serving instance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instance_id": inst.ID,
		"pid":         inst.PID,
		"port":        inst.Port,
		"version":     inst.Version,
		"state":       inst.State,
		"started_at":  inst.StartedAt,
	})
}
