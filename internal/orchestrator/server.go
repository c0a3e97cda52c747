// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package orchestrator exposes the saga engine over HTTP: starting,
// inspecting, and cancelling instances, plus health and Prometheus metrics
// endpoints.
package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowmech/sagaflow/pkg/logger"
	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/engine"
)

// Server wires the engine into an HTTP API.
type Server struct {
	engine   *engine.Engine
	registry *saga.Registry
	logger   *zap.Logger
	http     *http.Server
}

// NewServer builds the gin router and the underlying http.Server listening
// on the given port.
func NewServer(eng *engine.Engine, registry *saga.Registry, gatherer prometheus.Gatherer, port string) *Server {
	s := &Server{
		engine:   eng,
		registry: registry,
		logger:   logger.GetLogger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.GET("/definitions", s.handleListDefinitions)
		v1.POST("/sagas", s.handleStartSaga)
		v1.GET("/sagas/:id", s.handleGetSaga)
		v1.GET("/sagas/:id/steps", s.handleGetSteps)
		v1.POST("/sagas/:id/cancel", s.handleCancelSaga)
	}

	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves HTTP until Shutdown. It blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type startSagaRequest struct {
	SagaName string          `json:"saga_name" binding:"required"`
	Payload  json.RawMessage `json:"payload"`
}

type instanceResponse struct {
	ID               string    `json:"id"`
	SagaName         string    `json:"saga_name"`
	Status           string    `json:"status"`
	CurrentStepIndex int       `json:"current_step_index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type stepResponse struct {
	StepName  string          `json:"step_name"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toInstanceResponse(inst *saga.Instance) instanceResponse {
	return instanceResponse{
		ID:               inst.ID,
		SagaName:         inst.SagaName,
		Status:           inst.Status.String(),
		CurrentStepIndex: inst.CurrentStepIndex,
		CreatedAt:        inst.CreatedAt,
		UpdatedAt:        inst.UpdatedAt,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListDefinitions(c *gin.Context) {
	defs := s.registry.Definitions()
	out := make([]gin.H, 0, len(defs))
	for _, def := range defs {
		steps := make([]string, len(def.Steps))
		for i := range def.Steps {
			steps[i] = def.Steps[i].Name
		}
		out = append(out, gin.H{"name": def.Name, "steps": steps})
	}
	c.JSON(http.StatusOK, gin.H{"definitions": out})
}

func (s *Server) handleStartSaga(c *gin.Context) {
	var req startSagaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := s.engine.StartSaga(c.Request.Context(), req.SagaName, req.Payload)
	if err != nil {
		if saga.IsUnknownSaga(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("start saga failed", zap.String("saga_name", req.SagaName), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start saga"})
		return
	}
	c.JSON(http.StatusCreated, toInstanceResponse(inst))
}

func (s *Server) handleGetSaga(c *gin.Context) {
	inst, err := s.engine.Instance(c.Request.Context(), c.Param("id"))
	if err != nil {
		if saga.IsSagaNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("get saga failed", zap.String("saga_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load saga"})
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(inst))
}

func (s *Server) handleGetSteps(c *gin.Context) {
	records, err := s.engine.StepHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		if saga.IsSagaNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("get step history failed", zap.String("saga_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load step history"})
		return
	}

	steps := make([]stepResponse, 0, len(records))
	for _, rec := range records {
		steps = append(steps, stepResponse{
			StepName:  rec.StepName,
			Status:    rec.Status.String(),
			Payload:   rec.Payload,
			CreatedAt: rec.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"saga_id": c.Param("id"), "steps": steps})
}

func (s *Server) handleCancelSaga(c *gin.Context) {
	err := s.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case saga.IsSagaNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case saga.IsInvalidState(err):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			s.logger.Error("cancel saga failed", zap.String("saga_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel saga"})
		}
		return
	}

	inst, err := s.engine.Instance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": saga.StatusCancelled.String()})
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(inst))
}
