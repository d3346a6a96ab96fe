package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/nlp"
	"github.com/skillbridge/skillbridge/internal/queue"
)

type submitJobRequest struct {
	Type    string         `json:"type" binding:"required"`
	Payload map[string]any `json:"payload" binding:"required"`
}

type submitJobResponse struct {
	JobID                string       `json:"job_id"`
	Status               queue.Status `json:"status"`
	PositionInQueue      int          `json:"position_in_queue"`
	EstimatedWaitSeconds int          `json:"estimated_wait_seconds"`
	Message              string       `json:"message"`
}

type jobStatusResponse struct {
	JobID                string         `json:"job_id"`
	Status               queue.Status   `json:"status"`
	PositionInQueue      *int           `json:"position_in_queue,omitempty"`
	EstimatedWaitSeconds *int           `json:"estimated_wait_seconds,omitempty"`
	Result               map[string]any `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

type analyzeRequest struct {
	Text  string `json:"text" binding:"required"`
	Model string `json:"model"`
}

type compareSkillsRequest struct {
	ResumeText         string `json:"resume_text" binding:"required"`
	JobDescriptionText string `json:"job_description_text" binding:"required"`
}

func errorResponse(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "skillbridge",
		"message": "Resume and job description analysis API",
	})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	status := s.queue.Status()
	if !status.WorkerRunning {
		errorResponse(c, http.StatusServiceUnavailable, "job worker is not running")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	jobType, ok := queue.ParseType(req.Type)
	if !ok {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("unknown job type: %s", req.Type))
		return
	}

	if err := validatePayload(jobType, req.Payload); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.queue.Submit(jobType, req.Payload)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			errorResponse(c, http.StatusServiceUnavailable, "Job queue is full. Please try again later.")
			return
		}
		s.logger.Error("job submission failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to submit job")
		return
	}

	position := 0
	if job.PositionInQueue != nil {
		position = *job.PositionInQueue
	}
	wait := 0
	if job.EstimatedWaitSeconds != nil {
		wait = *job.EstimatedWaitSeconds
	}

	c.JSON(http.StatusOK, submitJobResponse{
		JobID:                job.ID,
		Status:               job.Status,
		PositionInQueue:      position,
		EstimatedWaitSeconds: wait,
		Message:              fmt.Sprintf("Job submitted successfully. Position in queue: %d", position),
	})
}

// validatePayload rejects malformed payloads at submission time, before the
// job occupies a queue slot.
func validatePayload(jobType queue.Type, payload map[string]any) error {
	switch jobType {
	case queue.TypeCourseRecommendation:
		for _, field := range []string{"resume_text", "job_description_text"} {
			text, _ := payload[field].(string)
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("missing required field in payload: %s", field)
			}
		}
	}
	return nil
}

func (s *Server) jobStatus(c *gin.Context) {
	job, err := s.queue.Get(c.Param("job_id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			errorResponse(c, http.StatusNotFound, fmt.Sprintf("job %s not found", c.Param("job_id")))
			return
		}
		s.logger.Error("job lookup failed", zap.Error(err))
		errorResponse(c, http.StatusInternalServerError, "failed to look up job")
		return
	}

	c.JSON(http.StatusOK, jobStatusResponse{
		JobID:                job.ID,
		Status:               job.Status,
		PositionInQueue:      job.PositionInQueue,
		EstimatedWaitSeconds: job.EstimatedWaitSeconds,
		Result:               job.Result,
		Error:                job.Error,
		CreatedAt:            job.CreatedAt,
		StartedAt:            job.StartedAt,
		CompletedAt:          job.CompletedAt,
	})
}

func (s *Server) queueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.Status())
}

func (s *Server) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	entities, err := s.nlp.ExtractEntities(c.Request.Context(), req.Text, req.Model)
	if err != nil {
		s.logger.Error("entity extraction failed", zap.Error(err))
		errorResponse(c, http.StatusBadGateway, "entity extraction failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

func (s *Server) analyzeAll(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	entities, err := s.nlp.ExtractDistinctEntities(c.Request.Context(), req.Text)
	if err != nil {
		s.logger.Error("entity extraction failed", zap.Error(err))
		errorResponse(c, http.StatusBadGateway, "entity extraction failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

func (s *Server) listModels(c *gin.Context) {
	models, err := s.nlp.ListModels(c.Request.Context())
	if err != nil {
		s.logger.Error("listing models failed", zap.Error(err))
		errorResponse(c, http.StatusBadGateway, "listing models failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"available_models": models})
}

func (s *Server) compareSkills(c *gin.Context) {
	var req compareSkillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx := c.Request.Context()
	resumeEntities, err := s.nlp.ExtractDistinctEntities(ctx, req.ResumeText)
	if err != nil {
		s.logger.Error("resume extraction failed", zap.Error(err))
		errorResponse(c, http.StatusBadGateway, "entity extraction failed")
		return
	}
	jobEntities, err := s.nlp.ExtractDistinctEntities(ctx, req.JobDescriptionText)
	if err != nil {
		s.logger.Error("job description extraction failed", zap.Error(err))
		errorResponse(c, http.StatusBadGateway, "entity extraction failed")
		return
	}

	c.JSON(http.StatusOK, nlp.CompareEntities(resumeEntities, jobEntities))
}
