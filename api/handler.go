package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"ffedit/bridge"
	"ffedit/config"
	"ffedit/ffmpeg"
	"ffedit/geometry"
	"ffedit/project"
	"ffedit/task"

	"github.com/gin-gonic/gin"
)

// Prober reads the natural size of a clip.
type Prober interface {
	Probe(ctx context.Context, path string) (geometry.Size, error)
}

type Handler struct {
	taskManager *task.Manager
	bridge      *bridge.Bridge
	hub         *SurfaceHub
	prober      Prober
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, b *bridge.Bridge, hub *SurfaceHub, prober Prober, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		bridge:      b,
		hub:         hub,
		prober:      prober,
		cfg:         cfg,
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var cfgErr *ffmpeg.ConfigError
	var spawnErr *ffmpeg.SpawnError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &spawnErr):
		return http.StatusBadGateway
	case errors.Is(err, task.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, ffmpeg.ErrInsufficientResources):
		return http.StatusServiceUnavailable
	case errors.Is(err, project.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bridge.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// handleCreateTask validates an export request and queues it.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req task.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Settings.Destination == "" {
		req.Settings.Destination = h.cfg.DefaultDestination
	}
	if (req.Clip.Size.Width <= 0 || req.Clip.Size.Height <= 0) && req.Clip.Path != "" && h.prober != nil {
		size, err := h.prober.Probe(c.Request.Context(), req.Clip.Path)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read clip size", "details": err.Error()})
			return
		}
		req.Clip.Size = size
	}

	t, err := h.taskManager.Submit(req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID, "outputPath": t.OutputPath})
}

func (h *Handler) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.List())
}

func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, found := h.taskManager.Get(c.Param("taskId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) handleCancelTask(c *gin.Context) {
	err := h.taskManager.Cancel(c.Param("taskId"))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, task.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

// handleTaskProgress streams encoder output as "progress" events and ends
// with a "done" event carrying the final task. A "log" event carries the
// whole log tail and replaces what the client has shown so far; it is sent
// first and again whenever the stream fell behind.
func (h *Handler) handleTaskProgress(c *gin.Context) {
	taskID := c.Param("taskId")
	sub, err := h.taskManager.Watch(taskID)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	defer func() { sub.Close() }()

	ctx := c.Request.Context()
	if sub.Tail != "" {
		c.SSEvent("log", sub.Tail)
	}
	c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-sub.Updates():
			if ok {
				c.SSEvent("progress", chunk)
				return true
			}
			if sub.Lagged() {
				next, err := h.taskManager.Watch(taskID)
				if err != nil {
					return false
				}
				log.Printf("Progress stream of task %s fell behind, resending the log tail.", taskID)
				sub = next
				c.SSEvent("log", sub.Tail)
				return true
			}
			if t, found := h.taskManager.Get(taskID); found {
				c.SSEvent("done", t)
			}
			return false
		case <-ctx.Done():
			return false
		}
	})
}

type probeRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *Handler) handleProbe(c *gin.Context) {
	var req probeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.prober == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Probing is not available"})
		return
	}
	size, err := h.prober.Probe(c.Request.Context(), req.Path)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, size)
}

// handleSurfaceEvents keeps a UI surface live for as long as the request
// stays open and forwards bridge messages to it.
func (h *Handler) handleSurfaceEvents(c *gin.Context) {
	name := c.Param("name")
	messages, detach := h.hub.Attach(name)
	defer detach()
	log.Printf("Surface %s attached.", name)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent("message", msg)
			return true
		case <-ctx.Done():
			return false
		}
	})
	log.Printf("Surface %s detached.", name)
}

func (h *Handler) handleSurfaceReply(c *gin.Context) {
	var reply bridge.Reply
	if err := c.ShouldBindJSON(&reply); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if reply.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply name is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": h.bridge.Resolve(reply)})
}

type projectRequest struct {
	Surface string `json:"surface"`
	Path    string `json:"path" binding:"required"`
}

func (h *Handler) bindProject(c *gin.Context) (projectRequest, bool) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if req.Surface == "" {
		req.Surface = "main"
	}
	path, err := ffmpeg.ExpandHome(req.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	req.Path = path
	return req, true
}

// handleSaveProject blocks until the surface has serialized its project or
// the client goes away.
func (h *Handler) handleSaveProject(c *gin.Context) {
	req, ok := h.bindProject(c)
	if !ok {
		return
	}
	if filepath.Ext(req.Path) == "" {
		req.Path += project.Extension
	}
	if err := project.Save(c.Request.Context(), h.bridge, req.Surface, req.Path); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "fileName": filepath.Base(req.Path)})
}

func (h *Handler) handleOpenProject(c *gin.Context) {
	req, ok := h.bindProject(c)
	if !ok {
		return
	}
	if err := project.Open(h.bridge, req.Surface, req.Path); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "fileName": filepath.Base(req.Path)})
}
