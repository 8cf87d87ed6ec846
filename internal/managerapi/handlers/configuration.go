package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/managerapi/handlers/dto"
	"github.com/thrillee/smppgateway/internal/mno"
)

// SessionRegistry is the part of the session pool the API reads and resets.
type SessionRegistry interface {
	Status() []mno.SessionStatus
	Invalidate(ctx context.Context, name string, cause error)
}

type ConfigurationHandler struct {
	store    database.Store
	sessions SessionRegistry
}

func NewConfigurationHandler(store database.Store, sessions SessionRegistry) *ConfigurationHandler {
	return &ConfigurationHandler{store: store, sessions: sessions}
}

// ListConfigurations handles GET /configurations
func (h *ConfigurationHandler) ListConfigurations(c *gin.Context) {
	logCtx := c.Request.Context()
	configs, err := h.store.ListConfigurations(logCtx)
	if err != nil {
		respondError(c, logCtx, "list configurations", err)
		return
	}
	if configs == nil {
		configs = []database.Configuration{}
	}
	c.JSON(http.StatusOK, gin.H{"data": configs})
}

// GetConfiguration handles GET /configurations/:name
func (h *ConfigurationHandler) GetConfiguration(c *gin.Context) {
	name := c.Param("name")
	logCtx := logging.ContextWithConfigName(c.Request.Context(), name)

	cfg, err := h.store.GetConfiguration(logCtx, name)
	if err != nil {
		respondError(c, logCtx, "get configuration", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpsertConfiguration handles PUT /configurations/:name. An omitted password
// keeps the stored one. Marking a configuration default clears the flag on
// every other row. A bound session for the name is dropped so the next
// submit binds with the new settings.
func (h *ConfigurationHandler) UpsertConfiguration(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	logCtx := logging.ContextWithConfigName(c.Request.Context(), name)

	var req dto.ConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	cfg := req.ToConfiguration(name)

	var saved database.Configuration
	created := false
	err := h.store.ExecTx(logCtx, func(q database.Querier) error {
		existing, err := q.GetConfiguration(logCtx, name)
		switch {
		case errors.Is(err, database.ErrNotFound):
			created = true
		case err != nil:
			return err
		case cfg.Password == "":
			cfg.Password = existing.Password
		}
		cfg = mno.WithDefaults(cfg)
		if err := mno.ValidateConfiguration(cfg); err != nil {
			return err
		}
		if cfg.IsDefault {
			if err := q.ClearDefaultConfiguration(logCtx, name); err != nil {
				return err
			}
		}
		saved, err = q.UpsertConfiguration(logCtx, dto.UpsertParams(cfg))
		return err
	})
	if err != nil {
		respondError(c, logCtx, "upsert configuration", err)
		return
	}

	if !created && h.sessions != nil {
		h.sessions.Invalidate(logCtx, name, nil)
	}
	slog.InfoContext(logCtx, "SMPP configuration saved",
		slog.Bool("created", created), slog.Bool("active", saved.IsActive), slog.Bool("default", saved.IsDefault))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, saved)
}

// ListConnectionLogs handles GET /configurations/:name/logs?limit=
func (h *ConfigurationHandler) ListConnectionLogs(c *gin.Context) {
	name := c.Param("name")
	logCtx := logging.ContextWithConfigName(c.Request.Context(), name)
	limit, _ := parsePagination(c)

	logs, err := h.store.ListConnectionLogs(logCtx, database.ListConnectionLogsParams{
		ConfigurationName: name,
		Limit:             limit,
	})
	if err != nil {
		respondError(c, logCtx, "list connection logs", err)
		return
	}
	if logs == nil {
		logs = []database.ConnectionLog{}
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// ListSessions handles GET /sessions
func (h *ConfigurationHandler) ListSessions(c *gin.Context) {
	status := []mno.SessionStatus{}
	if h.sessions != nil {
		if s := h.sessions.Status(); s != nil {
			status = s
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}
