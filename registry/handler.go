package registry

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/validation"
)

const maxRegisterBody = 64 << 10

// VersionHeader carries the registry change counter on list responses.
const VersionHeader = "X-Registry-Version"

// RegisterRequest is the PUT /registry/{service}/{instanceId} body.
type RegisterRequest struct {
	Host     string            `json:"host" validate:"required"`
	Port     int               `json:"port" validate:"min=1,max=65535"`
	Status   Status            `json:"status,omitempty" validate:"omitempty,oneof=UP DOWN"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Handler exposes a Registry over REST.
type Handler struct {
	reg *Registry
}

// NewHandler creates a handler over reg.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// Mount registers the routes on r:
//
//	GET    /registry
//	GET    /registry/:service
//	PUT    /registry/:service/:instanceId
//	DELETE /registry/:service/:instanceId
//	PUT    /registry/:service/:instanceId/status/:status
func (h *Handler) Mount(r gin.IRouter) {
	g := r.Group("/registry")
	g.GET("", h.summary)
	g.GET("/:service", h.list)
	g.PUT("/:service/:instanceId", h.register)
	g.DELETE("/:service/:instanceId", h.deregister)
	g.PUT("/:service/:instanceId/status/:status", h.status)
}

// register registers with a body, or renews when the body is empty.
func (h *Handler) register(c *gin.Context) {
	service, id := c.Param("service"), c.Param("instanceId")
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRegisterBody))
	if err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if err := h.reg.Renew(c.Request.Context(), service, id); err != nil {
			server.RespondWithError(c, err)
			return
		}
		server.RespondNoContent(c)
		return
	}

	var req RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", "malformed JSON"))
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	_, err = h.reg.Register(c.Request.Context(), Instance{
		ServiceName: service,
		InstanceID:  id,
		Host:        req.Host,
		Port:        req.Port,
		Status:      req.Status,
		Metadata:    req.Metadata,
	})
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondNoContent(c)
}

func (h *Handler) deregister(c *gin.Context) {
	if err := h.reg.Deregister(c.Request.Context(), c.Param("service"), c.Param("instanceId")); err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondNoContent(c)
}

func (h *Handler) list(c *gin.Context) {
	instances, err := h.reg.List(c.Request.Context(), c.Param("service"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	c.Header(VersionHeader, formatVersion(h.reg.Version()))
	server.RespondOK(c, instances)
}

func (h *Handler) summary(c *gin.Context) {
	c.Header(VersionHeader, formatVersion(h.reg.Version()))
	server.RespondOK(c, h.reg.Summary(c.Request.Context()))
}

func (h *Handler) status(c *gin.Context) {
	status := Status(c.Param("status"))
	err := h.reg.SetStatus(c.Request.Context(), c.Param("service"), c.Param("instanceId"), status)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondNoContent(c)
}

func formatVersion(v uint64) string {
	return strconv.FormatUint(v, 10)
}
