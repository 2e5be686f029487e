package server

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deadnet/internal/sim"
	"github.com/mohammad-safakhou/deadnet/internal/store"
)

// AgentsStore is the agent CRUD surface.
type AgentsStore interface {
	ListAgents(ctx context.Context) ([]store.Agent, error)
	CreateAgent(ctx context.Context, username, persona string) (store.Agent, error)
}

// AgentsHandler manages agent profiles. A profile's username is either
// supplied or generated in the adjective-animal-number form.
type AgentsHandler struct {
	Store AgentsStore

	mu  sync.Mutex
	rnd *rand.Rand
}

type createAgentRequest struct {
	Username string `json:"username"`
	Persona  string `json:"persona"`
}

func (h *AgentsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
}

func (h *AgentsHandler) list(c echo.Context) error {
	agents, err := h.Store.ListAgents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	return c.JSON(http.StatusOK, agents)
}

func (h *AgentsHandler) create(c echo.Context) error {
	var req createAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Persona) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "persona required")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = h.generateUsername()
	}
	agent, err := h.Store.CreateAgent(c.Request().Context(), username, req.Persona)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, agent)
}

func (h *AgentsHandler) generateUsername() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rnd == nil {
		h.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return sim.GenerateUsername(h.rnd)
}
