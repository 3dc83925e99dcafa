package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orpheus-engine/conductor/internal/service"
	"github.com/orpheus-engine/conductor/internal/store"
	"github.com/orpheus-engine/conductor/internal/supervisor"
)

// Router exposes the supervisor's control, query and event surface over HTTP.
// Endpoints under basePath:
//
//	POST /start?name=          start one registered service
//	POST /start-all            start everything in registration order
//	POST /stop?name=           stop one service
//	POST /stop-all             stop everything
//	POST /restart?name=        stop + fresh status + start
//	GET  /status?name=         one status record
//	GET  /statuses             all status records
//	POST /group/start?group=   register+start a descriptor under a group (JSON body)
//	POST /group/stop?group=    stop and remove a whole group
//	GET  /group/status?group=  group status records
//	GET  /group/health?group=  group health verdict
//	GET  /events               SSE feed of lifecycle events
//	GET  /history?limit=       recent transitions from the journal
type Router struct {
	sup      *supervisor.Supervisor
	st       store.Store // may be nil; /history then returns 404
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, st store.Store, basePath string) *Router {
	return &Router{sup: sup, st: st, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin, mountable in any server.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	grp := g.Group(r.basePath)
	grp.POST("/start", r.handleStart)
	grp.POST("/start-all", r.handleStartAll)
	grp.POST("/stop", r.handleStop)
	grp.POST("/stop-all", r.handleStopAll)
	grp.POST("/restart", r.handleRestart)
	grp.GET("/status", r.handleStatus)
	grp.GET("/statuses", r.handleStatuses)
	grp.POST("/group/start", r.handleGroupStart)
	grp.POST("/group/stop", r.handleGroupStop)
	grp.GET("/group/status", r.handleGroupStatus)
	grp.GET("/group/health", r.handleGroupHealth)
	grp.GET("/events", r.handleEvents)
	grp.GET("/history", r.handleHistory)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, st store.Store) *http.Server {
	r := NewRouter(sup, st, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // /events streams indefinitely
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.sup.Start(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartAll(c *gin.Context) {
	if err := r.sup.StartAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.sup.Stop(name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	r.sup.StopAll()
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.sup.Restart(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	st, ok := r.sup.Status(name)
	if !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Statuses())
}

func (r *Router) handleGroupStart(c *gin.Context) {
	group := c.Query("group")
	if group == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "group query param required"})
		return
	}
	var d service.Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.sup.StartForGroup(c.Request.Context(), group, d); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGroupStop(c *gin.Context) {
	group := c.Query("group")
	if group == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "group query param required"})
		return
	}
	r.sup.StopForGroup(group)
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGroupStatus(c *gin.Context) {
	group := c.Query("group")
	if group == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "group query param required"})
		return
	}
	c.JSON(http.StatusOK, r.sup.GroupStatuses(group))
}

func (r *Router) handleGroupHealth(c *gin.Context) {
	group := c.Query("group")
	if group == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "group query param required"})
		return
	}
	healthy := r.sup.IsGroupHealthy(c.Request.Context(), group)
	c.JSON(http.StatusOK, gin.H{"group": group, "healthy": healthy})
}

// handleEvents streams lifecycle events as server-sent events until the
// client disconnects.
func (r *Router) handleEvents(c *gin.Context) {
	events, cancel := r.sup.Subscribe()
	defer cancel()
	c.Writer.Header().Set("Cache-Control", "no-cache")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.st == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "no store configured"})
		return
	}
	limit := 50
	if ls := c.Query("limit"); ls != "" {
		if n, err := strconv.Atoi(ls); err == nil {
			limit = n
		}
	}
	recs, err := r.st.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
