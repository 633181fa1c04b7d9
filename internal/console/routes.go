package console

import (
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/danmuck/rconsole/internal/auth"
	"github.com/danmuck/rconsole/internal/observability"
	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// NewRouter builds the admin API around srv and mounts the agent socket
// endpoint at socketPath when socket is non-nil. A non-empty adminToken is
// required on every route except /health and the socket.
func NewRouter(name string, srv *Server, socketPath string, socket http.Handler, corsOrigins []string, adminToken string) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if adminToken != "" {
		r.Use(auth.Middleware(auth.StaticToken{Token: adminToken}, "/health", socketPath))
	}

	if socket != nil {
		r.GET(socketPath, gin.WrapH(socket))
	}
	api := &api{name: name, srv: srv, started: time.Now()}
	api.register(r)
	return r
}

type api struct {
	name    string
	srv     *Server
	started time.Time
}

func (a *api) register(r gin.IRoutes) {
	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/clients", a.listClients)
	r.POST("/clients/:id/select", a.selectClient)
	r.GET("/logs", a.listLogs)
	r.DELETE("/logs", a.clearLogs)
	r.GET("/clients/:id/lookin", a.lookIn)
	r.GET("/clients/:id/files", a.listDirectory)
	r.GET("/clients/:id/files/tree", a.fileTree)
	r.GET("/clients/:id/files/md5", a.fileMD5)
	r.GET("/clients/:id/files/download", a.download)
}

func (a *api) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"console":     a.name,
		"uptime":      time.Since(a.started).String(),
		"serving":     a.srv.Started(),
		"connections": len(a.srv.Connections()),
		"version":     version,
	})
}

func (a *api) listClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": a.srv.Roster().Clients()})
}

func (a *api) selectClient(c *gin.Context) {
	if err := a.srv.Roster().Select(c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": c.Param("id")})
}

func (a *api) listLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	logs := a.srv.Roster().Logs(LogQuery{
		ConnID: c.Query("client"),
		Level:  c.Query("level"),
		Search: c.Query("q"),
		Limit:  limit,
	})
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": a.srv.Roster().LogCount()})
}

func (a *api) clearLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": a.srv.Roster().ClearLogs()})
}

func (a *api) lookIn(c *gin.Context) {
	node, err := a.srv.LookIn(c.Request.Context(), a.target(c), c.DefaultQuery("path", "/"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hierarchyViewOf(node))
}

func (a *api) listDirectory(c *gin.Context) {
	node, err := a.srv.ListDirectory(c.Request.Context(), a.target(c), c.DefaultQuery("path", "/"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fileViewOf(node))
}

func (a *api) fileTree(c *gin.Context) {
	root, err := a.srv.FileTree(a.target(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	if root == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no directory listed yet"})
		return
	}
	c.JSON(http.StatusOK, fileViewOf(root))
}

func (a *api) fileMD5(c *gin.Context) {
	p, ok := requirePath(c)
	if !ok {
		return
	}
	node, err := a.srv.FileMD5(c.Request.Context(), a.target(c), p)
	if err != nil {
		a.fail(c, err)
		return
	}
	if node.MD5.Value == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not readable", "path": p})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": node.Path.Value, "md5": node.MD5.Value})
}

func (a *api) download(c *gin.Context) {
	p, ok := requirePath(c)
	if !ok {
		return
	}
	node, err := a.srv.DownloadFile(c.Request.Context(), a.target(c), p)
	if err != nil {
		a.fail(c, err)
		return
	}
	if node.Data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not readable", "path": p})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(node.Path.Value)+`"`)
	c.Data(http.StatusOK, "application/octet-stream", node.Data)
}

// target maps the "selected" placeholder onto the roster selection.
func (a *api) target(c *gin.Context) string {
	id := c.Param("id")
	if id == "selected" {
		return ""
	}
	return id
}

func requirePath(c *gin.Context) (string, bool) {
	p := c.Query("path")
	if p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter required"})
		return "", false
	}
	return p, true
}

func (a *api) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownConnection), errors.Is(err, ErrNoSelection):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotStarted), errors.Is(err, session.ErrConnClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrRequestTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrPayloadMismatch):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
