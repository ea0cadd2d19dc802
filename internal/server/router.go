package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"

	"github.com/loykin/tally/internal/metrics"
	"github.com/loykin/tally/internal/monitor"
	"github.com/loykin/tally/internal/report"
	"github.com/loykin/tally/internal/store"
)

// Router provides embeddable HTTP handlers for the monitor.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/poll
//	PUT  {basePath}/target       body: {"path": "/abs/exe"}
//	GET  {basePath}/counts       query: start=YYYY-MM-DD&end=YYYY-MM-DD
//	GET  {basePath}/calendar     query: year=2031&month=3 (defaults to this month)
//	GET  {basePath}/export.csv   query: start&end, or preset=this-month|last-month|last-7|last-30|all-time
//	GET  {basePath}/metrics      when Options.Metrics is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mon      Monitor
	st       Store
	basePath string
	opts     Options

	mu   sync.RWMutex
	last lastSeen
}

// Monitor is the part of monitor.Controller the router drives.
type Monitor interface {
	Status() monitor.Status
	ForcePoll()
	SetTarget(path string) error
}

// Store is the part of store.Store the router reads and writes.
type Store interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	GetCountsForRange(ctx context.Context, start, end string) ([]store.DailyMax, error)
}

// Options tunes a Router. The zero value is usable.
type Options struct {
	Metrics bool         // mount the prometheus handler under {basePath}/metrics
	Clock   quartz.Clock // decides "today"; quartz.NewReal() when nil
	Logger  *slog.Logger
}

// lastSeen is what the notification stream told us about the active session.
type lastSeen struct {
	session   string
	count     int
	hasCount  bool
	at        time.Time
	lastError string
	errorAt   time.Time
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/poll, ...
func NewRouter(mon Monitor, st Store, basePath string, opts Options) *Router {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{mon: mon, st: st, basePath: cleanBasePath(basePath), opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/poll", r.handlePoll)
	group.PUT("/target", r.handleTarget)
	group.GET("/counts", r.handleCounts)
	group.GET("/calendar", r.handleCalendar)
	group.GET("/export.csv", r.handleExport)
	if r.opts.Metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// Watch records the latest count and error of each session from events until
// ctx is done or the channel is closed. Subscribe before starting the
// controller so the first count is not missed.
func (r *Router) Watch(ctx context.Context, events <-chan monitor.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.observe(e)
		}
	}
}

func (r *Router) observe(e monitor.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Session != r.last.session {
		r.last = lastSeen{session: e.Session}
	}
	switch e.Kind {
	case monitor.EventCountChanged:
		r.last.count = e.Count
		r.last.hasCount = true
		r.last.at = e.At
		r.last.lastError = ""
		r.last.errorAt = time.Time{}
	case monitor.EventError:
		r.last.lastError = e.Message()
		r.last.errorAt = e.At
	}
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := newHTTPServer(addr, r.Handler())
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.opts.Logger.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

// Serve runs the router on ln until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, r *Router) error {
	server := newHTTPServer(ln.Addr().String(), r.Handler())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const shutdownTimeout = 5 * time.Second

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	monitor.Status
	Count     *int       `json:"count"`
	CountAt   *time.Time `json:"count_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	ErrorAt   *time.Time `json:"error_at,omitempty"`
	Today     string     `json:"today"`
	TodayMax  *int       `json:"today_max"`
}

type targetReq struct {
	Path string `json:"path"`
}

type countsResp struct {
	Start   string           `json:"start"`
	End     string           `json:"end"`
	Summary report.Summary   `json:"summary"`
	Rows    []store.DailyMax `json:"rows"`
	Days    []report.Day     `json:"days"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Status: r.mon.Status()}
	r.mu.RLock()
	last := r.last
	r.mu.RUnlock()
	if resp.Session != "" && last.session == resp.Session {
		if last.hasCount {
			n, at := last.count, last.at
			resp.Count, resp.CountAt = &n, &at
		}
		if last.lastError != "" {
			at := last.errorAt
			resp.LastError, resp.ErrorAt = last.lastError, &at
		}
	}

	today := store.Day(r.opts.Clock.Now())
	resp.Today = today
	rows, err := r.st.GetCountsForRange(c.Request.Context(), today, today)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) > 0 {
		n := rows[0].MaxInstances
		resp.TodayMax = &n
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handlePoll(c *gin.Context) {
	r.mon.ForcePoll()
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleTarget(c *gin.Context) {
	var req targetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(c, http.StatusBadRequest, "path required")
		return
	}
	if !isCleanAbsPath(req.Path) {
		writeError(c, http.StatusBadRequest, "invalid path: must be absolute path without traversal")
		return
	}
	if err := r.mon.SetTarget(req.Path); err != nil {
		switch {
		case errors.Is(err, monitor.ErrTargetNotFound):
			writeError(c, http.StatusNotFound, err.Error())
		case errors.Is(err, monitor.ErrClosed):
			writeError(c, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if err := r.st.SetConfig(c.Request.Context(), store.ConfigKeyExecutablePath, req.Path); err != nil {
		// monitoring already switched; only the restart default is lost
		r.opts.Logger.Warn("persist target", "path", req.Path, "error", err)
		writeError(c, http.StatusInternalServerError, "target set but not saved: "+err.Error())
		return
	}
	writeJSON(c, http.StatusOK, r.mon.Status())
}

func (r *Router) handleCounts(c *gin.Context) {
	rng, err := report.NewRange(c.Query("start"), c.Query("end"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := report.Load(c.Request.Context(), r.st, rng)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []store.DailyMax{}
	}
	writeJSON(c, http.StatusOK, countsResp{
		Start:   rng.StartDay(),
		End:     rng.EndDay(),
		Summary: report.Summarize(rng, rows),
		Rows:    rows,
		Days:    report.Fill(rng, rows),
	})
}

func (r *Router) handleCalendar(c *gin.Context) {
	now := r.opts.Clock.Now()
	year, month := now.Year(), int(now.Month())
	if v := c.Query("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid year: "+v)
			return
		}
		year = n
	}
	if v := c.Query("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			writeError(c, http.StatusBadRequest, "invalid month: "+v)
			return
		}
		month = n
	}
	view, err := report.LoadMonth(c.Request.Context(), r.st, year, time.Month(month))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (r *Router) handleExport(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		rng report.Range
		err error
	)
	if p := c.Query("preset"); p != "" {
		rng, err = report.Resolve(ctx, r.st, report.Preset(p), r.opts.Clock.Now())
	} else {
		rng, err = report.NewRange(c.Query("start"), c.Query("end"))
	}
	switch {
	case errors.Is(err, report.ErrNoData):
		writeError(c, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := report.Load(ctx, r.st, rng)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(c, http.StatusNotFound, "no data in "+rng.String())
		return
	}
	exe := r.exportTarget(ctx)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+report.SuggestedFilename(exe, rng)+`"`)
	c.Status(http.StatusOK)
	if err := report.WriteCSV(c.Writer, exe, rows); err != nil {
		r.opts.Logger.Warn("write export", "range", rng.String(), "error", err)
	}
}

// exportTarget names the application in exports: the persisted target, or
// the one being monitored when none was saved.
func (r *Router) exportTarget(ctx context.Context) string {
	if v, ok, err := r.st.GetConfig(ctx, store.ConfigKeyExecutablePath); err == nil && ok && v != "" {
		return v
	}
	return r.mon.Status().Target
}
