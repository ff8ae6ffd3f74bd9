// Package ops serves the operator HTTP endpoint: health, metrics and admin actions.
package ops

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/metrics"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/scheduler"
)

// Reconciler triggers an out-of-schedule reconciliation.
type Reconciler interface {
	RunNow(ctx context.Context) (model.ReconcileReport, error)
}

// Granter credits currency and XP to a user.
type Granter interface {
	Grant(ctx context.Context, userID uuid.UUID, gems, xp int64) (*model.GamificationState, error)
}

// Deps are the collaborators of the ops router.
type Deps struct {
	Ping       func(ctx context.Context) error
	Reconciler Reconciler
	Granter    Granter
	Metrics    *metrics.Metrics
	AdminToken string
	Log        *zap.Logger
}

type handler struct {
	Deps
}

// NewRouter builds the gin engine. Admin routes are registered only when
// AdminToken is set.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handler{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(d.Log))

	r.GET("/healthz", h.healthz)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	if d.AdminToken != "" {
		admin := r.Group("/admin")
		admin.Use(adminAuth(d.AdminToken))
		{
			admin.POST("/reconcile", h.reconcile)
			admin.POST("/users/:id/grant", h.grant)
		}
	}
	return r
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}

func adminAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// GET /healthz
func (h *handler) healthz(c *gin.Context) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			h.Log.Warn("health check", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type reportJSON struct {
	Day          string `json:"day"`
	Scanned      int    `json:"scanned"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Conflicts    int    `json:"conflicts"`
	Failed       int    `json:"failed"`
	FreezesUsed  int    `json:"freezesUsed"`
	Resets       int    `json:"resets"`
	WeeklyResets int    `json:"weeklyResets"`
}

// POST /admin/reconcile
func (h *handler) reconcile(c *gin.Context) {
	rep, err := h.Reconciler.RunNow(c.Request.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.Log.Error("manual reconcile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, reportJSON{
		Day:          rep.Day.Format(time.DateOnly),
		Scanned:      rep.Scanned,
		Updated:      rep.Updated,
		Skipped:      rep.Skipped,
		Conflicts:    rep.Conflicts,
		Failed:       rep.Failed,
		FreezesUsed:  rep.FreezesUsed,
		Resets:       rep.Resets,
		WeeklyResets: rep.WeeklyResets,
	})
}

type grantRequest struct {
	Gems int64 `json:"gems" binding:"gte=0"`
	XP   int64 `json:"xp" binding:"gte=0"`
}

// POST /admin/users/:id/grant
func (h *handler) grant(c *gin.Context) {
	userID, err := uuid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad user id"})
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.Granter.Grant(c.Request.Context(), userID, req.Gems, req.XP)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.Is(err, errs.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.Log.Error("grant", zap.Error(err), zap.String("user", userID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gemsBalance": st.GemsBalance, "xpTotal": st.XPTotal, "xpWeekly": st.XPWeekly})
}
