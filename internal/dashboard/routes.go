package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/zulandar/blockyard/internal/export"
	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/gorm"
)

var now = time.Now

const statsKey = "stats"

// registerRoutes sets up all API routes on the group.
func registerRoutes(api *gin.RouterGroup, db *gorm.DB, stats *cache.Cache) {
	api.GET("/units", handleUnitList(db))
	api.GET("/units/:id", handleUnitDetail(db))
	api.GET("/units/:id/history", handleUnitHistory(db))
	api.GET("/stats", handleStats(db, stats))
	api.GET("/export.xml", handleExport(db))
	api.GET("/events", handleSSE(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleUnitList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		if status != "" && !unit.IsStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(status)})
			return
		}
		units, err := unit.List(db, unit.ListFilters{Status: status, Number: c.Query("number")})
		if err != nil {
			serverError(c, err)
			return
		}
		views := make([]UnitView, len(units))
		for i, u := range units {
			views[i] = unitView(u)
		}
		c.JSON(http.StatusOK, gin.H{"units": views})
	}
}

func handleUnitDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := unitID(c)
		if !ok {
			return
		}
		u, err := unit.Get(db, id)
		if err != nil {
			unitError(c, err)
			return
		}
		rep, err := unit.LatestRepair(db, id)
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unit": unitView(*u), "latest_repair": repairView(rep)})
	}
}

func handleUnitHistory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := unitID(c)
		if !ok {
			return
		}
		page := 1
		if p := c.Query("page"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
				return
			}
			page = n
		}
		if _, err := unit.Get(db, id); err != nil {
			unitError(c, err)
			return
		}
		hist, err := unit.History(db, id, page-1)
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, historyView(hist))
	}
}

func handleStats(db *gorm.DB, stats *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v, ok := stats.Get(statsKey); ok {
			c.JSON(http.StatusOK, v)
			return
		}
		counts, err := unit.CountByStatus(db)
		if err != nil {
			serverError(c, err)
			return
		}
		view := StatsView{ByStatus: make(map[string]int64)}
		for _, sc := range counts {
			view.ByStatus[sc.Status] = sc.Count
			view.Total += sc.Count
		}
		stats.SetDefault(statsKey, view)
		c.JSON(http.StatusOK, view)
	}
}

func handleExport(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, err := export.ParseScope(c.Query("scope"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		at := now()
		data, err := export.Render(db, scope, at)
		if err != nil {
			serverError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+export.Filename(scope, at)+`"`)
		c.Data(http.StatusOK, export.ContentType, data)
	}
}

func unitID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit id"})
		return 0, false
	}
	return uint(id), true
}

func unitError(c *gin.Context, err error) {
	if errors.Is(err, unit.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
		return
	}
	serverError(c, err)
}

func serverError(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
