package endpoint

import (
	"context"
	"maps"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsFunc contributes domain counters to the /metrics snapshot.
type StatsFunc func(ctx context.Context) map[string]any

// Metrics reports a runtime memory and goroutine snapshot merged with the
// "mesh" counters of every StatsFunc. Time series are exported over OTLP
// by the observability package.
func Metrics(stats ...StatsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		body := gin.H{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb": m.Alloc / 1024 / 1024,
				"sys_mb":   m.Sys / 1024 / 1024,
				"gc_runs":  m.NumGC,
			},
		}
		if len(stats) > 0 {
			mesh := make(map[string]any)
			for _, fn := range stats {
				maps.Copy(mesh, fn(c.Request.Context()))
			}
			body["mesh"] = mesh
		}
		c.JSON(http.StatusOK, body)
	}
}
