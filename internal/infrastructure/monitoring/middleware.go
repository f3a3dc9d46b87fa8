package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps label cardinality bounded (":surface" not "homescreen").
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures the duration of one remote call.
type Timer struct {
	start time.Time
	stop  func(status string, d time.Duration)
}

// NewProviderTimer starts a timer for a plugin provider call.
func NewProviderTimer(metrics *Metrics, authority, method string) *Timer {
	return &Timer{
		start: time.Now(),
		stop: func(status string, d time.Duration) {
			metrics.RecordProviderCall(authority, method, status, d)
		},
	}
}

// NewBridgeTimer starts a timer for a privileged bridge call.
func NewBridgeTimer(metrics *Metrics, method string) *Timer {
	return &Timer{
		start: time.Now(),
		stop: func(status string, d time.Duration) {
			metrics.RecordBridgeCall(method, status, d)
		},
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) time.Duration {
	d := time.Since(t.start)
	t.stop(status, d)
	return d
}

// StatusOf maps an error to the status label used by Stop.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
