package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// transport logs every backend request and feeds the request metrics.
type transport struct {
	next    http.RoundTripper
	metrics *metrics
	logger  zerolog.Logger
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.metrics != nil {
		t.metrics.inFlight.Inc()
		defer t.metrics.inFlight.Dec()
	}

	start := time.Now()
	res, err := t.next.RoundTrip(r)
	duration := time.Since(start)

	status := "error"
	if err == nil {
		status = strconv.Itoa(res.StatusCode)
	}
	if t.metrics != nil {
		t.metrics.observe(r.Method, r.URL.Path, status, duration.Seconds())
	}

	level := zerolog.DebugLevel
	if err != nil || res.StatusCode >= 400 {
		level = zerolog.WarnLevel
	}
	t.logger.WithLevel(level).
		Err(err).
		Str("method", r.Method).
		Str("uri", sanitizePath(r.URL.Path)).
		Str("status", status).
		Dur("duration", duration).
		Str("request_id", r.Header.Get("X-Request-ID")).
		Msg("backend request")

	return res, err
}
