package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	logx "kioskd/pkg/logx"
)

// limiter is a process-wide token bucket. perSec <= 0 disables it.
type limiter struct {
	mu sync.RWMutex
	rl *rate.Limiter
}

func newLimiter(perSec, burst int) *limiter {
	l := &limiter{}
	l.set(perSec, burst)
	return l
}

func (l *limiter) set(perSec, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perSec <= 0 {
		l.rl = nil
		return
	}
	if burst <= 0 {
		burst = perSec
	}
	if l.rl == nil {
		l.rl = rate.NewLimiter(rate.Limit(perSec), burst)
		return
	}
	l.rl.SetLimit(rate.Limit(perSec))
	l.rl.SetBurst(burst)
}

func (l *limiter) allow() bool {
	l.mu.RLock()
	rl := l.rl
	l.mu.RUnlock()
	return rl == nil || rl.Allow()
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logx.Field{
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("took", time.Since(start)),
				logx.String("remote", r.RemoteAddr),
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				fields = append(fields, logx.String("request_id", id))
			}
			if status >= http.StatusInternalServerError {
				log.Warn("http request", fields...)
				return
			}
			log.Debug("http request", fields...)
		})
	}
}
