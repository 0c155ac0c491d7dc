package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/admincore/admincore/internal/alert"
	"github.com/admincore/admincore/internal/auth"
	"github.com/admincore/admincore/internal/gateway"
	"github.com/admincore/admincore/internal/pkg/logger"
)

// rejection is the error envelope written for denied requests. Shape matches
// the rest package's APIError; rate-limited rejections additionally carry the
// window counters so the client can see how far over budget it is.
type rejection struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	RequestID       string `json:"request_id,omitempty"`
	CurrentRequests int64  `json:"current_requests,omitempty"`
	MaxRequests     int64  `json:"max_requests,omitempty"`
	ResetTime       string `json:"reset_time,omitempty"`
}

// Admission runs every request through the security gateway before the
// handler, and feeds the response status back for failed-login accounting and
// API latency sampling.
func Admission(g *gateway.Gateway, latency *alert.LatencyWindow) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := GatewayRequest(r)
			d := g.Admit(r.Context(), req)
			setDecision(r.Context(), string(d.Code))
			if !d.Allowed() {
				writeRejection(w, r, d)
				return
			}

			setRateLimitHeaders(w, d)

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			g.Observe(r.Context(), req, rw.status)
			if latency != nil {
				latency.Observe(time.Now(), time.Since(start))
			}
		})
	}
}

// GatewayRequest projects an HTTP request onto the gateway's view of it.
// Form parameters are read only for urlencoded bodies so JSON bodies are not
// consumed before the handler sees them.
func GatewayRequest(r *http.Request) *gateway.Request {
	form := url.Values{}
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			form = r.PostForm
		}
	}
	bodySize := r.ContentLength
	if bodySize < 0 {
		bodySize = 0
	}
	req := &gateway.Request{
		Method:       r.Method,
		Path:         r.URL.Path,
		Query:        r.URL.Query(),
		Form:         form,
		BodySize:     bodySize,
		UserAgent:    r.UserAgent(),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RemoteAddr:   r.RemoteAddr,
		APIKey:       r.Header.Get("X-API-Key"),
	}
	req.EndpointID = r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			req.EndpointID = tpl
		}
	}
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		req.UserID = claims.UserID
		req.Email = claims.Email
	}
	return req
}

func writeRejection(w http.ResponseWriter, r *http.Request, d gateway.Decision) {
	retryAfter := d.RetryAfter
	if d.Code == gateway.CodeRateLimited && !d.ResetTime.IsZero() {
		retryAfter = time.Until(d.ResetTime)
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.HTTPStatus())
	body := rejection{
		Error:     d.Message,
		Code:      string(d.Code),
		Message:   d.Message,
		RequestID: logger.FromContext(r.Context()),
	}
	if d.Code == gateway.CodeRateLimited {
		body.CurrentRequests = d.CurrentRequests
		body.MaxRequests = d.MaxRequests
		body.ResetTime = d.ResetTime.UTC().Format(time.RFC3339)
	}
	_ = json.NewEncoder(w).Encode(body)
}

// setRateLimitHeaders advertises the tightest remaining budget on allowed
// responses. Decisions with no matching rule carry Remaining == -1.
func setRateLimitHeaders(w http.ResponseWriter, d gateway.Decision) {
	if d.Remaining < 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.MaxRequests, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
	}
}
