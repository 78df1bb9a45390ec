package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

// Route binds a backend to its model fallback chain.
type Route struct {
	Backend Backend
	// Fallback enables retrying with other models on retriable errors.
	Fallback bool
	// DefaultModels are known-good models tried right after the requested one.
	DefaultModels []string
	// Models are the remaining available models, tried last.
	Models []string
}

// Router picks a chat backend by name from a fixed set.
type Router struct {
	routes          map[string]Route
	defaultProvider string
	logger          *zap.Logger
}

// New creates a router. defaultProvider serves requests that name no provider.
func New(defaultProvider string, logger *zap.Logger, routes ...Route) *Router {
	r := &Router{
		routes:          make(map[string]Route, len(routes)),
		defaultProvider: defaultProvider,
		logger:          logger,
	}
	for _, rt := range routes {
		r.routes[rt.Backend.Name()] = rt
	}
	return r
}

// Providers returns the configured backend names, sorted.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultProvider returns the backend used when a request names none.
func (r *Router) DefaultProvider() string { return r.defaultProvider }

// Complete routes req to its backend. On backends with a fallback chain,
// retriable failures and unknown models move on to the next candidate model.
func (r *Router) Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	provider := req.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	rt, ok := r.routes[provider]
	if !ok {
		return domain.ChatResponse{}, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, provider)
	}

	if !rt.Fallback {
		resp, err := rt.Backend.Complete(ctx, req.Model, req)
		r.observe(provider, resp, err)
		return resp, err
	}

	requested := req.Model
	if requested == "" {
		requested = rt.Backend.DefaultModel()
	}
	candidates := Candidates(requested, rt.DefaultModels, rt.Models)

	var lastErr error
	for i, model := range candidates {
		resp, err := rt.Backend.Complete(ctx, model, req)
		if err == nil {
			if i > 0 {
				r.logger.Info("model fallback succeeded",
					zap.String("provider", provider),
					zap.String("requested", requested),
					zap.String("model", model),
					zap.Int("attempt", i+1),
				)
			}
			r.observe(provider, resp, nil)
			return resp, nil
		}
		lastErr = err

		if !(IsRetriable(err) || IsModelUnavailable(err)) || ctx.Err() != nil {
			r.observe(provider, resp, err)
			return domain.ChatResponse{}, err
		}
		metrics.ChatModelFallbacksTotal.WithLabelValues(provider, model).Inc()
		r.logger.Warn("model failed, trying next",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.Int("attempt", i+1),
			zap.Int("candidates", len(candidates)),
			zap.Error(err),
		)
	}

	err := fmt.Errorf("%w (%d tried): %w", domain.ErrAllModelsFailed, len(candidates), lastErr)
	r.observe(provider, domain.ChatResponse{}, err)
	return domain.ChatResponse{}, err
}

func (r *Router) observe(provider string, resp domain.ChatResponse, err error) {
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(provider, "error").Inc()
		return
	}
	metrics.ChatRequestsTotal.WithLabelValues(provider, "ok").Inc()
	metrics.ChatTokensTotal.WithLabelValues(provider, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.ChatTokensTotal.WithLabelValues(provider, "completion").Add(float64(resp.Usage.CompletionTokens))
}

// Candidates builds the deduplicated preference order: requested model,
// then known-good defaults, then every other available model.
func Candidates(requested string, defaults, available []string) []string {
	out := make([]string, 0, 1+len(defaults)+len(available))
	seen := make(map[string]bool, cap(out))
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}
	add(requested)
	for _, m := range defaults {
		add(m)
	}
	for _, m := range available {
		add(m)
	}
	return out
}

var retriableMarkers = []string{"quota", "rate limit", "rate_limit", "overloaded", "unavailable", "timeout", "timed out"}

// IsRetriable reports whether another model may succeed where this one failed:
// HTTP 429 and 5xx, timeouts, and quota-style messages.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrMissingCredentials) || errors.Is(err, domain.ErrInvalidRequest) {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if isAuthStatus(pe.StatusCode) {
			return false
		}
		if pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= http.StatusInternalServerError {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retriableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var modelUnavailableMarkers = []string{"not found", "does not exist", "no such model", "unknown model", "model_not_found"}

// IsModelUnavailable reports whether err says the requested model does not
// exist or is not served: HTTP 404 or a not-found message. Auth failures,
// missing credentials and invalid requests are never treated as such.
func IsModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrMissingCredentials) || errors.Is(err, domain.ErrInvalidRequest) {
		return false
	}

	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if isAuthStatus(pe.StatusCode) {
			return false
		}
		if pe.StatusCode == http.StatusNotFound {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range modelUnavailableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
