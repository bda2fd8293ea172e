package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/cache"
	"github.com/nhle/notifyhub/internal/telemetry"
)

const tracerName = "notifyhub/ai"

// KeyResolver yields the API key stored for a service.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, serviceID string) (string, error)
}

// GlobalKeySource yields the API key used when a request names no service.
type GlobalKeySource interface {
	GlobalAPIKey() (string, error)
}

// Request is the input of analyze, generate and search. An explicit
// APIKey wins over ServiceID, which wins over the global key.
type Request struct {
	Content   string `json:"content"`
	ServiceID string `json:"serviceId,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
}

// Config wires the backends of a Router.
type Config struct {
	Local         Backend
	Remote        Backend
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration

	// FallbackEnabled allows one remote attempt after a local failure.
	// With a Searcher configured, a failed web search falls back once to
	// the local model instead.
	FallbackEnabled bool

	// Search serves search requests from the web when set.
	Search        Searcher
	SearchTimeout time.Duration
}

// Router dispatches AI requests. Identical concurrent misses share one
// dispatch, which runs to completion and fills the cache even when every
// caller has given up.
type Router struct {
	cfg    Config
	cache  cache.Cache
	keys   KeyResolver
	global GlobalKeySource
	flight singleflight.Group
	tracer trace.Tracer
	logger *zap.Logger
}

// NewRouter creates a router. keys may be nil when no request carries a
// service id.
func NewRouter(
	cfg Config,
	c cache.Cache,
	keys KeyResolver,
	global GlobalKeySource,
	logger *zap.Logger,
) *Router {
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = 30 * time.Second
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 60 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 15 * time.Second
	}
	return &Router{
		cfg:    cfg,
		cache:  c,
		keys:   keys,
		global: global,
		tracer: otel.Tracer(tracerName),
		logger: logger.Named("ai"),
	}
}

// SetTracer replaces the tracer taken from the global provider.
func (r *Router) SetTracer(t trace.Tracer) {
	r.tracer = t
}

// Analyze classifies content into a structured verdict.
func (r *Router) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	return route[Analysis](ctx, r, KindAnalyze, req, r.models(KindAnalyze, encoder(parseAnalysis)))
}

// Generate drafts a response to content.
func (r *Router) Generate(ctx context.Context, req Request) (*string, error) {
	return route[string](ctx, r, KindGenerate, req, r.models(KindGenerate, encoder(parseGeneration)))
}

// Search returns resources relevant to the query in req.Content: web
// results when a Searcher is configured, model suggestions otherwise.
func (r *Router) Search(ctx context.Context, req Request) ([]SearchResult, error) {
	run := r.models(KindSearch, encoder(parseSearch))
	if r.cfg.Search != nil {
		run = r.dispatchSearch
	}
	results, err := route[[]SearchResult](ctx, r, KindSearch, req, run)
	if err != nil {
		return nil, err
	}
	return *results, nil
}

// dispatchFunc produces the encoded response for content on a cache miss.
type dispatchFunc func(ctx context.Context, content, apiKey string) ([]byte, error)

func encoder[T any](parse func(string) (T, error)) func(string) ([]byte, error) {
	return func(text string) ([]byte, error) {
		v, err := parse(text)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}
}

// models dispatches kind to the model backends.
func (r *Router) models(kind Kind, encode func(string) ([]byte, error)) dispatchFunc {
	return func(ctx context.Context, content, apiKey string) ([]byte, error) {
		return r.dispatch(ctx, promptFor(kind, content), apiKey, encode)
	}
}

func route[T any](
	ctx context.Context,
	r *Router,
	kind Kind,
	req Request,
	run dispatchFunc,
) (*T, error) {
	ctx, span := r.tracer.Start(ctx, "ai."+string(kind),
		trace.WithAttributes(attribute.String(telemetry.RequestKindKey, string(kind))))
	defer span.End()

	raw, err := r.fetch(ctx, span, kind, req, run)
	if err != nil {
		telemetry.SetError(span, err)
		return nil, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding cached %s response: %w", kind, err)
	}
	return &out, nil
}

// fetch serves req from the cache or through a shared dispatch.
func (r *Router) fetch(
	ctx context.Context,
	span trace.Span,
	kind Kind,
	req Request,
	run dispatchFunc,
) ([]byte, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		field := "content"
		if kind == KindSearch {
			field = "query"
		}
		return nil, apperr.Validation(field, "must not be empty")
	}

	apiKey, scope, err := r.resolveKey(ctx, req)
	if err != nil {
		return nil, err
	}

	key := cache.Key(string(kind), content, scope)
	cached, hit, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache read failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	span.SetAttributes(attribute.Bool(telemetry.CacheHitKey, hit))
	if hit {
		return cached, nil
	}

	ch := r.flight.DoChan(key, func() (any, error) {
		dctx := context.WithoutCancel(ctx)
		out, err := run(dctx, content, apiKey)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Put(dctx, key, out, ttlClass(kind)); err != nil {
			r.logger.Warn("cache write failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func ttlClass(kind Kind) cache.TTLClass {
	if kind == KindSearch {
		return cache.TTLLong
	}
	return cache.TTLShort
}

// resolveKey returns the key to send upstream and the scope it is cached
// under.
func (r *Router) resolveKey(ctx context.Context, req Request) (string, string, error) {
	if req.APIKey != "" {
		sum := sha256.Sum256([]byte(req.APIKey))
		return req.APIKey, "key:" + hex.EncodeToString(sum[:8]), nil
	}
	if req.ServiceID != "" {
		if r.keys == nil {
			return "", "", &apperr.AuthError{ServiceID: req.ServiceID, Message: "service keys are unavailable"}
		}
		key, err := r.keys.ResolveAPIKey(ctx, req.ServiceID)
		if err != nil {
			return "", "", err
		}
		return key, "service:" + req.ServiceID, nil
	}
	if r.global == nil {
		return "", "global", nil
	}
	key, err := r.global.GlobalAPIKey()
	if err != nil {
		return "", "", fmt.Errorf("loading global API key: %w", err)
	}
	return key, "global", nil
}

// dispatch tries the local backend and, if allowed, the remote backend
// exactly once.
func (r *Router) dispatch(
	ctx context.Context,
	p Prompt,
	apiKey string,
	encode func(string) ([]byte, error),
) ([]byte, error) {
	var failures []apperr.BackendFailure

	out, err := r.attempt(ctx, r.cfg.Local, r.cfg.LocalTimeout, p, apiKey, encode)
	if err == nil {
		return out, nil
	}
	failures = append(failures, backendFailure(r.cfg.Local.Name(), err))

	if r.cfg.FallbackEnabled && r.cfg.Remote != nil {
		r.logger.Info("falling back to remote backend", zap.Error(err))

		out, err = r.attempt(ctx, r.cfg.Remote, r.cfg.RemoteTimeout, p, apiKey, encode)
		if err == nil {
			return out, nil
		}
		failures = append(failures, backendFailure(r.cfg.Remote.Name(), err))
	}

	r.logger.Warn("all backends failed", zap.Any("failures", failures))
	return nil, &apperr.ServiceError{Failures: failures}
}

// dispatchSearch tries the web searcher and, if allowed, the local model
// exactly once.
func (r *Router) dispatchSearch(ctx context.Context, content, apiKey string) ([]byte, error) {
	var failures []apperr.BackendFailure

	out, err := r.searchAttempt(ctx, content)
	if err == nil {
		return out, nil
	}
	failures = append(failures, backendFailure(r.cfg.Search.Name(), err))

	if r.cfg.FallbackEnabled && r.cfg.Local != nil {
		r.logger.Info("falling back to model search", zap.Error(err))

		out, err = r.attempt(ctx, r.cfg.Local, r.cfg.LocalTimeout,
			promptFor(KindSearch, content), apiKey, encoder(parseSearch))
		if err == nil {
			return out, nil
		}
		failures = append(failures, backendFailure(r.cfg.Local.Name(), err))
	}

	r.logger.Warn("all search backends failed", zap.Any("failures", failures))
	return nil, &apperr.ServiceError{Failures: failures}
}

func (r *Router) searchAttempt(ctx context.Context, query string) ([]byte, error) {
	s := r.cfg.Search
	ctx, span := r.tracer.Start(ctx, "ai.attempt",
		trace.WithAttributes(attribute.String(telemetry.BackendKey, s.Name())))
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	results, err := s.Search(sctx, query)
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", r.cfg.SearchTimeout)
		}
		telemetry.SetError(span, err)
		return nil, err
	}
	return json.Marshal(results)
}

func backendFailure(name string, err error) apperr.BackendFailure {
	return apperr.BackendFailure{Backend: name, Reason: err.Error(), Auth: isCredentialFailure(err)}
}

func (r *Router) attempt(
	ctx context.Context,
	b Backend,
	timeout time.Duration,
	p Prompt,
	apiKey string,
	encode func(string) ([]byte, error),
) ([]byte, error) {
	ctx, span := r.tracer.Start(ctx, "ai.attempt",
		trace.WithAttributes(attribute.String(telemetry.BackendKey, b.Name())))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := b.Complete(actx, p, apiKey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", timeout)
		}
		telemetry.SetError(span, err)
		return nil, err
	}

	out, err := encode(text)
	if err != nil {
		telemetry.SetError(span, err)
		return nil, err
	}
	return out, nil
}

// BackendHealth reports the reachability of one backend.
type BackendHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health summarizes the router's backends.
type Health struct {
	Status          string         `json:"status"`
	Local           BackendHealth  `json:"local"`
	Remote          *BackendHealth `json:"remote,omitempty"`
	FallbackEnabled bool           `json:"fallbackEnabled"`
}

// Health probes the backends that support it. Backends without a probe
// are reported healthy.
func (r *Router) Health(ctx context.Context) Health {
	h := Health{
		Status:          "ok",
		Local:           r.probe(ctx, r.cfg.Local, r.cfg.LocalTimeout),
		FallbackEnabled: r.cfg.FallbackEnabled,
	}
	if r.cfg.Remote != nil {
		remote := r.probe(ctx, r.cfg.Remote, r.cfg.RemoteTimeout)
		h.Remote = &remote
	}

	remoteUsable := h.Remote != nil && h.Remote.Healthy && r.cfg.FallbackEnabled
	if !h.Local.Healthy && !remoteUsable {
		h.Status = "unavailable"
	} else if !h.Local.Healthy {
		h.Status = "degraded"
	}
	return h
}

func (r *Router) probe(ctx context.Context, b Backend, timeout time.Duration) BackendHealth {
	out := BackendHealth{Name: b.Name(), Healthy: true}
	pinger, ok := b.(Pinger)
	if !ok {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		out.Healthy = false
		out.Error = err.Error()
	}
	return out
}

// Envelope is the uniform result of an AI request. Callers branch on
// Success, never on the shape of Response.
type Envelope[T any] struct {
	Success  bool   `json:"success"`
	Response *T     `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Wrap builds the envelope for a result and its error.
func Wrap[T any](v *T, err error) Envelope[T] {
	if err != nil {
		return Envelope[T]{Error: err.Error()}
	}
	return Envelope[T]{Success: true, Response: v}
}
