package notifications

import (
	"context"
	"strings"
	"sync"
	"time"

	"tally/internal/observability"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
)

// Delivery is the path a routed event took.
type Delivery string

const (
	DeliveryLive      Delivery = "live"
	DeliveryPush      Delivery = "push"
	DeliveryDropped   Delivery = "dropped"
	DeliveryDuplicate Delivery = "duplicate"
)

const (
	defaultDedupeWindow = 2 * time.Second
	defaultPushTimeout  = 5 * time.Second
)

// TokenSource returns the push device token of an identity, or "".
type TokenSource func(ctx context.Context, identity string) string

// RouterConfig tunes an EventRouter.
type RouterConfig struct {
	// DedupeWindow suppresses repeats of the same (type, target, entity).
	DedupeWindow time.Duration
	PushTimeout  time.Duration
}

// EventRouter delivers events to their target: over the live channel when
// the target is online, else as a push when a device token is known, else
// nowhere. Nothing is queued or retried, and Route never fails the caller.
type EventRouter struct {
	presence    *PresenceRegistry
	push        PushDispatcher
	tokens      TokenSource
	recent      *gocache.Cache
	window      time.Duration
	pushTimeout time.Duration
	log         *observability.WSLogger
	inflight    sync.WaitGroup
}

// NewEventRouter creates a router over presence. push and tokens may be
// nil, in which case offline targets are dropped.
func NewEventRouter(presence *PresenceRegistry, push PushDispatcher, tokens TokenSource, cfg RouterConfig) *EventRouter {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = defaultDedupeWindow
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	return &EventRouter{
		presence:    presence,
		push:        push,
		tokens:      tokens,
		recent:      gocache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow),
		window:      cfg.DedupeWindow,
		pushTimeout: cfg.PushTimeout,
		log:         observability.NewWSLogger("router"),
	}
}

// Route delivers ev and reports how.
func (r *EventRouter) Route(ctx context.Context, ev Event) Delivery {
	ctx, span := observability.TraceEventRoute(ctx, string(ev.Type), ev.Target)
	delivery := r.route(ctx, ev)
	span.SetAttributes(attribute.String("event.delivery", string(delivery)))
	observability.EndSpan(span, nil)
	observability.EventsRouted.WithLabelValues(string(ev.Type), string(delivery)).Inc()
	return delivery
}

func (r *EventRouter) route(ctx context.Context, ev Event) Delivery {
	if ev.Target == "" || !ev.Type.Valid() {
		return DeliveryDropped
	}
	if ev.EntityID != "" {
		key := strings.Join([]string{string(ev.Type), ev.Target, ev.EntityID}, "|")
		if err := r.recent.Add(key, struct{}{}, r.window); err != nil {
			return DeliveryDuplicate
		}
	}

	if ch, ok := r.presence.Lookup(ev.Target); ok {
		msg, err := ev.Message()
		if err != nil {
			r.log.LogError(ctx, ev.Target, err, string(ev.Type))
			return DeliveryDropped
		}
		if ch.Send(msg) {
			r.log.LogMessage(ctx, ev.Target, string(ev.Type))
			return DeliveryLive
		}
		// channel closing or saturated, try push instead
	}

	if r.push == nil {
		return DeliveryDropped
	}
	token := ev.DeviceToken
	if token == "" && r.tokens != nil {
		token = r.tokens(ctx, ev.Target)
	}
	if token == "" {
		return DeliveryDropped
	}

	n := BuildPush(ev, token)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pushTimeout)
		defer cancel()
		if err := r.push.Dispatch(pctx, n); err != nil {
			observability.PushFailures.Inc()
			observability.LogAsyncOperationError(pctx, "push_dispatch", err, map[string]interface{}{
				"event_type": string(ev.Type),
				"target":     ev.Target,
			})
		}
	}()
	return DeliveryPush
}

// Wait blocks until in-flight push dispatches have finished.
func (r *EventRouter) Wait() {
	r.inflight.Wait()
}
