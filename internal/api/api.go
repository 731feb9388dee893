// Package api exposes the sync engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"chatsync/pkg/engine"
	"chatsync/pkg/hub"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/router"
)

// Engine is the part of the sync engine the API drives.
type Engine interface {
	Channels() ([]models.Channel, error)
	CreateChannel(ctx context.Context, name string) (models.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	Messages(channelID string) ([]models.Message, error)
	Send(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error)
	Observe(channelID string, fn func([]models.Message)) (*hub.Handle, error)
	State(channelID string) engine.State
	RefCount(channelID string) int
}

type Options struct {
	RateRPS        float64
	RateBurst      int
	RequestTimeout time.Duration
	SenderID       string
	SenderName     string
}

type API struct {
	eng     Engine
	opts    Options
	limiter *limiterPool

	mu    sync.Mutex
	holds map[string]*hub.Handle
}

func New(eng Engine, opts Options) *API {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	a := &API{eng: eng, opts: opts, holds: make(map[string]*hub.Handle)}
	if opts.RateRPS > 0 {
		a.limiter = newLimiterPool(opts.RateRPS, opts.RateBurst)
	}
	return a
}

// RegisterRoutes wires all API routes onto r.
func (a *API) RegisterRoutes(r *router.Router) {
	if a.limiter != nil {
		r.Use(a.limiter.middleware())
	}

	r.GET("/v1/channels", a.listChannels)
	r.POST("/v1/channels", a.createChannel)
	r.DELETE("/v1/channels/{id}", a.deleteChannel)

	r.GET("/v1/channels/{id}/messages", a.listMessages)
	r.POST("/v1/channels/{id}/messages", a.sendMessage)

	r.POST("/v1/channels/{id}/subscription", a.hold)
	r.DELETE("/v1/channels/{id}/subscription", a.release)

	r.GET("/admin/metrics", wrapHTTPHandler(metrics.Handler()))
}

// Close releases every daemon-side observer.
func (a *API) Close() {
	a.mu.Lock()
	holds := a.holds
	a.holds = make(map[string]*hub.Handle)
	a.mu.Unlock()
	for _, h := range holds {
		h.Release()
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
}

func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

func (a *API) listChannels(ctx *fasthttp.RequestCtx) {
	chs, err := a.eng.Channels()
	if err != nil {
		writeError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"channels": chs})
}

func (a *API) createChannel(ctx *fasthttp.RequestCtx) {
	var body struct {
		Name string `json:"name"`
	}
	if err := router.DecodeJSON(ctx, &body); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid json body")
		return
	}
	rctx, cancel := a.requestContext()
	defer cancel()
	ch, err := a.eng.CreateChannel(rctx, body.Name)
	if err != nil {
		writeError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusCreated, ch)
}

func (a *API) deleteChannel(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	rctx, cancel := a.requestContext()
	defer cancel()
	if err := a.eng.DeleteChannel(rctx, id); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *API) listMessages(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	if err := models.ValidateID(id); err != nil {
		writeError(ctx, err)
		return
	}
	msgs, err := a.eng.Messages(id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"channel_id": id,
		"state":      a.eng.State(id).String(),
		"messages":   msgs,
	})
}

func (a *API) sendMessage(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	var body struct {
		Content    string `json:"content"`
		SenderID   string `json:"sender_id"`
		SenderName string `json:"sender_name"`
	}
	if err := router.DecodeJSON(ctx, &body); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid json body")
		return
	}
	if body.SenderID == "" {
		body.SenderID = a.opts.SenderID
	}
	if body.SenderName == "" {
		body.SenderName = a.opts.SenderName
	}
	rctx, cancel := a.requestContext()
	defer cancel()
	msg, err := a.eng.Send(rctx, id, body.Content, body.SenderID, body.SenderName)
	if err != nil {
		writeError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusCreated, msg)
}

func (a *API) hold(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	a.mu.Lock()
	_, held := a.holds[id]
	a.mu.Unlock()
	status := fasthttp.StatusOK
	if !held {
		h, err := a.eng.Observe(id, func([]models.Message) {})
		if err != nil {
			writeError(ctx, err)
			return
		}
		a.mu.Lock()
		if _, dup := a.holds[id]; dup {
			a.mu.Unlock()
			h.Release()
		} else {
			a.holds[id] = h
			a.mu.Unlock()
			status = fasthttp.StatusCreated
			logger.Info("api_subscription_held", "channel", id)
		}
	}
	router.WriteJSON(ctx, status, map[string]interface{}{
		"channel_id": id,
		"state":      a.eng.State(id).String(),
		"refs":       a.eng.RefCount(id),
	})
}

func (a *API) release(ctx *fasthttp.RequestCtx) {
	id := router.Param(ctx, "id")
	a.mu.Lock()
	h, ok := a.holds[id]
	delete(a.holds, id)
	a.mu.Unlock()
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "no subscription held")
		return
	}
	h.Release()
	logger.Info("api_subscription_released", "channel", id)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalidID),
		errors.Is(err, models.ErrInvalidName),
		errors.Is(err, models.ErrInvalidContent):
		status = fasthttp.StatusBadRequest
	case errors.Is(err, remote.ErrChannelNotFound):
		status = fasthttp.StatusNotFound
	case errors.Is(err, remote.ErrRemoteUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status = fasthttp.StatusServiceUnavailable
	case errors.Is(err, engine.ErrNotSupported):
		status = fasthttp.StatusNotImplemented
	case errors.Is(err, engine.ErrClosed):
		status = fasthttp.StatusServiceUnavailable
	}
	if status >= 500 {
		logger.Warn("api_request_failed", "path", string(ctx.Path()), "status", status, "error", err)
	}
	router.WriteJSONError(ctx, status, err.Error())
}

func (a *API) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.opts.RequestTimeout)
}
