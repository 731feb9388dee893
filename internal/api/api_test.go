package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"chatsync/pkg/engine"
	"chatsync/pkg/remote/memlog"
	"chatsync/pkg/router"
	"chatsync/pkg/store"
)

type testServer struct {
	client *fasthttp.Client
	log    *memlog.Log
	eng    *engine.Engine
	api    *API
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	log := memlog.New()
	eng := engine.New(log, st)
	require.NoError(t, eng.Start(context.Background()))

	a := New(eng, opts)
	r := router.New()
	a.RegisterRoutes(r)

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: r.Handler()}
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		a.Close()
		_ = srv.Shutdown()
		_ = eng.Close()
		_ = st.Close()
	})
	return &testServer{
		client: &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }},
		log:    log,
		eng:    eng,
		api:    a,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://chatsync" + path)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	require.NoError(t, s.client.Do(req, resp))

	var out map[string]interface{}
	if len(resp.Body()) > 0 && string(resp.Header.ContentType()) == "application/json" {
		require.NoError(t, json.Unmarshal(resp.Body(), &out))
	}
	return resp.StatusCode(), out
}

func TestCreateAndListChannels(t *testing.T) {
	s := newTestServer(t, Options{})

	status, body := s.do(t, "POST", "/v1/channels", `{"name":"general"}`)
	require.Equal(t, fasthttp.StatusCreated, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		status, body := s.do(t, "GET", "/v1/channels", "")
		chs, _ := body["channels"].([]interface{})
		return status == fasthttp.StatusOK && len(chs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateChannelValidation(t *testing.T) {
	s := newTestServer(t, Options{})

	status, _ := s.do(t, "POST", "/v1/channels", `{"name":"  "}`)
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	status, _ = s.do(t, "POST", "/v1/channels", `{not json`)
	assert.Equal(t, fasthttp.StatusBadRequest, status)
}

func TestSendAndReadMessages(t *testing.T) {
	s := newTestServer(t, Options{SenderID: "daemon", SenderName: "Daemon"})
	ch, err := s.log.CreateChannel(context.Background(), "general")
	require.NoError(t, err)

	status, _ := s.do(t, "POST", "/v1/channels/"+ch.ID+"/subscription", "")
	require.Equal(t, fasthttp.StatusCreated, status)
	status, _ = s.do(t, "POST", "/v1/channels/"+ch.ID+"/subscription", "")
	assert.Equal(t, fasthttp.StatusOK, status, "second hold is a no-op")
	assert.Equal(t, 1, s.eng.RefCount(ch.ID))

	status, body := s.do(t, "POST", "/v1/channels/"+ch.ID+"/messages", `{"content":"hello"}`)
	require.Equal(t, fasthttp.StatusCreated, status)
	assert.Equal(t, "daemon", body["senderId"])
	assert.Equal(t, "Daemon", body["senderName"])

	assert.Eventually(t, func() bool {
		_, body := s.do(t, "GET", "/v1/channels/"+ch.ID+"/messages", "")
		msgs, _ := body["messages"].([]interface{})
		return len(msgs) == 1 && body["state"] == engine.Live.String()
	}, 2*time.Second, 10*time.Millisecond)

	status, _ = s.do(t, "DELETE", "/v1/channels/"+ch.ID+"/subscription", "")
	assert.Equal(t, fasthttp.StatusNoContent, status)
	assert.Equal(t, engine.Unsubscribed, s.eng.State(ch.ID))

	status, _ = s.do(t, "DELETE", "/v1/channels/"+ch.ID+"/subscription", "")
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestSendErrors(t *testing.T) {
	s := newTestServer(t, Options{})
	ch, err := s.log.CreateChannel(context.Background(), "general")
	require.NoError(t, err)

	status, _ := s.do(t, "POST", "/v1/channels/"+ch.ID+"/messages", `{"content":""}`)
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	status, _ = s.do(t, "POST", "/v1/channels/missing/messages", `{"content":"hi"}`)
	assert.Equal(t, fasthttp.StatusNotFound, status)

	s.log.SetOffline(true)
	status, body := s.do(t, "POST", "/v1/channels/"+ch.ID+"/messages", `{"content":"hi"}`)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, status)
	assert.NotEmpty(t, body["error"])
}

func TestDeleteChannel(t *testing.T) {
	s := newTestServer(t, Options{})
	ch, err := s.log.CreateChannel(context.Background(), "general")
	require.NoError(t, err)

	status, _ := s.do(t, "DELETE", "/v1/channels/"+ch.ID, "")
	assert.Equal(t, fasthttp.StatusNoContent, status)

	status, _ = s.do(t, "DELETE", "/v1/channels/"+ch.ID, "")
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestInvalidChannelID(t *testing.T) {
	s := newTestServer(t, Options{})
	status, _ := s.do(t, "GET", "/v1/channels/a:b/messages", "")
	assert.Equal(t, fasthttp.StatusBadRequest, status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://chatsync/admin/metrics")
	require.NoError(t, s.client.Do(req, resp))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "chatsync_")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateRPS: 0.001, RateBurst: 2})
	var codes []int
	for i := 0; i < 3; i++ {
		status, _ := s.do(t, "GET", "/v1/channels", "")
		codes = append(codes, status)
	}
	assert.Equal(t, []int{200, 200, 429}, codes, fmt.Sprint(codes))
}

func TestLimiterPoolCleanup(t *testing.T) {
	p := newLimiterPool(1, 1)
	defer p.Close()
	p.ttl = time.Minute
	p.period = 10 * time.Millisecond
	assert.True(t, p.Allow("a"))
	assert.False(t, p.Allow("a"))

	p.mu.Lock()
	p.m["a"].lastSeen = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.m) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
