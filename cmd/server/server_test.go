package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/VoxCart/internal/testaudio"
	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/stt"
)

// Thresholds far outside any real score; the DTOs echo them, so they stay finite.
const (
	acceptAll = -1e9
	rejectAll = 1e9
)

type testServer struct {
	*httptest.Server
	service voxcart.Service
	hub     *Hub
}

func newTestServer(t *testing.T, threshold float64) *testServer {
	t.Helper()
	dir := t.TempDir()
	hub := NewHub(logger.GetLogger())
	metrics := voxcart.NewMetrics()

	service, err := voxcart.NewService(
		voxcart.WithDBPath(filepath.Join(dir, "voxcart.sqlite3")),
		voxcart.WithTempDir(dir),
		voxcart.WithThreshold(threshold),
		voxcart.WithMetrics(metrics),
		voxcart.WithFeedback(hub),
	)
	require.NoError(t, err)

	server := NewServer(service, &ServerConfig{
		DBPath:         filepath.Join(dir, "voxcart.sqlite3"),
		TempDir:        dir,
		SampleRate:     16000,
		Threshold:      threshold,
		AllowedOrigins: []string{"*"},
	}, hub, metrics)
	handler, err := server.setupRoutes()
	require.NoError(t, err)

	ts := &testServer{Server: httptest.NewServer(handler), service: service, hub: hub}
	t.Cleanup(func() {
		ts.Close()
		service.Close()
	})
	return ts
}

func (ts *testServer) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) postAudio(t *testing.T, path string, fields map[string]string, wav []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("audio", "sample.wav")
	require.NoError(t, err)
	_, err = part.Write(wav)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// register enrolls username over HTTP and returns the authenticated session
func (ts *testServer) register(t *testing.T, username, access string) string {
	t.Helper()
	resp := ts.postJSON(t, "/api/register", RegisterRequest{Username: username, AccessLevel: access})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reply ReplyResponse
	decodeBody(t, resp, &reply)
	require.Equal(t, "enrolling", reply.Session.State)
	id := reply.Session.ID

	for seed := int64(1); seed <= 3; seed++ {
		wav := testaudio.WAVBytes(t, testaudio.Low.Clip(1, seed))
		resp = ts.postAudio(t, "/api/register/voice", map[string]string{"session_id": id}, wav)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &reply)
	}
	require.Equal(t, "authenticated", reply.Session.State)
	return id
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	var stats StatsResponse
	decodeBody(t, resp, &stats)
	assert.Equal(t, "healthy", stats.Status)
	assert.Equal(t, 5, stats.Products)
	assert.Equal(t, 0, stats.Users)
}

func TestRegisterAndShop(t *testing.T) {
	ts := newTestServer(t, acceptAll)
	id := ts.register(t, "ana", "")

	resp := ts.postJSON(t, "/api/voice-command", CommandRequest{SessionID: id, Text: "comprar dois arroz"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply ReplyResponse
	decodeBody(t, resp, &reply)
	assert.Equal(t, "add_to_cart", reply.Intent)
	require.NotNil(t, reply.Total)
	assert.True(t, decimal.RequireFromString("11.98").Equal(*reply.Total), "total %s", reply.Total)
	assert.NotEmpty(t, reply.Messages)

	resp, err := http.Get(ts.URL + "/api/cart?session_id=" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cart CartResponse
	decodeBody(t, resp, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	resp = ts.postJSON(t, "/api/cart/add", CartItemRequest{SessionID: id, Product: "café"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &reply)
	assert.Len(t, reply.Cart, 2)

	resp = ts.postJSON(t, "/api/cart/remove", CartItemRequest{SessionID: id, Product: "café"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &reply)
	assert.Len(t, reply.Cart, 1)

	resp = ts.postJSON(t, "/api/checkout", SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &reply)
	require.NotNil(t, reply.Sale)
	assert.True(t, decimal.RequireFromString("11.98").Equal(reply.Sale.Total))

	resp = ts.postJSON(t, "/api/checkout", SessionRequest{SessionID: id})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/sales?username=ana")
	require.NoError(t, err)
	var sales ListSalesResponse
	decodeBody(t, resp, &sales)
	assert.Equal(t, 1, sales.Count)

	resp = ts.postJSON(t, "/api/logout", SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &reply)
	assert.Equal(t, "closed", reply.Session.State)

	resp = ts.postJSON(t, "/api/voice-command", CommandRequest{SessionID: id, Text: "ver carrinho"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCartAddRejectsOutOfRangeQuantity(t *testing.T) {
	ts := newTestServer(t, acceptAll)
	id := ts.register(t, "ana", "")

	for _, qty := range []int{-1, models.MaxQuantity + 1, math.MaxInt} {
		resp := ts.postJSON(t, "/api/cart/add", CartItemRequest{SessionID: id, Product: "arroz", Quantity: qty})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "quantity %d", qty)
		resp.Body.Close()
	}

	resp := ts.postJSON(t, "/api/voice-command", CommandRequest{SessionID: id, Text: "comprar 99999999999999999999 arroz"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/cart?session_id=" + id)
	require.NoError(t, err)
	var cart CartResponse
	decodeBody(t, resp, &cart)
	assert.Empty(t, cart.Items)
}

func TestRegisterDuplicateUser(t *testing.T) {
	ts := newTestServer(t, acceptAll)
	ts.register(t, "ana", "")

	resp := ts.postJSON(t, "/api/register", RegisterRequest{Username: "ana"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var reply ReplyResponse
	decodeBody(t, resp, &reply)
	assert.NotEmpty(t, reply.Error)

	resp = ts.postJSON(t, "/api/register", RegisterRequest{Username: "bia", AccessLevel: "root"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginRejected(t *testing.T) {
	ts := newTestServer(t, rejectAll)
	ts.register(t, "ana", "")

	resp := ts.postJSON(t, "/api/login", LoginRequest{Username: "ana"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reply ReplyResponse
	decodeBody(t, resp, &reply)
	require.Equal(t, "authenticating", reply.Session.State)

	wav := testaudio.WAVBytes(t, testaudio.Low.Clip(1, 9))
	resp = ts.postAudio(t, "/api/login/voice", map[string]string{"session_id": reply.Session.ID}, wav)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	decodeBody(t, resp, &reply)
	assert.NotEmpty(t, reply.Error)
	require.NotNil(t, reply.Verification)
	assert.False(t, reply.Verification.Accepted)
}

func TestVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t, acceptAll)
	ts.register(t, "ana", "")

	wav := testaudio.WAVBytes(t, testaudio.Low.Clip(1, 7))
	resp := ts.postAudio(t, "/api/verify", map[string]string{"username": "ana"}, wav)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v VerificationDTO
	decodeBody(t, resp, &v)
	assert.True(t, v.Accepted)
	assert.Equal(t, "ana", v.Username)

	resp = ts.postAudio(t, "/api/verify", map[string]string{"username": "zé"}, wav)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginFeaturesValidation(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	resp := ts.postJSON(t, "/api/login/features", FeaturesRequest{SessionID: "x", Features: []float64{1, 2, 3}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = ts.postJSON(t, "/api/login/features", FeaturesRequest{SessionID: "missing", Features: make([]float64, 13)})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestProductsEndpoints(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	resp, err := http.Get(ts.URL + "/api/products")
	require.NoError(t, err)
	var list ListProductsResponse
	decodeBody(t, resp, &list)
	assert.Equal(t, 5, list.Count)

	add := ProductRequest{Name: "Sal", Price: decimal.RequireFromString("2.00"), Stock: 10}
	resp = ts.postJSON(t, "/api/products", add)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var p ProductDTO
	decodeBody(t, resp, &p)
	assert.Equal(t, "Sal", p.Name)

	resp = ts.postJSON(t, "/api/products", add)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	stock := 3
	data, _ := json.Marshal(UpdateProductRequest{Stock: &stock})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/products/sal", bytes.NewReader(data))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &p)
	assert.Equal(t, 3, p.Stock)

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/products/sal", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/products/sal")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestVoiceCommandWithoutTranscriber(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	wav := testaudio.WAVBytes(t, testaudio.Low.Clip(1, 1))
	resp := ts.postAudio(t, "/api/voice-command", map[string]string{"session_id": "any"}, wav)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	resp, err := http.Get(ts.URL + "/api/checkout")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, acceptAll)
	ts.register(t, "ana", "")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `voxcart_enrollments_total{result="ok"} 1`)
}

func TestWebSocketCommands(t *testing.T) {
	ts := newTestServer(t, acceptAll)
	id := ts.register(t, "ana", "")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteJSON(WSMessage{Text: "comprar um café"}))

	var prompts []string
	var reply *ReplyResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for reply == nil || len(prompts) == 0 {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "prompt":
			prompts = append(prompts, msg.Text)
		case "reply":
			reply = msg.Reply
		}
	}
	assert.Equal(t, "add_to_cart", reply.Intent)
	assert.Len(t, reply.Cart, 1)
	assert.Contains(t, prompts, reply.Messages[0])
}

func TestWebSocketUnknownSession(t *testing.T) {
	ts := newTestServer(t, acceptAll)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?session_id=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", models.ErrInsufficientStock), http.StatusConflict},
		{models.ErrRejected, http.StatusUnauthorized},
		{models.ErrPermissionDenied, http.StatusForbidden},
		{stt.ErrNoSpeech, http.StatusUnprocessableEntity},
		{voxcart.ErrNoTranscriber, http.StatusNotImplemented},
		{fmt.Errorf("storing enrollment: %w", models.ErrDuplicateUser), http.StatusConflict},
		{models.ErrInvalidQuantity, http.StatusBadRequest},
		{audio.ErrNoTranscoder, http.StatusUnsupportedMediaType},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
