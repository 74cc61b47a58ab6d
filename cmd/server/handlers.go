package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
	"github.com/himanishpuri/VoxCart/pkg/voxcart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/stt"
)

// maxUploadSize bounds audio uploads (about five minutes of 16 kHz PCM)
const maxUploadSize = 10 << 20

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service  voxcart.Service
	config   *ServerConfig
	log      voxcart.Logger
	hub      *Hub
	metrics  *voxcart.Metrics
	upgrader websocket.Upgrader
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	SampleRate     int
	Threshold      float64
	LoginRate      string // ulule limiter format, e.g. "20-M"
	LogRequests    bool
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service voxcart.Service, config *ServerConfig, hub *Hub, metrics *voxcart.Metrics) *Server {
	log := logger.GetLogger().Named("server")
	if hub == nil {
		hub = NewHub(log)
	}
	return &Server{
		service: service,
		config:  config,
		log:     log,
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(config.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondFailure maps a service error to its status code
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Errorf("Request failed: %v", err)
	}
	s.respondError(w, code, err.Error())
}

// respondReply writes a session reply. A failed step still carries the session and
// its spoken messages.
func (s *Server) respondReply(w http.ResponseWriter, okStatus int, reply *session.Reply, err error) {
	if reply == nil {
		if err == nil {
			err = errors.New("empty reply")
		}
		s.respondFailure(w, err)
		return
	}
	code := okStatus
	if err != nil {
		code = statusFor(err)
	}
	s.respondJSON(w, code, toReplyResponse(reply, err))
}

var errorStatus = []struct {
	err  error
	code int
}{
	{models.ErrSessionNotFound, http.StatusNotFound},
	{models.ErrUserNotFound, http.StatusNotFound},
	{models.ErrNotEnrolled, http.StatusNotFound},
	{models.ErrProductNotFound, http.StatusNotFound},
	{models.ErrItemNotInCart, http.StatusNotFound},
	{models.ErrDuplicateUser, http.StatusConflict},
	{models.ErrDuplicateProduct, http.StatusConflict},
	{models.ErrInsufficientStock, http.StatusConflict},
	{models.ErrEmptyCart, http.StatusConflict},
	{models.ErrInvalidState, http.StatusConflict},
	{models.ErrRejected, http.StatusUnauthorized},
	{models.ErrPermissionDenied, http.StatusForbidden},
	{models.ErrExtractionFailed, http.StatusUnprocessableEntity},
	{models.ErrInsufficientSamples, http.StatusUnprocessableEntity},
	{models.ErrInvalidProduct, http.StatusBadRequest},
	{models.ErrInvalidQuantity, http.StatusBadRequest},
	{stt.ErrNoSpeech, http.StatusUnprocessableEntity},
	{stt.ErrTranscription, http.StatusBadGateway},
	{voxcart.ErrNoTranscriber, http.StatusNotImplemented},
	{audio.ErrNoTranscoder, http.StatusUnsupportedMediaType},
}

func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.log.Warnf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// readAudio saves the multipart "audio" file and loads it as a clip
func (s *Server) readAudio(ctx context.Context, w http.ResponseWriter, r *http.Request) (*audio.Clip, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return nil, false
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return nil, false
	}
	defer file.Close()

	tempFile, err := utils.SaveTemp(s.config.TempDir, "upload-*"+filepath.Ext(header.Filename), file)
	if err != nil {
		s.log.Errorf("Failed to save file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return nil, false
	}
	defer os.Remove(tempFile)

	clip, err := s.service.LoadClip(ctx, tempFile)
	if err != nil {
		s.log.Warnf("Unreadable audio %s: %v", header.Filename, err)
		s.respondError(w, http.StatusUnprocessableEntity, "Could not read audio file")
		return nil, false
	}
	return clip, true
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "VoxCart API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"stats":         "GET /api/health",
			"metrics":       "GET /metrics",
			"register":      "POST /api/register",
			"registerVoice": "POST /api/register/voice",
			"login":         "POST /api/login",
			"loginVoice":    "POST /api/login/voice",
			"loginFeatures": "POST /api/login/features",
			"verify":        "POST /api/verify",
			"products":      "GET|POST /api/products",
			"product":       "GET|PUT|DELETE /api/products/{name}",
			"voiceCommand":  "POST /api/voice-command",
			"cart":          "GET /api/cart?session_id=",
			"cartAdd":       "POST /api/cart/add",
			"cartRemove":    "POST /api/cart/remove",
			"cartClear":     "POST /api/cart/clear",
			"checkout":      "POST /api/checkout",
			"logout":        "POST /api/logout",
			"session":       "GET /api/sessions/{id}",
			"users":         "GET /api/users",
			"sales":         "GET /api/sales?username=",
			"websocket":     "GET /api/ws?session_id=",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStats handles GET /api/health
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Stats(r.Context())
	if err != nil {
		s.log.Errorf("Failed to get stats: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}

	s.respondJSON(w, http.StatusOK, StatsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		Users:        st.Users,
		Products:     st.Products,
		Units:        st.Units,
		Sales:        st.Sales,
		Sessions:     st.Sessions,
		SampleRate:   s.config.SampleRate,
		Threshold:    s.config.Threshold,
		Websockets:   s.hub.ClientCount(),
		PromptsSent:  s.hub.promptsSent.Load(),
	})
}

// handleRegister handles POST /api/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Infof("Registration started for %q", req.Username)
	reply, err := s.service.StartRegistration(r.Context(), req.Username, req.AccessLevel)
	s.respondReply(w, http.StatusCreated, reply, err)
}

// handleRegisterVoice handles POST /api/register/voice (multipart: session_id, audio)
func (s *Server) handleRegisterVoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	clip, ok := s.readAudio(ctx, w, r)
	if !ok {
		return
	}
	reply, err := s.service.SubmitEnrollmentSample(ctx, r.FormValue("session_id"), clip)
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleLogin handles POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		s.respondError(w, http.StatusBadRequest, "username is required")
		return
	}
	reply, err := s.service.StartLogin(r.Context(), req.Username)
	s.respondReply(w, http.StatusCreated, reply, err)
}

// handleLoginVoice handles POST /api/login/voice (multipart: session_id, audio)
func (s *Server) handleLoginVoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	clip, ok := s.readAudio(ctx, w, r)
	if !ok {
		return
	}
	reply, err := s.service.SubmitLoginSample(ctx, r.FormValue("session_id"), clip)
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleLoginFeatures handles POST /api/login/features (vector computed in the browser)
func (s *Server) handleLoginFeatures(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.service.SubmitLoginVector(r.Context(), req.SessionID, features.Vector(req.Features))
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleVerify handles POST /api/verify (multipart: username, audio). It checks a
// voice without opening a session.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	clip, ok := s.readAudio(ctx, w, r)
	if !ok {
		return
	}
	username := r.FormValue("username")
	if username == "" {
		s.respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	v, err := s.service.Verify(ctx, username, clip)
	if err != nil && !errors.Is(err, models.ErrRejected) {
		s.respondFailure(w, err)
		return
	}
	code := http.StatusOK
	if !v.Accepted {
		code = http.StatusUnauthorized
	}
	s.respondJSON(w, code, toVerificationDTO(v))
}

// handleVoiceCommand handles POST /api/voice-command. JSON bodies carry text;
// multipart bodies carry audio for the transcriber.
func (s *Server) handleVoiceCommand(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		clip, ok := s.readAudio(ctx, w, r)
		if !ok {
			return
		}
		reply, err := s.service.HandleVoiceCommand(ctx, r.FormValue("session_id"), clip)
		s.respondReply(w, http.StatusOK, reply, err)
		return
	}

	var req CommandRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	reply, err := s.service.HandleCommand(ctx, req.SessionID, req.Text)
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleCart handles GET /api/cart?session_id=
func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	reply, err := s.service.Execute(r.Context(), id, intent.Intent{Kind: intent.ViewCart})
	if err != nil {
		s.respondReply(w, http.StatusOK, reply, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CartResponse{
		SessionID: id,
		Items:     toCartDTOs(reply.Cart),
		Total:     reply.Total,
	})
}

// handleCartItem handles POST /api/cart/add and /api/cart/remove
func (s *Server) handleCartItem(kind intent.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CartItemRequest
		if !s.decode(w, r, &req) {
			return
		}
		if req.Product == "" {
			s.respondError(w, http.StatusBadRequest, "product is required")
			return
		}
		if kind == intent.AddToCart && req.Quantity == 0 {
			req.Quantity = 1
		}
		if req.Quantity < 0 || req.Quantity > models.MaxQuantity {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("quantity must be between 1 and %d", models.MaxQuantity))
			return
		}
		reply, err := s.service.Execute(r.Context(), req.SessionID, intent.Intent{
			Kind:        kind,
			ProductHint: req.Product,
			Quantity:    req.Quantity,
		})
		s.respondReply(w, http.StatusOK, reply, err)
	}
}

// handleCartClear handles POST /api/cart/clear
func (s *Server) handleCartClear(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.service.ClearCart(req.SessionID)
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleCheckout handles POST /api/checkout
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.service.Execute(r.Context(), req.SessionID, intent.Intent{Kind: intent.Checkout})
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleLogout handles POST /api/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.service.Logout(r.Context(), req.SessionID)
	s.respondReply(w, http.StatusOK, reply, err)
}

// handleSession handles GET /api/sessions/{id}
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Session(strings.TrimPrefix(r.URL.Path, "/api/sessions/"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSessionDTO(snap))
}

// handleListProducts handles GET /api/products
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.ListProducts(r.Context())
	if err != nil {
		s.log.Errorf("Failed to list products: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve products")
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	s.respondJSON(w, http.StatusOK, ListProductsResponse{
		Products: dtos,
		Count:    len(dtos),
	})
}

// handleAddProduct handles POST /api/products
func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.service.AddProduct(r.Context(), req.Name, req.Price, req.Stock)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.log.Infof("Added product %s (%s, stock %d)", p.Name, p.Price.StringFixed(2), p.Stock)
	s.respondJSON(w, http.StatusCreated, toProductDTO(*p))
}

// handleGetProduct handles GET /api/products/{name}
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request, name string) {
	p, err := s.service.FindProduct(r.Context(), name)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toProductDTO(*p))
}

// handleUpdateProduct handles PUT /api/products/{name}
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request, name string) {
	var req UpdateProductRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Price == nil && req.Stock == nil {
		s.respondError(w, http.StatusBadRequest, "price or stock is required")
		return
	}
	p, err := s.service.UpdateProduct(r.Context(), name, models.ProductUpdate{Price: req.Price, Stock: req.Stock})
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toProductDTO(*p))
}

// handleDeleteProduct handles DELETE /api/products/{name}
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.service.RemoveProduct(r.Context(), name); err != nil {
		s.respondFailure(w, err)
		return
	}
	s.log.Infof("Removed product %s", name)
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Product %s removed", name),
	})
}

// handleListUsers handles GET /api/users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	s.respondJSON(w, http.StatusOK, ListUsersResponse{Users: dtos, Count: len(dtos)})
}

// handleListSales handles GET /api/sales?username=
func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.service.ListSales(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	dtos := make([]SaleDTO, len(sales))
	for i, sale := range sales {
		dtos[i] = toSaleDTO(sale)
	}
	s.respondJSON(w, http.StatusOK, ListSalesResponse{Sales: dtos, Count: len(dtos)})
}

// handleWebSocket handles GET /api/ws?session_id=. Text frames are run as commands;
// prompts for the session are pushed as they are spoken.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if _, err := s.service.Session(id); err != nil {
		s.respondFailure(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	client := &wsClient{sessionID: id, conn: conn}
	s.hub.add(client)
	s.log.Infof("🔌 Websocket attached to session %s", id)

	defer func() {
		s.hub.remove(client)
		conn.Close()
		s.log.Infof("🔌 Websocket detached from session %s", id)
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnf("Websocket read error: %v", err)
			}
			return
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		reply, err := s.service.HandleCommand(ctx, id, msg.Text)
		cancel()
		if reply == nil {
			client.Send(WSMessage{Type: "error", Text: err.Error()})
			return
		}
		resp := toReplyResponse(reply, err)
		if err := client.Send(WSMessage{Type: "reply", Reply: &resp}); err != nil {
			return
		}
		if reply.Session.State == session.Closed {
			return
		}
	}
}

// handleProducts routes requests to /api/products
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListProducts(w, r)
	case http.MethodPost:
		s.handleAddProduct(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleProduct routes requests to /api/products/{name}
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/products/")
	if name == "" {
		s.respondError(w, http.StatusBadRequest, "Product name required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetProduct(w, r, name)
	case http.MethodPut:
		s.handleUpdateProduct(w, r, name)
	case http.MethodDelete:
		s.handleDeleteProduct(w, r, name)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// postOnly rejects anything but POST
func (s *Server) postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}
