package main

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
)

// RegisterRequest is the request body for POST /api/register
type RegisterRequest struct {
	Username    string `json:"username"`
	AccessLevel string `json:"access_level,omitempty"`
}

func (r *RegisterRequest) Validate() error {
	if r.Username == "" {
		return fmt.Errorf("username is required")
	}
	switch r.AccessLevel {
	case "", models.AccessLevelUser, models.AccessLevelAdmin:
		return nil
	}
	return fmt.Errorf("access_level must be %q or %q", models.AccessLevelUser, models.AccessLevelAdmin)
}

// LoginRequest is the request body for POST /api/login
type LoginRequest struct {
	Username string `json:"username"`
}

// SessionRequest carries the session for checkout, logout and cart clearing
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// FeaturesRequest is the request body for POST /api/login/features. Features is
// the MFCC vector computed by the WASM client.
type FeaturesRequest struct {
	SessionID string    `json:"session_id"`
	Features  []float64 `json:"features"`
}

func (r *FeaturesRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(r.Features) != features.Dim {
		return fmt.Errorf("features must have %d values, got %d", features.Dim, len(r.Features))
	}
	for i, v := range r.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %d is not finite", i)
		}
	}
	return nil
}

// CommandRequest is the JSON body for POST /api/voice-command
type CommandRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// CartItemRequest is the request body for POST /api/cart/add and /api/cart/remove
type CartItemRequest struct {
	SessionID string `json:"session_id"`
	Product   string `json:"product"`
	Quantity  int    `json:"quantity"`
}

// ProductRequest is the request body for POST /api/products
type ProductRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// UpdateProductRequest is the request body for PUT /api/products/{name}
type UpdateProductRequest struct {
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock *int             `json:"stock,omitempty"`
}

type ProductDTO struct {
	ID    uint            `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type ListProductsResponse struct {
	Products []ProductDTO `json:"products"`
	Count    int          `json:"count"`
}

type CartItemDTO struct {
	Product   string          `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	SessionID string          `json:"session_id"`
	Items     []CartItemDTO   `json:"items"`
	Total     decimal.Decimal `json:"total"`
}

type SaleDTO struct {
	ID        uint            `json:"id"`
	Username  string          `json:"username"`
	Items     []CartItemDTO   `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

type ListSalesResponse struct {
	Sales []SaleDTO `json:"sales"`
	Count int       `json:"count"`
}

type UserDTO struct {
	Username    string    `json:"username"`
	AccessLevel string    `json:"access_level"`
	Enrolled    bool      `json:"enrolled"`
	CreatedAt   time.Time `json:"created_at"`
}

type ListUsersResponse struct {
	Users []UserDTO `json:"users"`
	Count int       `json:"count"`
}

type SessionDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	Access    string `json:"access_level,omitempty"`
	State     string `json:"state"`
	Step      int    `json:"step,omitempty"`
	Samples   int    `json:"samples"`
	CartLines int    `json:"cart_lines"`
}

type VerificationDTO struct {
	Username  string  `json:"username"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Accepted  bool    `json:"accepted"`
}

// ReplyResponse is returned by every session endpoint. Messages are the prompts
// the session spoke; Error is set when the step failed.
type ReplyResponse struct {
	Session      SessionDTO       `json:"session"`
	Messages     []string         `json:"messages"`
	Intent       string           `json:"intent,omitempty"`
	Products     []ProductDTO     `json:"products,omitempty"`
	Product      *ProductDTO      `json:"product,omitempty"`
	Cart         []CartItemDTO    `json:"cart,omitempty"`
	Total        *decimal.Decimal `json:"total,omitempty"`
	Sale         *SaleDTO         `json:"sale,omitempty"`
	Verification *VerificationDTO `json:"verification,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// StatsResponse provides server health and store counts
type StatsResponse struct {
	Status       string  `json:"status"`
	DatabasePath string  `json:"database_path"`
	Users        int     `json:"users"`
	Products     int     `json:"products"`
	Units        int     `json:"units_in_stock"`
	Sales        int     `json:"sales"`
	Sessions     int     `json:"sessions"`
	SampleRate   int     `json:"sample_rate"`
	Threshold    float64 `json:"threshold"`
	Websockets   int     `json:"websockets"`
	PromptsSent  uint64  `json:"prompts_sent"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// WSMessage is sent over /api/ws in both directions. Clients send {"text": ...};
// the server sends "prompt" and "reply" messages.
type WSMessage struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Reply *ReplyResponse `json:"reply,omitempty"`
}

func toProductDTO(p models.Product) ProductDTO {
	return ProductDTO{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
}

func toCartDTOs(items []models.CartItem) []CartItemDTO {
	out := make([]CartItemDTO, len(items))
	for i, it := range items {
		out[i] = CartItemDTO{
			Product:   it.Product,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal(),
		}
	}
	return out
}

func toSaleDTO(s models.Sale) SaleDTO {
	return SaleDTO{
		ID:        s.ID,
		Username:  s.Username,
		Items:     toCartDTOs(s.Items),
		Total:     s.Total,
		CreatedAt: s.CreatedAt,
	}
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{
		Username:    u.Username,
		AccessLevel: u.AccessLevel,
		Enrolled:    u.Enrolled,
		CreatedAt:   u.CreatedAt,
	}
}

func toSessionDTO(s session.Snapshot) SessionDTO {
	return SessionDTO{
		ID:        s.ID,
		Username:  s.Username,
		Access:    s.Access,
		State:     s.State.String(),
		Step:      s.Step,
		Samples:   s.Samples,
		CartLines: s.CartLines,
	}
}

func toVerificationDTO(v *biometric.Verification) *VerificationDTO {
	if v == nil {
		return nil
	}
	return &VerificationDTO{
		Username:  v.Username,
		Score:     v.Score,
		Threshold: v.Threshold,
		Accepted:  v.Accepted,
	}
}

func toReplyResponse(r *session.Reply, err error) ReplyResponse {
	resp := ReplyResponse{
		Session:      toSessionDTO(r.Session),
		Messages:     r.Messages,
		Verification: toVerificationDTO(r.Verification),
	}
	if resp.Messages == nil {
		resp.Messages = []string{}
	}
	if r.Intent.Text != "" || r.Intent.Kind != 0 {
		resp.Intent = r.Intent.Kind.String()
	}
	for _, p := range r.Products {
		resp.Products = append(resp.Products, toProductDTO(p))
	}
	if r.Product != nil {
		dto := toProductDTO(*r.Product)
		resp.Product = &dto
	}
	if r.Cart != nil {
		resp.Cart = toCartDTOs(r.Cart)
		total := r.Total
		resp.Total = &total
	}
	if r.Sale != nil {
		dto := toSaleDTO(*r.Sale)
		resp.Sale = &dto
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
