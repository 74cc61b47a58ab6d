package voxcart

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
)

type Service interface {
	// Voice biometrics
	Enroll(ctx context.Context, username string, provider biometric.SampleProvider, accessLevel ...string) (*models.User, error)
	EnrollFiles(ctx context.Context, username string, paths []string, accessLevel ...string) (*models.User, error)
	Verify(ctx context.Context, username string, clip *audio.Clip) (*biometric.Verification, error)
	VerifyFile(ctx context.Context, username, path string) (*biometric.Verification, error)
	VerifyVector(ctx context.Context, username string, vec features.Vector) (*biometric.Verification, error)
	LoadClip(ctx context.Context, path string) (*audio.Clip, error)

	// Sessions
	StartRegistration(ctx context.Context, username string, accessLevel ...string) (*session.Reply, error)
	SubmitEnrollmentSample(ctx context.Context, sessionID string, clip *audio.Clip) (*session.Reply, error)
	StartLogin(ctx context.Context, username string) (*session.Reply, error)
	SubmitLoginSample(ctx context.Context, sessionID string, clip *audio.Clip) (*session.Reply, error)
	SubmitLoginVector(ctx context.Context, sessionID string, vec features.Vector) (*session.Reply, error)
	HandleCommand(ctx context.Context, sessionID, text string) (*session.Reply, error)
	HandleVoiceCommand(ctx context.Context, sessionID string, clip *audio.Clip) (*session.Reply, error)
	Execute(ctx context.Context, sessionID string, cmd intent.Intent) (*session.Reply, error)
	ClearCart(sessionID string) (*session.Reply, error)
	Logout(ctx context.Context, sessionID string) (*session.Reply, error)
	Session(sessionID string) (session.Snapshot, error)

	// Catalog
	ListProducts(ctx context.Context) ([]models.Product, error)
	FindProduct(ctx context.Context, name string) (*models.Product, error)
	AddProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*models.Product, error)
	UpdateProduct(ctx context.Context, name string, upd models.ProductUpdate) (*models.Product, error)
	RemoveProduct(ctx context.Context, name string) error

	// Accounts and sales
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetAccessLevel(ctx context.Context, username, level string) error
	ListSales(ctx context.Context, username string) ([]models.Sale, error)

	Transcribe(ctx context.Context, clip *audio.Clip) (string, error)
	Stats(ctx context.Context) (*Stats, error)
	Maintain(ctx context.Context) error
	Close() error
}

// Storage persists accounts, speaker models, the catalog and sales.
type Storage interface {
	biometric.Backend

	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetAccessLevel(ctx context.Context, username, level string) error

	CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	FindProduct(ctx context.Context, name string) (*models.Product, error)
	UpdateProduct(ctx context.Context, name string, upd models.ProductUpdate) (*models.Product, error)
	DeleteProduct(ctx context.Context, name string) error
	SeedProducts(ctx context.Context, seed []models.Product) (int, error)

	CommitCheckout(ctx context.Context, username string, items []models.CartItem) (*models.Sale, error)
	ListSales(ctx context.Context, username string) ([]models.Sale, error)

	Close() error
}

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *audio.Clip) (string, error)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
