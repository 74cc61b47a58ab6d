package voxcart

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/cart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/feedback"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/session"
)

var ErrNoTranscriber = errors.New("no transcriber configured")

// voxService is the default implementation of the Service interface.
type voxService struct {
	storage  Storage
	log      Logger
	config   *Config
	metrics  *Metrics
	enroller *biometric.Enroller
	verifier meteredVerifier
	sessions *session.Manager
	speaker  *feedback.Async
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	// Set default logger if none provided
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	fc := features.DefaultConfig()
	fc.SampleRate = cfg.SampleRate
	fc.HighFreq = math.Min(fc.HighFreq, float64(cfg.SampleRate)/2)
	extractor, err := features.NewExtractor(fc)
	if err != nil {
		return nil, err
	}

	// Create or use provided storage
	var stor Storage
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	if len(cfg.CatalogSeed) > 0 {
		n, err := stor.SeedProducts(context.Background(), cfg.CatalogSeed)
		if err != nil {
			stor.Close()
			return nil, fmt.Errorf("failed to seed catalog: %w", err)
		}
		if n > 0 {
			cfg.Logger.Infof("Seeded catalog with %d products", n)
		}
	}

	store, err := biometric.NewModelStore(stor, cfg.ModelCacheSize)
	if err != nil {
		stor.Close()
		return nil, err
	}

	sink := cfg.Feedback
	if sink == nil {
		sink = feedback.NewLogSink(cfg.Logger)
	}

	enroller := biometric.NewEnroller(extractor, store,
		biometric.WithSamples(cfg.EnrollmentSamples),
		biometric.WithEnrollLogger(cfg.Logger))
	verifier := meteredVerifier{
		Verifier: biometric.NewVerifier(extractor, store, cfg.Threshold, cfg.Logger),
		metrics:  cfg.Metrics,
	}

	s := &voxService{
		storage:  stor,
		log:      cfg.Logger,
		config:   cfg,
		metrics:  cfg.Metrics,
		enroller: enroller,
		verifier: verifier,
		speaker:  feedback.NewAsync(sink, feedback.DefaultQueueSize),
	}

	s.sessions = session.NewManager(session.Deps{
		Extractor: extractor,
		Enroller:  meteredEnroller{Enroller: enroller, metrics: cfg.Metrics},
		Verifier:  s.verifier,
		Catalog:   stor,
		Ledger:    cart.NewLedger(stor, cfg.Logger),
		Speaker:   s.speaker,
		Machine:   session.Machine{Samples: cfg.EnrollmentSamples},
		TTL:       cfg.SessionTTL,
		Log:       cfg.Logger,
	})
	return s, nil
}

// meteredEnroller and meteredVerifier record outcomes for both the direct API and
// the session flows.
type meteredEnroller struct {
	*biometric.Enroller
	metrics *Metrics
}

func (e meteredEnroller) Commit(ctx context.Context, username string, vectors []features.Vector, accessLevel ...string) (*models.User, error) {
	u, err := e.Enroller.Commit(ctx, username, vectors, accessLevel...)
	e.metrics.observeEnrollment(err)
	return u, err
}

type meteredVerifier struct {
	*biometric.Verifier
	metrics *Metrics
}

func (v meteredVerifier) Verify(ctx context.Context, username string, clip *audio.Clip) (*biometric.Verification, error) {
	res, err := v.Verifier.Verify(ctx, username, clip)
	v.metrics.observeVerification(res, err)
	return res, err
}

func (v meteredVerifier) VerifyVector(ctx context.Context, username string, vec features.Vector) (*biometric.Verification, error) {
	res, err := v.Verifier.VerifyVector(ctx, username, vec)
	v.metrics.observeVerification(res, err)
	return res, err
}

// Enroll captures the enrollment samples from provider and stores the speaker model.
func (s *voxService) Enroll(ctx context.Context, username string, provider biometric.SampleProvider, accessLevel ...string) (*models.User, error) {
	s.log.Infof("Enrolling voice for %q", username)
	u, err := s.enroller.Enroll(ctx, username, provider, accessLevel...)
	s.metrics.observeEnrollment(err)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Enrolled %q (%s)", u.Username, u.AccessLevel)
	return u, nil
}

// EnrollFiles enrolls from one audio file per sample. Non-WAV files are converted
// with ffmpeg.
func (s *voxService) EnrollFiles(ctx context.Context, username string, paths []string, accessLevel ...string) (*models.User, error) {
	return s.Enroll(ctx, username, biometric.Files{
		Paths:      paths,
		TempDir:    s.config.TempDir,
		SampleRate: s.config.SampleRate,
	}, accessLevel...)
}

func (s *voxService) Verify(ctx context.Context, username string, clip *audio.Clip) (*biometric.Verification, error) {
	return s.verifier.Verify(ctx, username, clip)
}

func (s *voxService) VerifyFile(ctx context.Context, username, path string) (*biometric.Verification, error) {
	clip, err := s.LoadClip(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.verifier.Verify(ctx, username, clip)
}

func (s *voxService) VerifyVector(ctx context.Context, username string, vec features.Vector) (*biometric.Verification, error) {
	return s.verifier.VerifyVector(ctx, username, vec)
}

// LoadClip reads any audio file as a mono clip at the service sample rate.
func (s *voxService) LoadClip(ctx context.Context, path string) (*audio.Clip, error) {
	clip, err := audio.LoadClip(ctx, path, s.config.TempDir, s.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}
	return clip, nil
}

func (s *voxService) StartRegistration(ctx context.Context, username string, accessLevel ...string) (*session.Reply, error) {
	return s.sessions.StartRegistration(ctx, username, accessLevel...)
}

func (s *voxService) SubmitEnrollmentSample(ctx context.Context, sessionID string, clip *audio.Clip) (*session.Reply, error) {
	return s.sessions.SubmitEnrollmentSample(ctx, sessionID, clip)
}

func (s *voxService) StartLogin(ctx context.Context, username string) (*session.Reply, error) {
	return s.sessions.StartLogin(ctx, username)
}

func (s *voxService) SubmitLoginSample(ctx context.Context, sessionID string, clip *audio.Clip) (*session.Reply, error) {
	return s.sessions.SubmitLoginSample(ctx, sessionID, clip)
}

func (s *voxService) SubmitLoginVector(ctx context.Context, sessionID string, vec features.Vector) (*session.Reply, error) {
	return s.sessions.SubmitLoginVector(ctx, sessionID, vec)
}

func (s *voxService) HandleCommand(ctx context.Context, sessionID, text string) (*session.Reply, error) {
	reply, err := s.sessions.HandleCommand(ctx, sessionID, text)
	s.observeReply(reply, err)
	return reply, err
}

// HandleVoiceCommand transcribes clip and runs the text as a command.
func (s *voxService) HandleVoiceCommand(ctx context.Context, sessionID string, clip *audio.Clip) (*session.Reply, error) {
	text, err := s.Transcribe(ctx, clip)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Session %s heard %q", sessionID, text)
	return s.HandleCommand(ctx, sessionID, text)
}

func (s *voxService) Execute(ctx context.Context, sessionID string, cmd intent.Intent) (*session.Reply, error) {
	reply, err := s.sessions.Execute(ctx, sessionID, cmd)
	s.observeReply(reply, err)
	return reply, err
}

func (s *voxService) observeReply(reply *session.Reply, err error) {
	if reply == nil {
		return
	}
	s.metrics.observeCommand(reply.Intent.Kind.String())
	if reply.Intent.Kind != intent.Checkout {
		return
	}
	var total decimal.Decimal
	if reply.Sale != nil {
		total = reply.Sale.Total
	}
	s.metrics.observeCheckout(total, err)
}

func (s *voxService) ClearCart(sessionID string) (*session.Reply, error) {
	return s.sessions.ClearCart(sessionID)
}

func (s *voxService) Logout(ctx context.Context, sessionID string) (*session.Reply, error) {
	return s.sessions.Logout(ctx, sessionID)
}

func (s *voxService) Session(sessionID string) (session.Snapshot, error) {
	return s.sessions.Get(sessionID)
}

func (s *voxService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.storage.ListProducts(ctx)
}

func (s *voxService) FindProduct(ctx context.Context, name string) (*models.Product, error) {
	return s.storage.FindProduct(ctx, name)
}

func (s *voxService) AddProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*models.Product, error) {
	return s.storage.CreateProduct(ctx, name, price, stock)
}

func (s *voxService) UpdateProduct(ctx context.Context, name string, upd models.ProductUpdate) (*models.Product, error) {
	return s.storage.UpdateProduct(ctx, name, upd)
}

func (s *voxService) RemoveProduct(ctx context.Context, name string) error {
	return s.storage.DeleteProduct(ctx, name)
}

func (s *voxService) GetUser(ctx context.Context, username string) (*models.User, error) {
	return s.storage.GetUser(ctx, username)
}

func (s *voxService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.storage.ListUsers(ctx)
}

func (s *voxService) SetAccessLevel(ctx context.Context, username, level string) error {
	if level != models.AccessLevelUser && level != models.AccessLevelAdmin {
		return fmt.Errorf("unknown access level %q", level)
	}
	return s.storage.SetAccessLevel(ctx, username, level)
}

// ListSales returns the sales of username, or every sale when username is empty.
func (s *voxService) ListSales(ctx context.Context, username string) ([]models.Sale, error) {
	return s.storage.ListSales(ctx, username)
}

func (s *voxService) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	if s.config.Transcriber == nil {
		return "", ErrNoTranscriber
	}
	return s.config.Transcriber.Transcribe(ctx, clip)
}

func (s *voxService) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.storage.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.storage.ListSales(ctx, "")
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Users:    len(users),
		Products: len(products),
		Sales:    len(sales),
		Sessions: s.sessions.Count(),
	}
	for _, p := range products {
		st.Units += p.Stock
	}
	return st, nil
}

// Maintain closes expired sessions and refreshes the stock and session gauges.
func (s *voxService) Maintain(ctx context.Context) error {
	s.sessions.Sweep()
	s.metrics.setSessions(s.sessions.Count())

	products, err := s.storage.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh stock: %w", err)
	}
	s.metrics.setStock(products)
	if dropped := s.speaker.Dropped(); dropped > 0 {
		s.log.Warnf("%d spoken prompts dropped so far", dropped)
	}
	return nil
}

// Close flushes pending prompts and releases the storage.
func (s *voxService) Close() error {
	s.speaker.Close()
	return s.storage.Close()
}
