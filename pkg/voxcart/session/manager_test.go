package session

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/VoxCart/internal/testaudio"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/cart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/gmm"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/storage"
)

type recordingSpeaker struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (r *recordingSpeaker) Say(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lines == nil {
		r.lines = make(map[string][]string)
	}
	r.lines[id] = append(r.lines[id], text)
}

func (r *recordingSpeaker) said(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[id]...)
}

type fixture struct {
	db      *storage.DBClient
	ext     *features.Extractor
	store   *biometric.ModelStore
	speaker *recordingSpeaker
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDBClientWithPath(filepath.Join(t.TempDir(), "session.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.SeedProducts(context.Background(), []models.Product{
		{Name: "Arroz", Price: decimal.RequireFromString("5.99"), Stock: 50},
		{Name: "Feijão", Price: decimal.RequireFromString("7.49"), Stock: 2},
	})
	require.NoError(t, err)

	ext, err := features.NewExtractor(features.DefaultConfig())
	require.NoError(t, err)
	store, err := biometric.NewModelStore(db, 8)
	require.NoError(t, err)
	return &fixture{db: db, ext: ext, store: store, speaker: &recordingSpeaker{}}
}

// manager builds a Manager whose verifier uses threshold; -Inf accepts every
// enrolled user and +Inf rejects everyone.
func (f *fixture) manager(threshold float64, ttl time.Duration) *Manager {
	return NewManager(Deps{
		Extractor: f.ext,
		Enroller:  biometric.NewEnroller(f.ext, f.store),
		Verifier:  biometric.NewVerifier(f.ext, f.store, threshold, nil),
		Catalog:   f.db,
		Ledger:    cart.NewLedger(f.db, nil),
		Speaker:   f.speaker,
		TTL:       ttl,
	})
}

func register(t *testing.T, m *Manager, username string, access ...string) string {
	t.Helper()
	ctx := context.Background()
	reply, err := m.StartRegistration(ctx, username, access...)
	require.NoError(t, err)
	id := reply.Session.ID
	for seed := int64(1); seed <= 3; seed++ {
		reply, err = m.SubmitEnrollmentSample(ctx, id, testaudio.Low.Clip(1, seed))
		require.NoError(t, err)
	}
	require.Equal(t, Authenticated, reply.Session.State)
	return id
}

func TestRegistrationOpensAuthenticatedSession(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()

	reply, err := m.StartRegistration(ctx, "Ana")
	require.NoError(t, err)
	id := reply.Session.ID
	assert.Equal(t, Enrolling, reply.Session.State)
	assert.Equal(t, "ana", reply.Session.Username)
	assert.Equal(t, 1, reply.Session.Step)
	assert.Len(t, reply.Messages, 2)

	for seed := int64(1); seed <= 3; seed++ {
		reply, err = m.SubmitEnrollmentSample(ctx, id, testaudio.Low.Clip(1, seed))
		require.NoError(t, err)
	}
	assert.Equal(t, Authenticated, reply.Session.State)
	assert.Equal(t, models.AccessLevelUser, reply.Session.Access)

	user, err := f.db.GetUser(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, user.Enrolled)

	items, total, err := m.Cart(id)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.True(t, total.IsZero())
	assert.NotEmpty(t, f.speaker.said(id))
}

func TestRegistrationWithUnusableSamples(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()

	reply, err := m.StartRegistration(ctx, "bia")
	require.NoError(t, err)
	id := reply.Session.ID

	_, err = m.SubmitEnrollmentSample(ctx, id, testaudio.Silence(1))
	require.NoError(t, err)
	_, err = m.SubmitEnrollmentSample(ctx, id, testaudio.Low.Clip(1, 1))
	require.NoError(t, err)
	reply, err = m.SubmitEnrollmentSample(ctx, id, nil)
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)
	assert.Equal(t, Anonymous, reply.Session.State)

	_, err = f.db.GetUser(ctx, "bia")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestRegistrationRejectsExistingUser(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	register(t, m, "ana")
	before := m.Count()

	reply, err := m.StartRegistration(context.Background(), "ANA")
	assert.ErrorIs(t, err, models.ErrDuplicateUser)
	require.NotNil(t, reply)
	assert.NotEmpty(t, reply.Messages)
	assert.Equal(t, before, m.Count(), "failed registration must not leave a session behind")
}

func TestOverlappingRegistrationsKeepFirstVoice(t *testing.T) {
	f := setup(t)
	m := f.manager(-1e6, time.Minute)
	ctx := context.Background()

	first, err := m.StartRegistration(ctx, "bob")
	require.NoError(t, err)
	second, err := m.StartRegistration(ctx, "bob")
	require.NoError(t, err)

	for seed := int64(1); seed <= 3; seed++ {
		_, err = m.SubmitEnrollmentSample(ctx, first.Session.ID, testaudio.Low.Clip(1, seed))
		require.NoError(t, err)
	}
	stored, err := f.store.Load(ctx, "bob")
	require.NoError(t, err)

	var reply *Reply
	for seed := int64(4); seed <= 6; seed++ {
		reply, err = m.SubmitEnrollmentSample(ctx, second.Session.ID, testaudio.High.Clip(1, seed))
	}
	assert.ErrorIs(t, err, models.ErrDuplicateUser)
	require.NotNil(t, reply)
	assert.Equal(t, Anonymous, reply.Session.State)

	after, err := f.store.Load(ctx, "bob")
	require.NoError(t, err)
	assert.Same(t, stored, after)
	blob, err := f.db.LoadSpeakerModel(ctx, "bob")
	require.NoError(t, err)
	var onDisk gmm.Model
	require.NoError(t, onDisk.UnmarshalBinary(blob))
	assert.Equal(t, stored.Components, onDisk.Components)

	_, err = m.HandleCommand(ctx, second.Session.ID, "ver carrinho")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestLogin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	register(t, f.manager(math.Inf(-1), time.Minute), "root", models.AccessLevelAdmin)

	t.Run("accepted", func(t *testing.T) {
		m := f.manager(math.Inf(-1), time.Minute)
		reply, err := m.StartLogin(ctx, "Root")
		require.NoError(t, err)
		assert.Equal(t, Authenticating, reply.Session.State)

		reply, err = m.SubmitLoginSample(ctx, reply.Session.ID, testaudio.Low.Clip(1, 9))
		require.NoError(t, err)
		assert.Equal(t, Authenticated, reply.Session.State)
		assert.Equal(t, models.AccessLevelAdmin, reply.Session.Access)
		require.NotNil(t, reply.Verification)
		assert.True(t, reply.Verification.Accepted)
	})

	t.Run("rejected", func(t *testing.T) {
		m := f.manager(math.Inf(1), time.Minute)
		reply, err := m.StartLogin(ctx, "root")
		require.NoError(t, err)

		reply, err = m.SubmitLoginSample(ctx, reply.Session.ID, testaudio.High.Clip(1, 9))
		assert.ErrorIs(t, err, models.ErrRejected)
		assert.Equal(t, Anonymous, reply.Session.State)
		assert.Contains(t, reply.Messages, "Voz não reconhecida.")
	})

	t.Run("unknown user", func(t *testing.T) {
		m := f.manager(math.Inf(-1), time.Minute)
		reply, err := m.StartLogin(ctx, "ghost")
		require.NoError(t, err)

		reply, err = m.SubmitLoginSample(ctx, reply.Session.ID, testaudio.Low.Clip(1, 9))
		assert.ErrorIs(t, err, models.ErrNotEnrolled)
		assert.Equal(t, Anonymous, reply.Session.State)
	})

	t.Run("client vector", func(t *testing.T) {
		m := f.manager(math.Inf(-1), time.Minute)
		vec, err := f.ext.Extract(testaudio.Low.Clip(1, 11))
		require.NoError(t, err)

		reply, err := m.StartLogin(ctx, "root")
		require.NoError(t, err)
		reply, err = m.SubmitLoginVector(ctx, reply.Session.ID, vec)
		require.NoError(t, err)
		assert.Equal(t, Authenticated, reply.Session.State)
	})
}

func TestShoppingCommands(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()
	id := register(t, m, "ana")

	reply, err := m.HandleCommand(ctx, id, "listar produtos")
	require.NoError(t, err)
	assert.Equal(t, intent.ListProducts, reply.Intent.Kind)
	assert.Len(t, reply.Products, 2)
	assert.Contains(t, reply.Messages, "Arroz - 5,99 reais - Estoque: 50")

	reply, err = m.HandleCommand(ctx, id, "comprar três arroz")
	require.NoError(t, err)
	assert.Equal(t, intent.AddToCart, reply.Intent.Kind)
	require.Len(t, reply.Cart, 1)
	assert.Equal(t, 3, reply.Cart[0].Quantity)
	assert.True(t, reply.Total.Equal(decimal.RequireFromString("17.97")))

	reply, err = m.HandleCommand(ctx, id, "comprar cinco feijão")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Contains(t, reply.Messages, "Quantidade indisponível em estoque.")
	assert.Len(t, reply.Cart, 1, "failed add leaves the cart alone")

	reply, err = m.HandleCommand(ctx, id, "ver carrinho")
	require.NoError(t, err)
	assert.Contains(t, reply.Messages, "Total do carrinho: 17,97 reais")

	reply, err = m.HandleCommand(ctx, id, "bom dia")
	require.NoError(t, err)
	assert.Equal(t, intent.Unrecognized, reply.Intent.Kind)
	assert.Equal(t, Authenticated, reply.Session.State)

	reply, err = m.HandleCommand(ctx, id, "finalizar compra")
	require.NoError(t, err)
	require.NotNil(t, reply.Sale)
	assert.True(t, reply.Sale.Total.Equal(decimal.RequireFromString("17.97")))
	assert.Empty(t, reply.Cart)

	p, err := f.db.FindProduct(ctx, "arroz")
	require.NoError(t, err)
	assert.Equal(t, 47, p.Stock)

	_, err = m.HandleCommand(ctx, id, "finalizar compra")
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestCatalogCommandsNeedAdmin(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()

	user := register(t, m, "ana")
	reply, err := m.HandleCommand(ctx, user, "excluir arroz")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Equal(t, Authenticated, reply.Session.State)
	_, err = f.db.FindProduct(ctx, "arroz")
	assert.NoError(t, err)

	admin := register(t, m, "root", models.AccessLevelAdmin)
	reply, err = m.HandleCommand(ctx, admin, "cadastrar produto sal por dois reais com estoque de dez")
	require.NoError(t, err)
	require.NotNil(t, reply.Product)
	assert.True(t, reply.Product.Price.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 10, reply.Product.Stock)

	_, err = m.HandleCommand(ctx, admin, "excluir arroz")
	require.NoError(t, err)
	_, err = f.db.FindProduct(ctx, "arroz")
	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestLogoutClosesSession(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()
	id := register(t, m, "ana")

	_, err := m.HandleCommand(ctx, id, "comprar arroz")
	require.NoError(t, err)

	reply, err := m.HandleCommand(ctx, id, "sair")
	require.NoError(t, err)
	assert.Equal(t, Closed, reply.Session.State)
	assert.Equal(t, 0, reply.Session.CartLines)

	_, err = m.Get(id)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = m.HandleCommand(ctx, id, "ver carrinho")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	p, err := f.db.FindProduct(ctx, "arroz")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Stock, "a discarded cart never touches stock")
}

func TestExplicitLogout(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	id := register(t, m, "ana")

	reply, err := m.Logout(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Closed, reply.Session.State)
	assert.Equal(t, 0, m.Count())
}

func TestCommandsOutsideAuthenticatedSession(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()

	reply, err := m.StartLogin(ctx, "ana")
	require.NoError(t, err)
	_, err = m.HandleCommand(ctx, reply.Session.ID, "ver carrinho")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = m.SubmitEnrollmentSample(ctx, reply.Session.ID, testaudio.Low.Clip(1, 1))
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, _, err = m.Cart(reply.Session.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = m.HandleCommand(ctx, "missing", "ver carrinho")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestIdleSessionTimesOut(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), 50*time.Millisecond)
	id := register(t, m, "ana")

	time.Sleep(120 * time.Millisecond)
	m.Sweep()

	_, err := m.Get(id)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Contains(t, f.speaker.said(id), "Sessão encerrada por inatividade.")
}

func TestExecuteAndClearCart(t *testing.T) {
	f := setup(t)
	m := f.manager(math.Inf(-1), time.Minute)
	ctx := context.Background()
	id := register(t, m, "ana")

	reply, err := m.Execute(ctx, id, intent.Intent{Kind: intent.AddToCart, ProductHint: "feijão", Quantity: 2})
	require.NoError(t, err)
	require.Len(t, reply.Cart, 1)
	assert.True(t, reply.Total.Equal(decimal.RequireFromString("14.98")))

	_, err = m.Execute(ctx, id, intent.Intent{Kind: intent.UpdateProduct, ProductHint: "arroz"})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	reply, err = m.ClearCart(id)
	require.NoError(t, err)
	assert.Empty(t, reply.Cart)
	assert.Equal(t, 0, reply.Session.CartLines)

	p, err := f.db.FindProduct(ctx, "feijao")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)
}
