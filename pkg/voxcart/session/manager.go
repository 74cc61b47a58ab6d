package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/cart"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
)

const DefaultTTL = 15 * time.Minute

type Extractor interface {
	Extract(clip *audio.Clip) (features.Vector, error)
}

type Enroller interface {
	Commit(ctx context.Context, username string, vectors []features.Vector, accessLevel ...string) (*models.User, error)
}

type Verifier interface {
	Verify(ctx context.Context, username string, clip *audio.Clip) (*biometric.Verification, error)
	VerifyVector(ctx context.Context, username string, vec features.Vector) (*biometric.Verification, error)
}

// Catalog is the product store commands run against.
type Catalog interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*models.Product, error)
	UpdateProduct(ctx context.Context, name string, upd models.ProductUpdate) (*models.Product, error)
	DeleteProduct(ctx context.Context, name string) error
}

// Speaker receives every prompt a session produces.
type Speaker interface {
	Say(sessionID, text string)
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Deps struct {
	Extractor Extractor
	Enroller  Enroller
	Verifier  Verifier
	Catalog   Catalog
	Ledger    *cart.Ledger
	Speaker   Speaker
	Machine   Machine
	TTL       time.Duration
	Log       Logger
}

// Session is one live conversation. Its fields are guarded by mu; Manager methods
// hold it for the whole event so events for one session never interleave.
type Session struct {
	mu      sync.Mutex
	id      string
	status  Status
	cart    *cart.Cart
	vectors []features.Vector
	created time.Time
	dropped atomic.Bool
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID        string
	Username  string
	Access    string
	State     State
	Step      int
	Samples   int
	CartLines int
	CreatedAt time.Time
}

// Reply is what one event produced.
type Reply struct {
	Session      Snapshot
	Messages     []string
	Intent       intent.Intent
	Products     []models.Product
	Product      *models.Product
	Cart         []models.CartItem
	Total        decimal.Decimal
	Sale         *models.Sale
	Verification *biometric.Verification
}

type Manager struct {
	deps  Deps
	cache *gocache.Cache
	log   Logger
}

func NewManager(deps Deps) *Manager {
	if deps.TTL <= 0 {
		deps.TTL = DefaultTTL
	}
	if deps.Machine.Samples <= 0 {
		deps.Machine = DefaultMachine
	}
	if deps.Log == nil {
		deps.Log = logger.GetLogger().Named("session")
	}

	m := &Manager{
		deps:  deps,
		cache: gocache.New(deps.TTL, deps.TTL/2),
		log:   deps.Log,
	}
	m.cache.OnEvicted(m.evicted)
	return m
}

// evicted closes sessions that expired in the cache. Sessions removed through drop
// are already finished.
func (m *Manager) evicted(id string, v interface{}) {
	s, ok := v.(*Session)
	if !ok || s.dropped.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == Closed {
		return
	}
	next, effects, err := m.deps.Machine.Transition(s.status, Event{Kind: TimedOut})
	if err != nil {
		return
	}
	m.log.Infof("session %s for %q timed out", id, s.status.Username)
	m.apply(context.Background(), s, next, effects, &Reply{})
}

// Count is the number of live sessions.
func (m *Manager) Count() int { return m.cache.ItemCount() }

// Sweep closes every idle session past its TTL.
func (m *Manager) Sweep() { m.cache.DeleteExpired() }

func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.snapshot(s), nil
}

// Cart returns a copy of the session's cart lines and total.
func (m *Manager) Cart(id string) ([]models.CartItem, decimal.Decimal, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return nil, decimal.Zero, fmt.Errorf("%w: not logged in", models.ErrInvalidState)
	}
	return s.cart.Items(), s.cart.Total(), nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	s := v.(*Session)
	// Refresh the idle deadline.
	m.cache.Set(id, s, gocache.DefaultExpiration)
	return s, nil
}

func (m *Manager) snapshot(s *Session) Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Username:  s.status.Username,
		Access:    s.status.Access,
		State:     s.status.State,
		Step:      s.status.Step,
		Samples:   m.deps.Machine.Samples,
		CreatedAt: s.created,
	}
	if s.cart != nil {
		snap.CartLines = s.cart.Len()
	}
	return snap
}

// drop removes s from the cache without running the timeout path. It may be called
// with s.mu held.
func (m *Manager) drop(s *Session) {
	s.dropped.Store(true)
	m.cache.Delete(s.id)
}

func (m *Manager) newSession() *Session {
	s := &Session{id: utils.GenerateUUID(), status: Status{State: Anonymous}, created: time.Now()}
	m.cache.Set(s.id, s, gocache.DefaultExpiration)
	return s
}

// StartRegistration opens a session that walks username through voice enrollment.
func (m *Manager) StartRegistration(ctx context.Context, username string, accessLevel ...string) (*Reply, error) {
	username = utils.NormalizeKey(username)
	exists := false
	if username != "" {
		_, err := m.deps.Catalog.GetUser(ctx, username)
		switch {
		case err == nil:
			exists = true
		case !errors.Is(err, models.ErrUserNotFound):
			return nil, err
		}
	}
	access := ""
	if len(accessLevel) > 0 {
		access = accessLevel[0]
	}

	s := m.newSession()
	reply, err := m.fire(ctx, s, Event{Kind: RegistrationStarted, Username: username, UserExists: exists, Access: access})
	if err != nil {
		m.drop(s)
	}
	return reply, err
}

// SubmitEnrollmentSample feeds the next enrollment clip. Unusable clips use up the step.
func (m *Manager) SubmitEnrollmentSample(ctx context.Context, id string, clip *audio.Clip) (*Reply, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != Enrolling {
		return m.reply(s), fmt.Errorf("%w: not enrolling", models.ErrInvalidState)
	}

	vec, err := m.deps.Extractor.Extract(clip)
	if err != nil {
		m.log.Debugf("session %s: enrollment sample %d unusable: %v", id, s.status.Step, err)
	} else {
		s.vectors = append(s.vectors, vec)
	}
	return m.fireLocked(ctx, s, Event{Kind: SampleCaptured, SampleOK: err == nil}, runCtx{})
}

// StartLogin opens a session that waits for one verification sample.
func (m *Manager) StartLogin(ctx context.Context, username string) (*Reply, error) {
	s := m.newSession()
	reply, err := m.fire(ctx, s, Event{Kind: LoginStarted, Username: utils.NormalizeKey(username)})
	if err != nil {
		m.drop(s)
	}
	return reply, err
}

func (m *Manager) SubmitLoginSample(ctx context.Context, id string, clip *audio.Clip) (*Reply, error) {
	return m.submitLogin(ctx, id, runCtx{clip: clip})
}

// SubmitLoginVector verifies a feature vector computed on the client.
func (m *Manager) SubmitLoginVector(ctx context.Context, id string, vec features.Vector) (*Reply, error) {
	return m.submitLogin(ctx, id, runCtx{vector: vec})
}

func (m *Manager) submitLogin(ctx context.Context, id string, rc runCtx) (*Reply, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != Authenticating {
		return m.reply(s), fmt.Errorf("%w: not authenticating", models.ErrInvalidState)
	}
	return m.fireLocked(ctx, s, Event{Kind: SampleCaptured, SampleOK: true}, rc)
}

// HandleCommand classifies text and runs it in an authenticated session.
func (m *Manager) HandleCommand(ctx context.Context, id, text string) (*Reply, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != Authenticated {
		return m.reply(s), fmt.Errorf("%w: not logged in", models.ErrInvalidState)
	}

	products, err := m.deps.Catalog.ListProducts(ctx)
	if err != nil {
		return m.reply(s), err
	}
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.Name
	}
	cmd := intent.NewDispatcher(intent.StaticNames(names...)).Classify(text)
	m.log.Debugf("session %s: %q -> %s", id, text, cmd.Kind)

	return m.fireLocked(ctx, s, Event{Kind: CommandReceived, Command: cmd}, runCtx{})
}

// Execute runs an already classified command, with the same permission checks as
// spoken ones.
func (m *Manager) Execute(ctx context.Context, id string, cmd intent.Intent) (*Reply, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != Authenticated {
		return m.reply(s), fmt.Errorf("%w: not logged in", models.ErrInvalidState)
	}
	return m.fireLocked(ctx, s, Event{Kind: CommandReceived, Command: cmd}, runCtx{})
}

// ClearCart empties the session's cart without touching stock.
func (m *Manager) ClearCart(id string) (*Reply, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return m.reply(s), fmt.Errorf("%w: not logged in", models.ErrInvalidState)
	}
	m.deps.Ledger.Clear(s.cart)
	reply := m.reply(s)
	m.prompt(s, reply, "Carrinho esvaziado.")
	reply.Cart = s.cart.Items()
	reply.Total = s.cart.Total()
	return reply, nil
}

// Logout closes the session and discards its cart.
func (m *Manager) Logout(ctx context.Context, id string) (*Reply, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.fire(ctx, s, Event{Kind: LogoutRequested})
}

// runCtx carries per-call inputs that effects need but the pure machine never sees.
type runCtx struct {
	clip   *audio.Clip
	vector features.Vector
}

func (m *Manager) fire(ctx context.Context, s *Session, e Event) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.fireLocked(ctx, s, e, runCtx{})
}

// fireLocked runs one event and any follow-up events its effects produce.
func (m *Manager) fireLocked(ctx context.Context, s *Session, e Event, rc runCtx) (*Reply, error) {
	reply := &Reply{}
	next, effects, err := m.deps.Machine.Transition(s.status, e)
	if e.Kind == CommandReceived {
		reply.Intent = e.Command
	}
	for {
		followUp, effErr := m.apply(ctx, s, next, effects, reply, rc)
		if err == nil {
			err = effErr
		}
		if followUp == nil {
			break
		}
		var ferr error
		next, effects, ferr = m.deps.Machine.Transition(s.status, *followUp)
		if ferr != nil {
			err = ferr
		}
	}

	if s.status.State == Closed {
		m.drop(s)
	}
	reply.Session = m.snapshot(s)
	return reply, err
}

func (m *Manager) reply(s *Session) *Reply {
	return &Reply{Session: m.snapshot(s)}
}

// apply commits next and performs effects. Effects that resolve asynchronous
// machine steps return the follow-up event.
func (m *Manager) apply(ctx context.Context, s *Session, next Status, effects []Effect, reply *Reply, rcs ...runCtx) (*Event, error) {
	var rc runCtx
	if len(rcs) > 0 {
		rc = rcs[0]
	}
	s.status = next

	var followUp *Event
	var err error
	for _, eff := range effects {
		switch eff.Kind {
		case Prompt:
			m.prompt(s, reply, eff.Message)

		case OpenCart:
			s.cart = cart.New()

		case DiscardCart:
			s.cart = nil

		case RunEnrollment:
			vectors := s.vectors
			s.vectors = nil
			_, enrollErr := m.deps.Enroller.Commit(ctx, s.status.Username, vectors, s.status.Access)
			followUp = &Event{Kind: EnrollmentFinished, Err: enrollErr}

		case RunVerification:
			var v *biometric.Verification
			var verr error
			if rc.vector != nil {
				v, verr = m.deps.Verifier.VerifyVector(ctx, s.status.Username, rc.vector)
			} else {
				v, verr = m.deps.Verifier.Verify(ctx, s.status.Username, rc.clip)
			}
			reply.Verification = v
			ev := Event{Kind: VerificationFinished, Err: verr}
			if verr == nil {
				if u, uerr := m.deps.Catalog.GetUser(ctx, s.status.Username); uerr == nil {
					ev.Access = u.AccessLevel
				}
			}
			followUp = &ev

		case Execute:
			err = m.execute(ctx, s, eff.Command, reply)
		}
	}
	if s.status.State != Enrolling {
		s.vectors = nil
	}
	return followUp, err
}

func (m *Manager) prompt(s *Session, reply *Reply, msg string) {
	reply.Messages = append(reply.Messages, msg)
	if m.deps.Speaker != nil {
		m.deps.Speaker.Say(s.id, msg)
	}
}

func money(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// execute runs a command against the catalog and cart. Failures are reported to the
// user and returned, but never end the session.
func (m *Manager) execute(ctx context.Context, s *Session, cmd intent.Intent, reply *Reply) error {
	ledger := m.deps.Ledger
	c := s.cart

	switch cmd.Kind {
	case intent.ListProducts:
		products, err := m.deps.Catalog.ListProducts(ctx)
		if err != nil {
			return m.fail(s, reply, err)
		}
		reply.Products = products
		if len(products) == 0 {
			m.prompt(s, reply, "Não há produtos cadastrados.")
			return nil
		}
		for _, p := range products {
			m.prompt(s, reply, fmt.Sprintf("%s - %s reais - Estoque: %d", p.Name, money(p.Price), p.Stock))
		}

	case intent.AddToCart:
		if cmd.ProductHint == "" {
			m.prompt(s, reply, "Qual produto você deseja comprar?")
			return nil
		}
		item, err := ledger.AddItem(ctx, c, cmd.ProductHint, cmd.Quantity)
		if err != nil {
			return m.fail(s, reply, err)
		}
		m.prompt(s, reply, fmt.Sprintf("Adicionado %d %s ao carrinho.", cmd.Quantity, item.Product))

	case intent.RemoveFromCart:
		if cmd.ProductHint == "" {
			m.prompt(s, reply, "Qual produto você deseja remover?")
			return nil
		}
		item, err := ledger.RemoveItem(c, cmd.ProductHint, cmd.Quantity)
		if err != nil {
			return m.fail(s, reply, err)
		}
		m.prompt(s, reply, fmt.Sprintf("Removido %d %s do carrinho.", item.Quantity, item.Product))

	case intent.ViewCart:
		if c.IsEmpty() {
			m.prompt(s, reply, "Seu carrinho está vazio.")
			break
		}
		m.prompt(s, reply, "Itens no seu carrinho:")
		for _, it := range c.Items() {
			m.prompt(s, reply, fmt.Sprintf("%d x %s - %s reais", it.Quantity, it.Product, money(it.Subtotal())))
		}
		m.prompt(s, reply, fmt.Sprintf("Total do carrinho: %s reais", money(c.Total())))

	case intent.Checkout:
		sale, err := ledger.Checkout(ctx, c, s.status.Username)
		if err != nil {
			return m.fail(s, reply, err)
		}
		reply.Sale = sale
		m.prompt(s, reply, fmt.Sprintf("Compra finalizada com sucesso! Total: %s reais", money(sale.Total)))
		m.prompt(s, reply, "Obrigado pela compra!")

	case intent.AddProduct:
		if cmd.Name == "" || cmd.Price == nil {
			m.prompt(s, reply, "Diga o nome e o preço do produto, por exemplo: cadastrar sal por dois reais estoque dez.")
			return nil
		}
		stock := 0
		if cmd.Stock != nil {
			stock = *cmd.Stock
		}
		p, err := m.deps.Catalog.CreateProduct(ctx, cmd.Name, *cmd.Price, stock)
		if err != nil {
			return m.fail(s, reply, err)
		}
		reply.Product = p
		m.prompt(s, reply, fmt.Sprintf("Produto %s cadastrado com sucesso!", p.Name))

	case intent.UpdateProduct:
		if cmd.ProductHint == "" || (cmd.Price == nil && cmd.Stock == nil) {
			m.prompt(s, reply, "Diga o produto e o novo preço ou estoque.")
			return nil
		}
		p, err := m.deps.Catalog.UpdateProduct(ctx, cmd.ProductHint, models.ProductUpdate{Price: cmd.Price, Stock: cmd.Stock})
		if err != nil {
			return m.fail(s, reply, err)
		}
		reply.Product = p
		m.prompt(s, reply, "Produto atualizado com sucesso!")

	case intent.RemoveProduct:
		if cmd.ProductHint == "" {
			m.prompt(s, reply, "Qual produto você deseja excluir?")
			return nil
		}
		if err := m.deps.Catalog.DeleteProduct(ctx, cmd.ProductHint); err != nil {
			return m.fail(s, reply, err)
		}
		m.prompt(s, reply, fmt.Sprintf("Produto %s removido.", cmd.ProductHint))
	}

	if c != nil {
		reply.Cart = c.Items()
		reply.Total = c.Total()
	}
	return nil
}

func (m *Manager) fail(s *Session, reply *Reply, err error) error {
	var msg string
	switch {
	case errors.Is(err, models.ErrProductNotFound):
		msg = "Produto não encontrado."
	case errors.Is(err, models.ErrInsufficientStock):
		msg = "Quantidade indisponível em estoque."
	case errors.Is(err, models.ErrItemNotInCart):
		msg = "Esse produto não está no carrinho."
	case errors.Is(err, models.ErrEmptyCart):
		msg = "Seu carrinho está vazio."
	case errors.Is(err, models.ErrDuplicateProduct):
		msg = "Esse produto já está cadastrado."
	case errors.Is(err, models.ErrInvalidQuantity):
		msg = fmt.Sprintf("Quantidade inválida. Use de 1 a %d unidades.", models.MaxQuantity)
	case errors.Is(err, models.ErrInvalidProduct):
		msg = "Dados do produto inválidos."
	default:
		m.log.Warnf("session %s: command failed: %v", s.id, err)
		msg = "Não foi possível concluir o comando."
	}
	m.prompt(s, reply, msg)
	if s.cart != nil {
		reply.Cart = s.cart.Items()
		reply.Total = s.cart.Total()
	}
	return err
}
