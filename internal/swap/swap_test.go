package swap

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/p2p"
)

// memStorage is a trivial in-memory Storage used by every test in this
// package, mirroring txhistory's memStore pattern.
type memStorage struct {
	mu   sync.Mutex
	logs map[uuid.UUID][]Event
}

func newMemStorage() *memStorage { return &memStorage{logs: make(map[uuid.UUID][]Event)} }

func (s *memStorage) Append(ctx context.Context, swapUUID uuid.UUID, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[swapUUID] = append(s.logs[swapUUID], event)
	return nil
}

func (s *memStorage) Load(ctx context.Context, swapUUID uuid.UUID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.logs[swapUUID]...), nil
}

var _ Storage = (*memStorage)(nil)

// fakeCoin is a minimal coins.Coin stand-in driven entirely by test
// fixtures: every HTLC operation just echoes back deterministic,
// inspectable data rather than touching any chain.
type fakeCoin struct {
	ticker   string
	decimals int32

	mu          sync.Mutex
	spendCalls  int
	validateErr error
	validateRes coins.ValidationResult
	spentSecretOut [32]byte
}

func (c *fakeCoin) Ticker() string    { return c.ticker }
func (c *fakeCoin) Kind() coins.Kind  { return coins.KindUTXO }
func (c *fakeCoin) Decimals() int32   { return c.decimals }

func (c *fakeCoin) AddressOf(pubkey []byte) (string, error) { return string(pubkey), nil }

func (c *fakeCoin) DeriveHTLCKeypair(uniqueData []byte) (coins.HTLCKeypair, error) {
	return coins.HTLCKeypair{PrivateKey: []byte("priv-" + c.ticker), PublicKey: []byte("pub-" + c.ticker)}, nil
}

func (c *fakeCoin) SendHTLC(ctx context.Context, p coins.HTLCParams) (coins.SignedTx, error) {
	return coins.SignedTx{TxHash: c.ticker + "-send-hash", TxHex: c.ticker + "-send-hex"}, nil
}

func (c *fakeCoin) ValidateHTLC(ctx context.Context, rawTx []byte, expected coins.HTLCParams) (coins.ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validateErr != nil {
		return 0, c.validateErr
	}
	return c.validateRes, nil
}

func (c *fakeCoin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	c.mu.Lock()
	c.spendCalls++
	c.mu.Unlock()
	return coins.SignedTx{TxHash: c.ticker + "-spend-hash", TxHex: c.ticker + "-spend-hex"}, nil
}

func (c *fakeCoin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	return coins.SignedTx{TxHash: c.ticker + "-refund-hash", TxHex: c.ticker + "-refund-hex"}, nil
}

func (c *fakeCoin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	return c.spentSecretOut, nil
}

func (c *fakeCoin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	return nil
}

func (c *fakeCoin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	return []byte(c.ticker + "-spend-tx"), nil
}

func (c *fakeCoin) CurrentBlock(ctx context.Context) (uint64, error) { return 100, nil }

func (c *fakeCoin) Balance(ctx context.Context, address string) (coins.Amount, error) {
	return coins.MustAmount("0"), nil
}

func (c *fakeCoin) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	return c.ticker + "-broadcast-hash", nil
}

var _ coins.Coin = (*fakeCoin)(nil)

// pairedTopics returns two ends of an in-memory topic, each seeing the
// other's Publish calls via its own Next, matching p2p.Topic's
// single-consumer-per-swap contract.
func pairedTopics() (topic, topic) {
	a := make(chan *p2p.Message, 16)
	b := make(chan *p2p.Message, 16)
	return &memTopic{out: b, in: a}, &memTopic{out: a, in: b}
}

type memTopic struct {
	out chan<- *p2p.Message
	in  <-chan *p2p.Message
}

func (m *memTopic) Publish(ctx context.Context, data []byte) error {
	m.out <- &p2p.Message{Data: data}
	return nil
}

func (m *memTopic) Next(ctx context.Context) (*p2p.Message, error) {
	select {
	case msg := <-m.in:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ topic = (*memTopic)(nil)

func newTestSwap(role Role, storage Storage) *Swap {
	maker := &fakeCoin{ticker: "BTC", decimals: 8, validateRes: coins.ValidationOK}
	taker := &fakeCoin{ticker: "ETH", decimals: 18, validateRes: coins.ValidationOK}
	return New(role, maker, taker, coins.MustAmount("1"), coins.MustAmount("10"), []byte("my-pubkey"), nil, storage)
}

func TestEventLogReplayResumesAtCorrectState(t *testing.T) {
	storage := newMemStorage()
	s := newTestSwap(RoleMaker, storage)
	ctx := context.Background()

	require.NoError(t, s.appendEvent(ctx, newEvent(EventStarted)))
	require.NoError(t, s.appendEvent(ctx, newEvent(EventNegotiationSent)))
	require.NoError(t, s.appendEvent(ctx, newEvent(EventNegotiationReceived)))

	resumed, err := Resume(RoleMaker, s.UUID, s.MakerCoin, s.TakerCoin, storage)
	require.NoError(t, err)
	require.Len(t, resumed.EventLog(), 3)

	m := &Maker{Swap: resumed}
	require.Equal(t, makerWaitingForTakerFee, m.resumeState())
}

func TestSwapIsFinishedAfterFinishedEvent(t *testing.T) {
	storage := newMemStorage()
	s := newTestSwap(RoleTaker, storage)
	ctx := context.Background()
	require.False(t, s.IsFinished())
	require.NoError(t, s.appendEvent(ctx, newEvent(EventFinished)))
	require.True(t, s.IsFinished())
}

func TestFailureEventCarriesKdfErrorKind(t *testing.T) {
	e := failureEvent(EventNegotiateFailed, kdferrors.ErrWrongPayment)
	require.Equal(t, "content_mismatch", e.FailKind)
	require.NotEmpty(t, e.FailMsg)
}

func TestMakerNegotiationEnforcesLocktimeInvariant(t *testing.T) {
	storage := newMemStorage()
	s := newTestSwap(RoleMaker, storage)
	s.StartedAt = time.Now()
	s.MakerPaymentLocktime = s.StartedAt.Add(2 * time.Minute)
	makerSide, takerSide := pairedTopics()
	m := &Maker{Swap: s, Topic: makerSide, LockDuration: time.Minute}
	m.htlcKeypair.PublicKey = []byte("maker-pub")

	// The counterparty replies with a locktime that violates maker >
	// taker by publishing its own (bad) locktime equal to the maker's.
	go func() {
		var theirs negotiationPayload
		_ = waitFor(context.Background(), takerSide, msgNegotiation, &theirs)
		bad := negotiationPayload{PaymentLocktime: s.MakerPaymentLocktime.Unix(), SwapContract: "ETH", Pubkey: "aa"}
		_ = publish(context.Background(), takerSide, msgNegotiation, bad)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.doNegotiation(ctx))

	last, ok := m.LastEvent()
	require.True(t, ok)
	require.Equal(t, EventNegotiateFailed, last.Kind)
}

func TestMakerResumeStateMapsEveryNonFailureEvent(t *testing.T) {
	cases := []struct {
		kind EventKind
		want makerState
	}{
		{EventStarted, makerNegotiation},
		{EventNegotiationReceived, makerWaitingForTakerFee},
		{EventTakerFeeValidated, makerSendingMakerPayment},
		{EventMakerPaymentSent, makerWaitingForTakerPayment},
		{EventTakerPaymentValidated, makerSpendingTakerPayment},
		{EventFinished, makerFinished},
	}
	for _, c := range cases {
		s := &Swap{eventLog: []Event{newEvent(c.kind)}}
		m := &Maker{Swap: s}
		require.Equal(t, c.want, m.resumeState(), "kind=%s", c.kind)
	}
}

func TestTakerResumeStateMapsEveryNonFailureEvent(t *testing.T) {
	cases := []struct {
		kind EventKind
		want takerState
	}{
		{EventStarted, takerNegotiation},
		{EventNegotiationReceived, takerSendingTakerFee},
		{EventTakerFeeSent, takerWaitingForMakerPayment},
		{EventMakerPaymentValidated, takerSendingTakerPayment},
		{EventTakerPaymentSent, takerWaitingForTakerPaymentSpend},
		{EventTakerPaymentSpent, takerSpendingMakerPayment},
		{EventFinished, takerFinished},
	}
	for _, c := range cases {
		s := &Swap{eventLog: []Event{newEvent(c.kind)}}
		tk := &Taker{Swap: s}
		require.Equal(t, c.want, tk.resumeState(), "kind=%s", c.kind)
	}
}

func TestWatcherNeverSignsOnlyInsertsSecretAndBroadcasts(t *testing.T) {
	storage := newMemStorage()
	s := newTestSwap(RoleWatcher, storage)
	s.SecretHash = sha256.Sum256([]byte("secret"))
	maker := s.MakerCoin.(*fakeCoin)
	w := NewWatcher(s, []byte("taker-payment-hex"), []byte("preimage-missing-secret"), 1)
	w.extractedSecret = [32]byte{1, 2, 3}

	ctx := context.Background()
	require.NoError(t, w.doSpendMakerPaymentOnBehalf(ctx))

	last, ok := w.LastEvent()
	require.True(t, ok)
	require.Equal(t, EventMakerPaymentSpent, last.Kind)
	require.Equal(t, 0, maker.spendCalls, "watcher must never call SpendHTLC, only Broadcast")
}
