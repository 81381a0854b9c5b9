package hdwallet

import (
	"context"
	"sync"

	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("hdwallet")

// Curve selects which of the two master keys an HDWallet's accounts
// derive under, per spec.md §4.3.
type Curve int

const (
	CurveSecp256k1 Curve = iota
	CurveEd25519
)

// HDWallet owns a map account_id → HDAccount behind a single mutex, per
// spec.md §4.2/§4.3. Go has no first-class "asynchronous mutex"; this
// wallet uses sync.Mutex with short, non-blocking-I/O critical sections
// for every path except the HW-confirmation flow in hwconfirm.go, which
// spec.md §9 explicitly calls out as the one intentional exception.
type HDWallet struct {
	mu       sync.Mutex
	master   *MasterKeys
	storage  Storage
	walletID string
	coinType uint32
	gapLimit uint32
	curve    Curve
	accounts map[uint32]*HDAccount
}

// NewHDWallet constructs a wallet over an already-expanded MasterKeys,
// to be populated from storage or fresh CreateAccount calls. Lifecycle
// per spec.md §4.2: created at coin activation, accounts destroyed only
// on coin deactivation.
func NewHDWallet(master *MasterKeys, storage Storage, walletID string, coinType, gapLimit uint32, curve Curve) *HDWallet {
	return &HDWallet{
		master:   master,
		storage:  storage,
		walletID: walletID,
		coinType: coinType,
		gapLimit: gapLimit,
		curve:    curve,
		accounts: make(map[uint32]*HDAccount),
	}
}

func (w *HDWallet) GapLimit() uint32 { return w.gapLimit }
func (w *HDWallet) CoinType() uint32 { return w.coinType }

func (w *HDWallet) buildScheme(accountID uint32) (KeyScheme, error) {
	switch w.curve {
	case CurveEd25519:
		return &ed25519Scheme{accountKey: w.master.ed25519Account(w.coinType, accountID)}, nil
	default:
		priv, err := w.master.secp256k1Account(w.coinType, accountID)
		if err != nil {
			return nil, err
		}
		pub, err := priv.Neuter()
		if err != nil {
			return nil, kdferrors.New(kdferrors.KindInternal, "neuter_account_key_failed", err)
		}
		return &secp256k1Scheme{accountPub: pub, accountPriv: priv}, nil
	}
}

// CreateAccount derives and registers a fresh HDAccount, persisting its
// initial (zeroed) counters and account_xpub row.
func (w *HDWallet) CreateAccount(ctx context.Context, accountID uint32) (*HDAccount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.accounts[accountID]; exists {
		return nil, kdferrors.New(kdferrors.KindContentMismatch, "account_already_exists", nil)
	}
	scheme, err := w.buildScheme(accountID)
	if err != nil {
		return nil, err
	}
	account := newHDAccount(accountID, scheme)
	w.accounts[accountID] = account

	if w.storage != nil {
		xpub, err := scheme.serializedAccountXPub()
		if err != nil {
			return nil, err
		}
		if err := w.storage.SaveAccount(ctx, AccountRow{
			WalletID:    w.walletID,
			AccountID:   accountID,
			AccountXPub: xpub,
		}); err != nil {
			return nil, kdferrors.New(kdferrors.KindStorage, "save_account_failed", err)
		}
	}
	log.Debug("hd account created", "wallet_id", w.walletID, "account_id", accountID)
	return account, nil
}

// Account returns the in-memory HDAccount, restoring its counters from
// storage on first access within this process if present.
func (w *HDWallet) Account(ctx context.Context, accountID uint32) (*HDAccount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accountLocked(ctx, accountID)
}

func (w *HDWallet) accountLocked(ctx context.Context, accountID uint32) (*HDAccount, error) {
	if account, ok := w.accounts[accountID]; ok {
		return account, nil
	}
	scheme, err := w.buildScheme(accountID)
	if err != nil {
		return nil, err
	}
	account := newHDAccount(accountID, scheme)
	if w.storage != nil {
		row, found, err := w.storage.LoadAccount(ctx, w.walletID, accountID)
		if err != nil {
			return nil, kdferrors.New(kdferrors.KindStorage, "load_account_failed", err)
		}
		if found {
			account.setKnownAddresses(ChainExternal, row.ExternalCount)
			account.setKnownAddresses(ChainInternal, row.InternalCount)
		}
	}
	w.accounts[accountID] = account
	return account, nil
}

func (w *HDWallet) persistCounters(ctx context.Context, account *HDAccount) error {
	if w.storage == nil {
		return nil
	}
	xpub, err := account.scheme.serializedAccountXPub()
	if err != nil {
		return err
	}
	return w.storage.SaveAccount(ctx, AccountRow{
		WalletID:      w.walletID,
		AccountID:     account.AccountID,
		ExternalCount: account.knownExternal,
		InternalCount: account.knownInternal,
		AccountXPub:   xpub,
	})
}

// NewAddress derives the next address beyond the known-counter for
// chain, increments the counter, and persists it. Fails with
// AddressLimitReached once the next counter value would reach the
// hardened boundary, per spec.md §4.3 and the literal scenario in
// spec.md §8 ("succeeds and counter becomes 6" — only >= 2^31 fails).
func (w *HDWallet) NewAddress(ctx context.Context, accountID uint32, chain Bip44Chain, encoder AddressEncoder) (string, uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	account, err := w.accountLocked(ctx, accountID)
	if err != nil {
		return "", 0, err
	}
	index := account.KnownAddresses(chain)
	if index+1 >= HardenedOffset {
		return "", 0, kdferrors.ErrAddressLimitReached
	}
	addr, err := w.deriveAddressLocked(account, chain, index, encoder)
	if err != nil {
		return "", 0, err
	}
	account.setKnownAddresses(chain, index+1)
	if err := w.persistCounters(ctx, account); err != nil {
		return "", 0, err
	}
	return addr, index, nil
}

// AddressEncoder converts a derived raw public key into a chain's
// display address; implemented by coins.Coin's AddressOf method in the
// full wiring, kept as a narrow local interface so this package does
// not import internal/coins.
type AddressEncoder interface {
	AddressOf(pubkey []byte) (string, error)
}

func (w *HDWallet) deriveAddressLocked(account *HDAccount, chain Bip44Chain, index uint32, encoder AddressEncoder) (string, error) {
	if addr, ok := account.cachedAddress(chain, index); ok {
		return addr, nil
	}
	pub, err := account.derivePubkeyAt(chain, index)
	if err != nil {
		return "", err
	}
	addr, err := encoder.AddressOf(pub)
	if err != nil {
		return "", err
	}
	account.cacheAddress(chain, index, addr)
	return addr, nil
}

// ActivityProbe reports whether an address at a given index has any
// on-chain activity, used by GapLimitScan; implemented by the coin's
// balance/tx-history lookup in the full wiring.
type ActivityProbe func(ctx context.Context, address string) (bool, error)

// GapLimitScan probes indices beyond the known-counter up to gap_limit
// consecutive empty addresses, advancing the counter when activity is
// found, per spec.md §4.3's "background scan" note.
func (w *HDWallet) GapLimitScan(ctx context.Context, accountID uint32, chain Bip44Chain, encoder AddressEncoder, probe ActivityProbe) error {
	w.mu.Lock()
	account, err := w.accountLocked(ctx, accountID)
	w.mu.Unlock()
	if err != nil {
		return err
	}

	start := account.KnownAddresses(chain)
	consecutiveEmpty := 0
	lastActive := start

	for index := start; consecutiveEmpty < int(w.gapLimit); index++ {
		if index+1 >= HardenedOffset {
			break
		}
		w.mu.Lock()
		addr, derr := w.deriveAddressLocked(account, chain, index, encoder)
		w.mu.Unlock()
		if derr != nil {
			return derr
		}
		active, err := probe(ctx, addr)
		if err != nil {
			return err
		}
		if active {
			lastActive = index + 1
			consecutiveEmpty = 0
		} else {
			consecutiveEmpty++
		}
	}

	if lastActive > start {
		w.mu.Lock()
		account.setKnownAddresses(chain, lastActive)
		perr := w.persistCounters(ctx, account)
		w.mu.Unlock()
		if perr != nil {
			return perr
		}
	}
	return nil
}
