package hdwallet

import (
	"fmt"

	"github.com/btcsuite/btcutil/hdkeychain"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// KeyScheme abstracts the secp256k1/ed25519 derivation split behind one
// shape an HDAccount can drive regardless of which curve the activated
// coin needs. addressPubkey is a pure function of the scheme's
// account-level key material, per spec.md §4.3's "derive(xpub, chain,
// index) is pure" invariant; privateKey is derived fresh on each call
// and never cached.
type KeyScheme interface {
	addressPubkey(chain Bip44Chain, index uint32) ([]byte, error)
	privateKey(chain Bip44Chain, index uint32) ([]byte, error)
	serializedAccountXPub() (string, error)
}

type secp256k1Scheme struct {
	accountPub  *hdkeychain.ExtendedKey // neutered: public-only
	accountPriv *hdkeychain.ExtendedKey // retained only to derive signing keys on demand
}

func (s *secp256k1Scheme) addressPubkey(chain Bip44Chain, index uint32) ([]byte, error) {
	return deriveSecp256k1ChainIndexPubkey(s.accountPub, chain, index)
}

func (s *secp256k1Scheme) privateKey(chain Bip44Chain, index uint32) ([]byte, error) {
	priv, err := deriveSecp256k1ChainIndexPrivkey(s.accountPriv, chain, index)
	if err != nil {
		return nil, err
	}
	return priv.Serialize(), nil
}

func (s *secp256k1Scheme) serializedAccountXPub() (string, error) {
	return s.accountPub.String(), nil
}

type ed25519Scheme struct {
	// SLIP-10 ed25519 has no pubkey-only child derivation (see derive.go's
	// Ed25519ExtendedKey doc), so unlike the secp256k1 branch this scheme
	// retains the account-level private extended key to derive both
	// addresses and signing keys; there is no narrower "public-only"
	// artifact to persist in its place.
	accountKey Ed25519ExtendedKey
}

func (s *ed25519Scheme) addressPubkey(chain Bip44Chain, index uint32) ([]byte, error) {
	if index >= HardenedOffset {
		return nil, kdferrors.ErrAddressLimitReached
	}
	leaf := s.accountKey.DeriveHardened(uint32(chain)).DeriveHardened(index)
	return ed25519PublicFromSeed(leaf.Key), nil
}

func (s *ed25519Scheme) privateKey(chain Bip44Chain, index uint32) ([]byte, error) {
	if index >= HardenedOffset {
		return nil, kdferrors.ErrAddressLimitReached
	}
	leaf := s.accountKey.DeriveHardened(uint32(chain)).DeriveHardened(index)
	key := leaf.Key
	return key[:], nil
}

func (s *ed25519Scheme) serializedAccountXPub() (string, error) {
	// There being no public-only derivation artifact, the storage
	// contract's account_xpub column holds a hex tag instead; see
	// DESIGN.md's Open Question decision for this package.
	return fmt.Sprintf("ed25519:%x", s.accountKey.ChainCode), nil
}

// addressKey is the (chain, index) key into an HDAccount's address
// cache, per spec.md §4.3.
type addressKey struct {
	chain Bip44Chain
	index uint32
}

// HDAccount is owned by an HDWallet. See spec.md §4.2's HDAccount type:
// account_id, extended_pubkey (opaque here, behind KeyScheme),
// known_external_addresses, known_internal_addresses, address_cache.
type HDAccount struct {
	AccountID     uint32
	scheme        KeyScheme
	knownExternal uint32
	knownInternal uint32
	addressCache  map[addressKey]string
}

func newHDAccount(accountID uint32, scheme KeyScheme) *HDAccount {
	return &HDAccount{
		AccountID:    accountID,
		scheme:       scheme,
		addressCache: make(map[addressKey]string),
	}
}

// KnownAddresses returns the known-counter for chain, per spec.md §4.3's
// per-(wallet_id,account_id) persisted counters.
func (a *HDAccount) KnownAddresses(chain Bip44Chain) uint32 {
	if chain == ChainInternal {
		return a.knownInternal
	}
	return a.knownExternal
}

func (a *HDAccount) setKnownAddresses(chain Bip44Chain, count uint32) {
	if chain == ChainInternal {
		a.knownInternal = count
	} else {
		a.knownExternal = count
	}
}

// derivePubkeyAt returns the compressed/raw public key bytes at
// chain/index without caching them (cacheAddress stores only the encoded
// address); it does not touch the known-addresses counter.
func (a *HDAccount) derivePubkeyAt(chain Bip44Chain, index uint32) ([]byte, error) {
	return a.scheme.addressPubkey(chain, index)
}

// PrivateKeyAt derives the signing key at chain/index on demand; per
// spec.md §4.3 callers must use it immediately and let it go out of
// scope rather than caching it alongside the address cache.
func (a *HDAccount) PrivateKeyAt(chain Bip44Chain, index uint32) ([]byte, error) {
	return a.scheme.privateKey(chain, index)
}

func (a *HDAccount) cachedAddress(chain Bip44Chain, index uint32) (string, bool) {
	addr, ok := a.addressCache[addressKey{chain, index}]
	return addr, ok
}

func (a *HDAccount) cacheAddress(chain Bip44Chain, index uint32, addr string) {
	a.addressCache[addressKey{chain, index}] = addr
}
