package hdwallet

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// MasterKeys holds the dual master keys spec.md §4.3 derives in
// parallel from one BIP39 seed: a secp256k1 extended private key (BIP32)
// for UTXO/ETH/Tendermint-family coins, and an ed25519 extended signing
// key (SLIP-10) for coins that require it (Sia). Grounded on
// original_source's `global_hd_ctx.rs` GlobalHDAccountCtx, which derives
// the same two master keys from one `bip39_seed` at construction.
type MasterKeys struct {
	seed       []byte
	secpMaster *hdkeychain.ExtendedKey
	edMaster   Ed25519ExtendedKey
}

// NewMasterKeys expands mnemonic (+ optional passphrase) into a 64-byte
// BIP39 seed and derives both master keys from it.
func NewMasterKeys(mnemonic, passphrase string) (*MasterKeys, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, kdferrors.New(kdferrors.KindContentMismatch, "invalid_mnemonic", nil)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	secpMaster, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindInternal, "secp256k1_master_key_failed", err)
	}
	edMaster := NewEd25519Master(seed)

	return &MasterKeys{seed: seed, secpMaster: secpMaster, edMaster: edMaster}, nil
}

// RootSeed returns the expanded 64-byte BIP39 seed.
func (m *MasterKeys) RootSeed() []byte { return m.seed }

func (m *MasterKeys) secp256k1Account(coinType, account uint32) (*hdkeychain.ExtendedKey, error) {
	return deriveSecp256k1AccountKey(m.secpMaster, coinType, account)
}

func (m *MasterKeys) ed25519Account(coinType, account uint32) Ed25519ExtendedKey {
	return DeriveEd25519Path(m.edMaster, []uint32{Purpose, coinType, account})
}
