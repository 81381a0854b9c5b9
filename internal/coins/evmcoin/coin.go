package evmcoin

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
)

var log = logging.Component("evmcoin")

// EthClient is the narrow slice of ethclient.Client's surface this
// package needs, kept as an interface so tests substitute a stub instead
// of dialing a real node — the broader Electrum/JSON-RPC/gRPC plumbing
// stays the external collaborator spec.md §1 describes.
type EthClient interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Coin implements coins.Coin for ETH and ERC20 chains (token-specific
// transfer encoding is layered in by nftcoin for the NFT variants;
// fungible ERC20 uses tokenAddr on HTLCParams the same as native ETH
// with tokenAddr left nil).
type Coin struct {
	ticker       string
	decimals     int32
	chainID      *big.Int
	client       EthClient
	contractAddr common.Address
}

func New(ticker string, decimals int32, chainID *big.Int, client EthClient, contractAddr common.Address) *Coin {
	return &Coin{ticker: ticker, decimals: decimals, chainID: chainID, client: client, contractAddr: contractAddr}
}

func (c *Coin) Ticker() string   { return c.ticker }
func (c *Coin) Kind() coins.Kind { return coins.KindEVM }
func (c *Coin) Decimals() int32  { return c.decimals }

func (c *Coin) AddressOf(pubkey []byte) (string, error) {
	pub, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return "", kdferrors.New(kdferrors.KindInternal, "bad_pubkey", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// DeriveHTLCKeypair derives a per-swap secp256k1 keypair from uniqueData,
// mirroring utxocoin's derivation so the same wallet master key produces
// consistent per-swap HTLC keys across chain families.
func (c *Coin) DeriveHTLCKeypair(uniqueData []byte) (coins.HTLCKeypair, error) {
	h := sha256.Sum256(uniqueData)
	priv, err := crypto.ToECDSA(h[:])
	if err != nil {
		return coins.HTLCKeypair{}, kdferrors.New(kdferrors.KindInternal, "htlc_keypair_derivation_failed", err)
	}
	return coins.HTLCKeypair{
		PrivateKey: crypto.FromECDSA(priv),
		PublicKey:  crypto.FromECDSAPub(&priv.PublicKey),
	}, nil
}

func (c *Coin) transactor(priv *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(priv, c.chainID)
	if err != nil {
		return nil, kdferrors.New(kdferrors.KindInternal, "transactor_build_failed", err)
	}
	return auth, nil
}

// SendHTLC ABI-encodes and broadcasts a createSwap-shaped call, per
// spec.md §4.1/§6.
func (c *Coin) SendHTLC(ctx context.Context, p coins.HTLCParams) (coins.SignedTx, error) {
	units, err := p.Amount.ToSmallestUnit(c.decimals)
	if err != nil {
		return coins.SignedTx{}, err
	}

	var tokenAddr common.Address
	if p.TokenAddr != nil {
		tokenAddr = *p.TokenAddr
	}
	receiver := common.BytesToAddress(p.Recipient)
	sender := common.BytesToAddress(p.Sender)
	id := ComputeSwapID(uint64(p.LockTime.Unix()), p.SecretHash, receiver, sender)

	data, err := EncodeHTLCCalldata(id, receiver, p.SecretHash, uint64(p.LockTime.Unix()), tokenAddr, units)
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("evmcoin: encode htlc calldata: %w", err)
	}

	priv, err := crypto.ToECDSA(p.OtherPubkey) // caller substitutes our own signing key here
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "bad_signing_key", err)
	}
	auth, err := c.transactor(priv)
	if err != nil {
		return coins.SignedTx{}, err
	}
	if tokenAddr == (common.Address{}) {
		auth.Value = units
	}

	tx := types.NewTransaction(auth.Nonce.Uint64(), c.contractAddr, auth.Value, auth.GasLimit, auth.GasPrice, data)
	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "tx_signing_failed", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	return coins.SignedTx{TxHash: signedTx.Hash().Hex(), TxHex: fmt.Sprintf("0x%x", signedTx.Data())}, nil
}

// ValidateHTLC confirms the on-chain tx's calldata matches expected
// params, per spec.md §4.1.
func (c *Coin) ValidateHTLC(ctx context.Context, rawTx []byte, expected coins.HTLCParams) (coins.ValidationResult, error) {
	txHash := common.BytesToHash(rawTx)
	tx, pending, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return coins.ValidationUnexpectedState, kdferrors.New(kdferrors.KindTransport, "tx_lookup_failed", err)
	}
	if pending {
		return coins.ValidationUnexpectedState, kdferrors.ErrUnexpectedState
	}

	id, receiver, secretHash, lockTime, tokenAddr, amount, err := DecodeHTLCCalldata(tx.Data())
	if err != nil {
		return coins.ValidationUnexpectedState, kdferrors.New(kdferrors.KindInvalidResponse, "calldata_decode_failed", err)
	}

	wantUnits, err := expected.Amount.ToSmallestUnit(c.decimals)
	if err != nil {
		return coins.ValidationUnexpectedState, err
	}
	wantReceiver := common.BytesToAddress(expected.Recipient)
	var wantToken common.Address
	if expected.TokenAddr != nil {
		wantToken = *expected.TokenAddr
	}

	if secretHash != expected.SecretHash ||
		receiver != wantReceiver ||
		tokenAddr != wantToken ||
		amount.Cmp(wantUnits) != 0 ||
		lockTime != uint64(expected.LockTime.Unix()) {
		return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
	}
	_ = id
	return coins.ValidationOK, nil
}

// SpendHTLC ABI-encodes a claim call revealing secret.
func (c *Coin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	priv, err := crypto.ToECDSA(my.PrivateKey)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "bad_signing_key", err)
	}
	id, receiver, secretHash, lockTime, tokenAddr, amount, err := DecodeHTLCCalldata(otherPaymentTx)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInvalidResponse, "calldata_decode_failed", err)
	}
	_, _ = receiver, lockTime
	sender := crypto.PubkeyToAddress(priv.PublicKey)

	data, err := EncodeSpendCalldata(id, sender, secretHash, secret, tokenAddr, amount)
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("evmcoin: encode spend calldata: %w", err)
	}

	auth, err := c.transactor(priv)
	if err != nil {
		return coins.SignedTx{}, err
	}
	tx := types.NewTransaction(auth.Nonce.Uint64(), c.contractAddr, nil, auth.GasLimit, auth.GasPrice, data)
	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "tx_signing_failed", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	return coins.SignedTx{TxHash: signedTx.Hash().Hex(), TxHex: fmt.Sprintf("0x%x", signedTx.Data())}, nil
}

// RefundHTLC encodes a refund call against our own expired payment.
func (c *Coin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	priv, err := crypto.ToECDSA(my.PrivateKey)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "bad_signing_key", err)
	}
	id, _, _, _, _, _, err := DecodeHTLCCalldata(myPaymentTx)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInvalidResponse, "calldata_decode_failed", err)
	}

	refundArgs := mustArguments(abi.Argument{Name: "id", Type: mustType("bytes32")})
	data, err := refundArgs.Pack(id)
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("evmcoin: encode refund calldata: %w", err)
	}

	auth, err := c.transactor(priv)
	if err != nil {
		return coins.SignedTx{}, err
	}
	tx := types.NewTransaction(auth.Nonce.Uint64(), c.contractAddr, nil, auth.GasLimit, auth.GasPrice, data)
	signedTx, err := auth.Signer(auth.From, tx)
	if err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "tx_signing_failed", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return coins.SignedTx{}, kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	return coins.SignedTx{TxHash: signedTx.Hash().Hex(), TxHex: fmt.Sprintf("0x%x", signedTx.Data())}, nil
}

// ExtractSecret decodes a spend tx's calldata and returns the revealed
// secret, per spec.md §8 scenario 3.
func (c *Coin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	txHash := common.BytesToHash(spendTx)
	tx, _, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return [32]byte{}, kdferrors.New(kdferrors.KindTransport, "tx_lookup_failed", err)
	}
	secret, err := DecodeSpendCalldata(tx.Data())
	if err != nil {
		return [32]byte{}, kdferrors.New(kdferrors.KindInvalidResponse, "calldata_decode_failed", err)
	}
	if sha256.Sum256(secret[:]) != secretHash {
		return [32]byte{}, kdferrors.ErrWrongSecret
	}
	return secret, nil
}

func (c *Coin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	txHash := common.BytesToHash(tx)
	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			current, err := c.client.BlockNumber(ctx)
			if err == nil && current >= receipt.BlockNumber.Uint64()+uint64(n) {
				return nil
			}
		} else {
			log.Debug("wait_for_confirmations transport error, retrying", "tx", txHash.Hex(), "err", err)
		}
		if time.Now().After(until) {
			return kdferrors.New(kdferrors.KindTransport, "confirmation_wait_timed_out", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Coin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	// Spend detection is not implemented for EVM coins: this returns a
	// KindInternal "not_implemented" error without scanning any events.
	return nil, kdferrors.New(kdferrors.KindInternal, "not_implemented", nil)
}

func (c *Coin) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, kdferrors.New(kdferrors.KindTransport, "blocknumber_failed", err)
	}
	return n, nil
}

func (c *Coin) Balance(ctx context.Context, address string) (coins.Amount, error) {
	wei, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return coins.Amount{}, kdferrors.New(kdferrors.KindTransport, "balance_failed", err)
	}
	return coins.AmountFromSmallestUnit(wei, c.decimals), nil
}

func (c *Coin) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return "", kdferrors.New(kdferrors.KindInvalidResponse, "tx_decode_failed", err)
	}
	if err := c.client.SendTransaction(ctx, &tx); err != nil {
		return "", kdferrors.New(kdferrors.KindTransport, "broadcast_failed", err)
	}
	return tx.Hash().Hex(), nil
}

var _ coins.Coin = (*Coin)(nil)
