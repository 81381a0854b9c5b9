package nftcoin

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/coins/evmcoin"
	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// Coin implements coins.Coin for ERC721/ERC1155 NFT transfers, sharing
// evmcoin's EthClient seam (one RPC connection per EVM chain, regardless
// of whether the activated coin is the platform coin, an ERC20 token, or
// an NFT collection).
type Coin struct {
	ticker       string
	tokenID      *big.Int
	client       evmcoin.EthClient
	contractAddr common.Address
	platform     coins.Weak // weak ref back to the chain's native coin, per spec.md §9
}

func New(ticker string, tokenID *big.Int, client evmcoin.EthClient, contractAddr common.Address, platform coins.Weak) *Coin {
	return &Coin{ticker: ticker, tokenID: tokenID, client: client, contractAddr: contractAddr, platform: platform}
}

func (c *Coin) Ticker() string   { return c.ticker }
func (c *Coin) Kind() coins.Kind { return coins.KindNFT }

// Decimals is always 0 for non-fungible transfers.
func (c *Coin) Decimals() int32 { return 0 }

func (c *Coin) AddressOf(pubkey []byte) (string, error) {
	pub, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return "", kdferrors.New(kdferrors.KindInternal, "bad_pubkey", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func (c *Coin) DeriveHTLCKeypair(uniqueData []byte) (coins.HTLCKeypair, error) {
	// NFT transfers are signed with the same platform-coin key; resolved
	// via the weak platform reference rather than re-deriving separately.
	platform, err := c.platform.Upgrade()
	if err != nil {
		return coins.HTLCKeypair{}, err
	}
	return platform.DeriveHTLCKeypair(uniqueData)
}

func (c *Coin) SendHTLC(ctx context.Context, p coins.HTLCParams) (coins.SignedTx, error) {
	receiver := common.BytesToAddress(p.Recipient)
	sender := common.BytesToAddress(p.Sender)
	var tokenAddr common.Address
	if p.TokenAddr != nil {
		tokenAddr = *p.TokenAddr
	}
	id := evmcoin.ComputeSwapID(uint64(p.LockTime.Unix()), p.SecretHash, receiver, sender)

	blob, err := EncodeHTLCBlob(id, receiver, tokenAddr, p.SecretHash, p.SwapID, uint64(p.LockTime.Unix()))
	if err != nil {
		return coins.SignedTx{}, fmt.Errorf("nftcoin: encode htlc blob: %w", err)
	}

	// The actual safeTransferFrom call is dispatched through the platform
	// coin's transactor since NFT transfers share the EVM signing path;
	// here we only hand back the blob as calldata for that dispatch.
	return coins.SignedTx{TxHex: fmt.Sprintf("%s%x", SafeTransferFromSelector, blob)}, nil
}

func (c *Coin) ValidateHTLC(ctx context.Context, rawTx []byte, expected coins.HTLCParams) (coins.ValidationResult, error) {
	txHash := common.BytesToHash(rawTx)
	tx, _, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return coins.ValidationUnexpectedState, kdferrors.New(kdferrors.KindTransport, "tx_lookup_failed", err)
	}
	data := tx.Data()
	if len(data) < 4 {
		return coins.ValidationUnexpectedState, kdferrors.ErrUnexpectedState
	}
	_, takerAddr, tokenAddr, takerSecretHash, makerSecretHash, lockTime, err := DecodeHTLCBlob(data[4:])
	if err != nil {
		return coins.ValidationUnexpectedState, kdferrors.New(kdferrors.KindInvalidResponse, "blob_decode_failed", err)
	}

	wantTaker := common.BytesToAddress(expected.Recipient)
	var wantToken common.Address
	if expected.TokenAddr != nil {
		wantToken = *expected.TokenAddr
	}
	if takerAddr != wantTaker || tokenAddr != wantToken ||
		takerSecretHash != expected.SecretHash || makerSecretHash != expected.SwapID ||
		lockTime != uint64(expected.LockTime.Unix()) {
		return coins.ValidationWrongPayment, kdferrors.ErrWrongPayment
	}
	return coins.ValidationOK, nil
}

func (c *Coin) SpendHTLC(ctx context.Context, otherPaymentTx []byte, secret [32]byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "nft_spend_delegates_to_platform_coin", nil)
}

func (c *Coin) RefundHTLC(ctx context.Context, myPaymentTx []byte, my coins.HTLCKeypair) (coins.SignedTx, error) {
	return coins.SignedTx{}, kdferrors.New(kdferrors.KindInternal, "nft_refund_delegates_to_platform_coin", nil)
}

func (c *Coin) ExtractSecret(ctx context.Context, spendTx []byte, secretHash [32]byte) ([32]byte, error) {
	txHash := common.BytesToHash(spendTx)
	tx, _, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return [32]byte{}, kdferrors.New(kdferrors.KindTransport, "tx_lookup_failed", err)
	}
	data := tx.Data()
	if len(data) < 4 {
		return [32]byte{}, kdferrors.ErrWrongSecret
	}
	_, _, _, _, makerSecretHash, _, err := DecodeHTLCBlob(data[4:])
	if err != nil {
		return [32]byte{}, kdferrors.New(kdferrors.KindInvalidResponse, "blob_decode_failed", err)
	}
	// The blob carries maker_secret_hash, not the secret itself; the
	// revealed preimage for NFT swaps travels in the platform coin's own
	// claim call, matched here only by hash for sanity-checking.
	if sha256.Sum256(makerSecretHash[:]) == secretHash {
		return makerSecretHash, nil
	}
	return [32]byte{}, kdferrors.ErrWrongSecret
}

func (c *Coin) WaitForConfirmations(ctx context.Context, tx []byte, n uint32, until time.Time) error {
	platform, err := c.platform.Upgrade()
	if err != nil {
		return err
	}
	return platform.WaitForConfirmations(ctx, tx, n, until)
}

func (c *Coin) WaitForTxSpend(ctx context.Context, tx []byte, fromBlock uint64, until time.Time) ([]byte, error) {
	platform, err := c.platform.Upgrade()
	if err != nil {
		return nil, err
	}
	return platform.WaitForTxSpend(ctx, tx, fromBlock, until)
}

func (c *Coin) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, kdferrors.New(kdferrors.KindTransport, "blocknumber_failed", err)
	}
	return n, nil
}

// Balance reports collection-item ownership as a coins.Amount for
// interface uniformity. callERC721OwnerOf makes no contract call, so the
// result is always 0, whoever owns the token.
func (c *Coin) Balance(ctx context.Context, address string) (coins.Amount, error) {
	var owned string
	if err := callERC721OwnerOf(ctx, c.client, c.contractAddr, c.tokenID, common.HexToAddress(address), &owned); err != nil {
		return coins.Amount{}, kdferrors.New(kdferrors.KindTransport, "ownerof_failed", err)
	}
	return coins.NewAmount(owned)
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

// callERC721OwnerOf stands where the ERC721 ownerOf(tokenId) eth_call
// would go. It makes no call: it sets *out to "0" for every owner and
// returns nil.
func callERC721OwnerOf(ctx context.Context, client evmcoin.EthClient, contract common.Address, tokenID *big.Int, expectedOwner common.Address, out *string) error {
	*out = "0"
	if expectedOwner != (common.Address{}) {
		*out = "0"
	}
	return nil
}

var _ coins.Coin = (*Coin)(nil)
