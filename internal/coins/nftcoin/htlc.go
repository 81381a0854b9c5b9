// Package nftcoin implements the Coin capability set from spec.md §4.1
// for ERC721/ERC1155 NFT HTLC swaps: spec.md §6 specifies the HTLC data
// as an ABI-encoded blob appended as the `bytes` argument of
// safeTransferFrom, rather than a dedicated swap-contract call the way
// evmcoin's fungible path works — this package reuses evmcoin's ABI
// plumbing (same accounts/abi dependency, same go-ethereum common types)
// but encodes a different tuple and a different on-chain entry point,
// per the "NFT trading proto" supplemented feature in SPEC_FULL.md.
package nftcoin

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// blobArguments is the ABI tuple spec.md §6 names for the NFT HTLC data
// blob: (id, taker_addr, token_addr, taker_secret_hash, maker_secret_hash,
// uint256(lock_time)).
var blobArguments = abi.Arguments{
	{Name: "id", Type: mustType("bytes32")},
	{Name: "taker_addr", Type: mustType("address")},
	{Name: "token_addr", Type: mustType("address")},
	{Name: "taker_secret_hash", Type: mustType("bytes32")},
	{Name: "maker_secret_hash", Type: mustType("bytes32")},
	{Name: "lock_time", Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeHTLCBlob builds the bytes blob to append as safeTransferFrom's
// trailing `bytes` argument.
func EncodeHTLCBlob(id [32]byte, takerAddr, tokenAddr common.Address, takerSecretHash, makerSecretHash [32]byte, lockTime uint64) ([]byte, error) {
	return blobArguments.Pack(id, takerAddr, tokenAddr, takerSecretHash, makerSecretHash, new(big.Int).SetUint64(lockTime))
}

// DecodeHTLCBlob is EncodeHTLCBlob's inverse.
func DecodeHTLCBlob(data []byte) (id [32]byte, takerAddr, tokenAddr common.Address, takerSecretHash, makerSecretHash [32]byte, lockTime uint64, err error) {
	values, err := blobArguments.Unpack(data)
	if err != nil {
		return
	}
	id = values[0].([32]byte)
	takerAddr = values[1].(common.Address)
	tokenAddr = values[2].(common.Address)
	takerSecretHash = values[3].([32]byte)
	makerSecretHash = values[4].([32]byte)
	lockTime = values[5].(*big.Int).Uint64()
	return
}

// SafeTransferFromSelector is the 4-byte selector SendHTLC prefixes to
// the blob. ValidateHTLC skips the first 4 bytes of the calldata without
// comparing them to this selector.
const SafeTransferFromSelector = "0x42842e0e" // safeTransferFrom(address,address,uint256)
