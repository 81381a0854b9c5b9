// Package evmcoin implements the Coin capability set from spec.md §4.1
// for ETH/ERC20 chains, encoding the HTLC as ABI-encoded calls to a known
// swap contract per spec.md §6. Grounded on the Klingdex HTLC client
// (other_examples/20e31522_...htlc-client.go.go), which wraps
// go-ethereum's accounts/abi/bind the same way this package does, minus
// the abigen-generated binding: this spec calls for direct ABI encoding
// rather than a generated contract wrapper, so Arguments.Pack is used in
// place of KlingonHTLC's generated method calls.
package evmcoin

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// htlcArguments is the ABI tuple spec.md §6 specifies for the swap
// contract call: (bytes32 id, address receiver, bytes32 secret_hash,
// uint64 lock_time, address token_addr, uint256 amount).
var htlcArguments = mustArguments(
	abi.Argument{Name: "id", Type: mustType("bytes32")},
	abi.Argument{Name: "receiver", Type: mustType("address")},
	abi.Argument{Name: "secret_hash", Type: mustType("bytes32")},
	abi.Argument{Name: "lock_time", Type: mustType("uint64")},
	abi.Argument{Name: "token_addr", Type: mustType("address")},
	abi.Argument{Name: "amount", Type: mustType("uint256")},
)

// spendArguments is the ABI tuple for spendErc20MakerPayment-shaped
// calls, used both to build spend_htlc calldata and to decode it back in
// ExtractSecret (spec.md §8 scenario 3).
var spendArguments = mustArguments(
	abi.Argument{Name: "id", Type: mustType("bytes32")},
	abi.Argument{Name: "sender", Type: mustType("address")},
	abi.Argument{Name: "taker_secret_hash", Type: mustType("bytes32")},
	abi.Argument{Name: "secret", Type: mustType("bytes32")},
	abi.Argument{Name: "token_addr", Type: mustType("address")},
	abi.Argument{Name: "amount", Type: mustType("uint256")},
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustArguments(args ...abi.Argument) abi.Arguments {
	return abi.Arguments(args)
}

// ComputeSwapID computes the deterministic id spec.md §6 specifies:
// keccak256(lock_time || secret_hash || counterparty || sender).
func ComputeSwapID(lockTime uint64, secretHash [32]byte, counterparty, sender common.Address) [32]byte {
	lockBytes := make([]byte, 8)
	new(big.Int).SetUint64(lockTime).FillBytes(lockBytes)
	data := append([]byte{}, lockBytes...)
	data = append(data, secretHash[:]...)
	data = append(data, counterparty.Bytes()...)
	data = append(data, sender.Bytes()...)
	return crypto.Keccak256Hash(data)
}

// EncodeHTLCCalldata ABI-encodes the (id, receiver, secret_hash,
// lock_time, token_addr, amount) tuple spec.md §6 names for send_htlc.
func EncodeHTLCCalldata(id [32]byte, receiver common.Address, secretHash [32]byte, lockTime uint64, tokenAddr common.Address, amount *big.Int) ([]byte, error) {
	return htlcArguments.Pack(id, receiver, secretHash, lockTime, tokenAddr, amount)
}

// DecodeHTLCCalldata is EncodeHTLCCalldata's inverse, used by
// validate_htlc to confirm an on-chain call matches expected params.
func DecodeHTLCCalldata(data []byte) (id [32]byte, receiver common.Address, secretHash [32]byte, lockTime uint64, tokenAddr common.Address, amount *big.Int, err error) {
	values, err := htlcArguments.Unpack(data)
	if err != nil {
		return
	}
	id = values[0].([32]byte)
	receiver = values[1].(common.Address)
	secretHash = values[2].([32]byte)
	lockTime = values[3].(uint64)
	tokenAddr = values[4].(common.Address)
	amount = values[5].(*big.Int)
	return
}

// EncodeSpendCalldata ABI-encodes a spendErc20MakerPayment-shaped call
// revealing secret, per spec.md §8 scenario 3's worked example.
func EncodeSpendCalldata(id [32]byte, sender common.Address, takerSecretHash, secret [32]byte, tokenAddr common.Address, amount *big.Int) ([]byte, error) {
	return spendArguments.Pack(id, sender, takerSecretHash, secret, tokenAddr, amount)
}

// DecodeSpendCalldata recovers the secret revealed by a spend call's
// input bytes — the extract_secret path for EVM per spec.md §4.1.
func DecodeSpendCalldata(data []byte) (secret [32]byte, err error) {
	values, err := spendArguments.Unpack(data)
	if err != nil {
		return
	}
	secret = values[3].([32]byte)
	return
}
