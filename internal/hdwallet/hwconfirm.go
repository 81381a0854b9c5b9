package hdwallet

import (
	"context"

	"github.com/meshswap/kdfnode/internal/kdferrors"
)

// DeviceConfirmer asks a hardware wallet to display a candidate address
// and reports whether the user confirmed it. Grounded on
// original_source's hd_wallet_wasm_storage.rs candidate-reservation
// flow, generalised from its WASM-storage-specific shape to a plain
// callback seam.
type DeviceConfirmer interface {
	ConfirmAddress(ctx context.Context, address string, chain Bip44Chain, index uint32) (bool, error)
}

// NewAddressWithHWConfirm reserves the next candidate index, asks the
// device to confirm it, and only persists the counter increment if the
// user confirms. Per spec.md §4.3: "if the counter has advanced
// concurrently past the candidate index, the update is skipped
// (monotonic)" — the device round-trip is slow human-interaction I/O,
// so the accounts mutex is intentionally released for its duration
// (spec.md §9's one documented exception) and re-taken only to
// reconcile the counter afterward.
func (w *HDWallet) NewAddressWithHWConfirm(ctx context.Context, accountID uint32, chain Bip44Chain, encoder AddressEncoder, device DeviceConfirmer) (string, uint32, error) {
	w.mu.Lock()
	account, err := w.accountLocked(ctx, accountID)
	if err != nil {
		w.mu.Unlock()
		return "", 0, err
	}
	candidateIndex := account.KnownAddresses(chain)
	if candidateIndex+1 >= HardenedOffset {
		w.mu.Unlock()
		return "", 0, kdferrors.ErrAddressLimitReached
	}
	candidateAddr, err := w.deriveAddressLocked(account, chain, candidateIndex, encoder)
	w.mu.Unlock()
	if err != nil {
		return "", 0, err
	}

	confirmed, err := device.ConfirmAddress(ctx, candidateAddr, chain, candidateIndex)
	if err != nil {
		return "", 0, kdferrors.New(kdferrors.KindHardwareWallet, "device_confirmation_failed", err)
	}
	if !confirmed {
		return "", 0, kdferrors.New(kdferrors.KindHardwareWallet, "device_confirmation_rejected", nil)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	current := account.KnownAddresses(chain)
	if current > candidateIndex {
		// Counter advanced concurrently past our candidate: skip, per the
		// monotonic-counter invariant.
		return candidateAddr, candidateIndex, nil
	}
	account.setKnownAddresses(chain, candidateIndex+1)
	if err := w.persistCounters(ctx, account); err != nil {
		return "", 0, err
	}
	return candidateAddr, candidateIndex, nil
}
