// Command kdfnode is the long-running atomic-swap market-maker process
// spec.md §1 describes. It owns the swap engine, HD-wallet, coin
// registry, persistent storage and P2P plumbing; the RPC dispatcher, CLI
// flag parsing, per-chain RPC client internals and the orderbook gossip
// layer itself are Non-goals (spec.md §1) and are not built here — this
// entrypoint only wires the pieces a real RPC/CLI layer and orderbook
// implementation would sit in front of.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/meshswap/kdfnode/internal/coins"
	"github.com/meshswap/kdfnode/internal/config"
	"github.com/meshswap/kdfnode/internal/healthcheck"
	"github.com/meshswap/kdfnode/internal/hdwallet"
	"github.com/meshswap/kdfnode/internal/kdferrors"
	"github.com/meshswap/kdfnode/internal/logging"
	"github.com/meshswap/kdfnode/internal/orderbook"
	"github.com/meshswap/kdfnode/internal/p2p"
	"github.com/meshswap/kdfnode/internal/rpctask"
	"github.com/meshswap/kdfnode/internal/spawner"
	"github.com/meshswap/kdfnode/internal/storage"
	"github.com/meshswap/kdfnode/internal/storage/kvstore"
	"github.com/meshswap/kdfnode/internal/storage/sqlstore"
	"github.com/meshswap/kdfnode/internal/swap"
)

var log = logging.Component("kdfnode")

func main() {
	cfgPath := "kdfnode.toml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kdfnode: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg)
	if err != nil {
		log.Crit("kdfnode: startup failed", "err", err)
	}
	defer n.Close()

	log.Info("kdfnode started", "netid", cfg.NetID, "peer", n.p2p.Self(), "storage_backend", cfg.StorageBackend)
	<-ctx.Done()
	log.Info("kdfnode: shutting down")
}

// withdrawResult is the terminal payload a withdraw task reports, per
// spec.md §4.7's "withdraw" job kind.
type withdrawResult struct {
	TxHash string
	TxHex  string
}

// node bundles the long-lived subsystems a single process owns, per
// spec.md §2's component list: CoinsContext, HDWallet, SwapStorage,
// TxHistoryStorage (via Store), AbortableSpawner, P2P.
type node struct {
	cfg     config.Config
	store   storage.Store
	wallet  *hdwallet.HDWallet
	coins   *coins.Context
	spawner *spawner.Spawner
	p2p     *p2p.Node
	health  *healthcheck.Context

	swapStorage *swap.FileStorage

	// withdrawTasks is the task::withdraw::* namespace from spec.md
	// §4.7's rpc_task_dispatcher pattern; account-creation/coin-activation
	// task kinds follow the identical shape, one Manager instance per
	// kind, and are omitted here since they are driven by the (Non-goal)
	// RPC surface rather than started at process boot.
	withdrawTasks *rpctask.Manager[string, withdrawResult]
}

func newNode(ctx context.Context, cfg config.Config) (*node, error) {
	store, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	host, err := libp2p.New()
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("start gossipsub: %w", err)
	}
	p2pNode := p2p.NewNode(ps, host.ID())

	sp := spawner.New(ctx, 0)

	hc, err := healthcheck.Init(ctx, p2pNode, host.ID(), host.Peerstore().PrivKey(host.ID()),
		time.Duration(cfg.Healthcheck.MessageExpirationSecs)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("start healthcheck: %w", err)
	}

	n := &node{
		cfg:           cfg,
		store:         store,
		coins:         coins.NewContext(),
		spawner:       sp,
		p2p:           p2pNode,
		health:        hc,
		swapStorage:   swap.NewFileStorage(cfg.DBDir),
		withdrawTasks: rpctask.NewManager[string, withdrawResult](),
	}

	if cfg.EnableHD {
		master, err := hdwallet.NewMasterKeys(cfg.Passphrase, "")
		if err != nil {
			return nil, fmt.Errorf("derive hd master keys: %w", err)
		}
		n.wallet = hdwallet.NewHDWallet(master, hdwallet.NewStorageAdapter(store), "default", 0, 20, hdwallet.CurveSecp256k1)
	}

	return n, nil
}

func (n *node) Close() {
	if closer, ok := n.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn("kdfnode: close storage", "err", err)
		}
	}
}

func openStorage(cfg config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "sql":
		return sqlstore.Open(cfg.DBDir)
	default:
		return kvstore.Open(cfg.DBDir)
	}
}

// consumeOrderbook drains src for MakerMatched/TakerConnect events and
// constructs+runs a Swap task per event, per spec.md §2's data flow: "the
// orderbook (external) emits a MakerMatched/TakerConnect event -> a new
// Swap is constructed, bound to two Coin handles, and run as a task under
// an AbortableSpawner". src itself is supplied by the (Non-goal) gossip
// layer; this node only consumes the narrow Event/Source seam.
func (n *node) consumeOrderbook(ctx context.Context, src orderbook.Source) error {
	events, err := src.Events(ctx)
	if err != nil {
		return fmt.Errorf("orderbook: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.handleOrderbookEvent(ev)
		}
	}
}

func (n *node) handleOrderbookEvent(ev orderbook.Event) {
	makerCoin, ok := n.coins.Get(ev.MakerCoinTicker)
	if !ok {
		log.Warn("orderbook event for unactivated coin", "ticker", ev.MakerCoinTicker)
		return
	}
	takerCoin, ok := n.coins.Get(ev.TakerCoinTicker)
	if !ok {
		log.Warn("orderbook event for unactivated coin", "ticker", ev.TakerCoinTicker)
		return
	}

	var role swap.Role
	switch ev.Kind {
	case orderbook.EventMakerMatched:
		role = swap.RoleMaker
	case orderbook.EventTakerConnect:
		role = swap.RoleTaker
	default:
		log.Warn("orderbook: unknown event kind", "kind", ev.Kind)
		return
	}

	s := swap.New(role, makerCoin, takerCoin, ev.MakerAmount, ev.TakerAmount, nil, ev.CounterpartyPubkey, n.swapStorage)

	lockDuration := ev.LockDuration
	if lockDuration == 0 {
		lockDuration = n.cfg.DefaultLockDuration
	}

	n.spawner.SpawnCritical(func(ctx context.Context) {
		topic, err := n.p2p.JoinTopic(ctx, p2p.SwapTopic(s.UUID.String()))
		if err != nil {
			log.Warn("swap: join topic failed", "swap_uuid", s.UUID, "err", err)
			return
		}
		defer topic.Close()

		var runErr error
		switch role {
		case swap.RoleMaker:
			runErr = swap.NewMaker(s, topic, lockDuration, ev.DexFeeAddr).Run(ctx)
		case swap.RoleTaker:
			runErr = swap.NewTaker(s, topic, lockDuration, ev.DexFeeAddr).Run(ctx)
		}
		if runErr != nil {
			log.Warn("swap: run exited with error", "swap_uuid", s.UUID, "role", role, "err", runErr)
		}
	})
}

// Withdraw starts a withdraw task, per spec.md §4.7's four-verb job
// framework: the signing/broadcast work runs in the goroutine
// rpctask.Manager.Init starts and reports progress through the
// returned task_id's Handle.
func (n *node) Withdraw(ctx context.Context, ticker, toAddress string, amount coins.Amount) (string, error) {
	coin, ok := n.coins.Get(ticker)
	if !ok {
		return "", kdferrors.New(kdferrors.KindInternal, "coin_not_activated", nil)
	}
	id := n.withdrawTasks.Init(ctx, func(ctx context.Context, h *rpctask.Handle[string, withdrawResult]) (withdrawResult, error) {
		h.ReportProgress("building transaction")
		kp, err := coin.DeriveHTLCKeypair([]byte(toAddress))
		if err != nil {
			return withdrawResult{}, err
		}
		tx, err := coin.SendHTLC(ctx, coins.HTLCParams{
			Recipient: []byte(toAddress),
			Amount:    amount,
			Sender:    kp.PublicKey,
		})
		if err != nil {
			return withdrawResult{}, err
		}
		return withdrawResult{TxHash: tx.TxHash, TxHex: tx.TxHex}, nil
	})
	return id.String(), nil
}
