// Package family assembles the per-chain bridge implementations into one
// registry. This is the only place that knows the full family set; every
// layer above resolves bridges through the registry and stays
// family-agnostic.
package family

import (
	"log/slog"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/internal/client"
	"github.com/mkoval/walletcore/internal/config"
	"github.com/mkoval/walletcore/internal/device"
	"github.com/mkoval/walletcore/internal/family/bitcoin"
	"github.com/mkoval/walletcore/internal/family/cosmos"
	"github.com/mkoval/walletcore/internal/family/ethereum"
	"github.com/mkoval/walletcore/internal/family/ripple"
	"github.com/mkoval/walletcore/pkg/models"
)

// NewRegistry wires every supported family against the shared indexer and
// device transport. The broadcast guard is shared so the one-flow-per-
// account rule holds across families.
func NewRegistry(cfg config.Config, ix client.Indexer, transport device.Transport) *bridge.Registry {
	flow := &device.SignFlow{
		Transport: transport,
		Guard:     bridge.NewBroadcastGuard(),
		Logger:    slog.Default().With("component", "signflow"),
	}

	reg := bridge.NewRegistry()

	btc := bitcoin.New(cfg, ix, flow)
	reg.Register(models.FamilyBitcoin, btc, btc)

	eth := ethereum.New(cfg, ix, flow)
	reg.Register(models.FamilyEthereum, eth, eth)

	atom := cosmos.New(cfg, ix, flow)
	reg.Register(models.FamilyCosmos, atom, atom)

	xrp := ripple.New(cfg, ix, flow)
	reg.Register(models.FamilyRipple, xrp, xrp)

	return reg
}
