package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine tunables, loaded from the environment.
type Config struct {
	// FeeCacheCapacity bounds the number of retained fee/gas estimation
	// results per family cache (LRU).
	FeeCacheCapacity int `envconfig:"FEE_CACHE_CAPACITY" default:"50"`

	// ScanAccountLimit caps the derivation indexes probed during a device
	// account scan.
	ScanAccountLimit uint32 `envconfig:"SCAN_ACCOUNT_LIMIT" default:"10"`

	// EthDefaultGasLimit is used when neither the user nor the simulation
	// provided a gas limit.
	EthDefaultGasLimit uint64 `envconfig:"ETH_DEFAULT_GAS_LIMIT" default:"21000"`

	// BitcoinTxVirtualSize is the assumed virtual size (bytes) of a simple
	// payment, used to turn a per-byte rate into an absolute fee.
	BitcoinTxVirtualSize uint64 `envconfig:"BITCOIN_TX_VIRTUAL_SIZE" default:"250"`

	// CosmosGasPriceMilli is the gas price in 1/1000 of the minimal unit
	// per gas, e.g. 25 for 0.025 uatom/gas.
	CosmosGasPriceMilli int64 `envconfig:"COSMOS_GAS_PRICE_MILLI" default:"25"`

	// CosmosGasAmplifier multiplies the simulated gas usage to leave safety
	// margin. See cosmos.GasAmplifierCompatFactor for the extra factor
	// applied on top of this value.
	CosmosGasAmplifier int64 `envconfig:"COSMOS_GAS_AMPLIFIER" default:"1"`

	// CosmosDefaultGas is the gas quantity assumed when simulation is
	// unavailable or reports zero.
	CosmosDefaultGas int64 `envconfig:"COSMOS_DEFAULT_GAS" default:"250000"`
}

// Default returns a Config populated with default values, without touching
// the environment.
func Default() Config {
	return Config{
		FeeCacheCapacity:     50,
		ScanAccountLimit:     10,
		EthDefaultGasLimit:   21_000,
		BitcoinTxVirtualSize: 250,
		CosmosGasPriceMilli:  25,
		CosmosGasAmplifier:   1,
		CosmosDefaultGas:     250_000,
	}
}

// FromEnv returns a Config populated from WALLETCORE_* environment
// variables, falling back to defaults for unset values.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("WALLETCORE", &cfg); err != nil {
		return Config{}, fmt.Errorf("process config: %w", err)
	}
	return cfg, nil
}
