package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // RIPEMD-160 is required by the Bitcoin address format (Hash160)
	"golang.org/x/crypto/sha3"

	"github.com/mkoval/walletcore/pkg/models"
)

// DerivedAddress is an address derived from the device seed at a BIP-44
// index, together with the path used to reach it.
type DerivedAddress struct {
	Address        string
	DerivationPath string
	PublicKey      string
}

// DeriveAddress derives the currency's receive address at the given account
// index, path m/44'/{coinType}'/{index}'/0/0.
func DeriveAddress(seed []byte, currency *models.Currency, index uint32) (*DerivedAddress, error) {
	path := fmt.Sprintf("m/44'/%d'/%d'/0/0", currency.CoinType, index)

	key, err := deriveKey(seed, currency.CoinType, index)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	priv, pub := btcec.PrivKeyFromBytes(key[:32])
	_ = priv

	var address string
	switch currency.Family {
	case models.FamilyBitcoin:
		// Base58Check(0x00 + Hash160(compressed pubkey))
		address = base58.CheckEncode(hash160(pub.SerializeCompressed()), 0x00)
	case models.FamilyEthereum:
		// Last 20 bytes of Keccak256(uncompressed pubkey without prefix)
		raw := pub.SerializeUncompressed()
		hash := keccak256(raw[1:])
		address = "0x" + hex.EncodeToString(hash[12:])
	case models.FamilyCosmos:
		// bech32("cosmos", Hash160(compressed pubkey))
		conv, err := bech32.ConvertBits(hash160(pub.SerializeCompressed()), 8, 5, true)
		if err != nil {
			return nil, fmt.Errorf("convert bits: %w", err)
		}
		address, err = bech32.Encode("cosmos", conv)
		if err != nil {
			return nil, fmt.Errorf("bech32 encode: %w", err)
		}
	case models.FamilyRipple:
		// Same Base58Check layout as bitcoin, re-expressed in the XRP
		// base58 alphabet.
		address = ToRippleAlphabet(base58.CheckEncode(hash160(pub.SerializeCompressed()), 0x00))
	default:
		return nil, fmt.Errorf("no address derivation for family %q", currency.Family)
	}

	return &DerivedAddress{
		Address:        address,
		DerivationPath: path,
		PublicKey:      hex.EncodeToString(pub.SerializeCompressed()),
	}, nil
}

// deriveKey derives a child private key from a BIP-39 seed along
// m/44'/{coinType}'/{index}'/0/0.
func deriveKey(seed []byte, coinType uint32, index uint32) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	purpose, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}

	coin, err := purpose.NewChildKey(bip32.FirstHardenedChild + coinType)
	if err != nil {
		return nil, fmt.Errorf("derive coin: %w", err)
	}

	account, err := coin.NewChildKey(bip32.FirstHardenedChild + index)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}

	change, err := account.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}

	child, err := change.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("derive child: %w", err)
	}

	return child.Key, nil
}

const (
	btcAlphabet    = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"
)

// ToRippleAlphabet re-expresses a bitcoin-alphabet base58 string in the XRP
// alphabet. Both alphabets encode the same digit sequence, so a positional
// character swap is a faithful transcoding.
func ToRippleAlphabet(s string) string {
	return translateAlphabet(s, btcAlphabet, rippleAlphabet)
}

// FromRippleAlphabet is the inverse of ToRippleAlphabet. Characters outside
// the XRP alphabet are preserved so that checksum validation fails later
// rather than panicking here.
func FromRippleAlphabet(s string) string {
	return translateAlphabet(s, rippleAlphabet, btcAlphabet)
}

func translateAlphabet(s, from, to string) string {
	table := make(map[rune]rune, len(from))
	for i, r := range from {
		table[r] = rune(to[i])
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if t, ok := table[r]; ok {
			out = append(out, t)
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
