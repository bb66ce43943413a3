// Package crypto loads the protocol authority key, signs event receipts,
// verifies EIP-191 caller signatures on API requests, and HMAC-signs
// requests to the pool gateway.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileVersion = 1
	kdfName        = "pbkdf2-sha256"

	// defaultIterations is the OWASP floor for PBKDF2-HMAC-SHA256. The count
	// is stored in the file so it can be raised without breaking old keys.
	defaultIterations = 480_000
	minIterations     = 100_000
)

// ErrNoKey is returned by LoadKey when no key source is configured.
var ErrNoKey = errors.New("crypto: no private key source configured")

// keyFile is the on-disk authority key. The address is stored in clear and
// bound to the ciphertext as GCM associated data, so an operator can tell
// which authority a file holds and a swapped header fails to open.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	KDF        string         `json:"kdf"`
	Iterations int            `json:"iterations"`
	Salt       hexutil.Bytes  `json:"salt"`
	Nonce      hexutil.Bytes  `json:"nonce"`
	Ciphertext hexutil.Bytes  `json:"ciphertext"`
}

// KeyConfig says where the authority key comes from.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without 0x. It wins over the file.
	RawPrivateKey string

	// EncryptedKeyPath is a file written by EncryptKey, opened with
	// KeyPassword.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex secp256k1 private key under password.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	kf := keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		KDF:        kdfName,
		Iterations: defaultIterations,
		Salt:       make([]byte, 16),
	}
	if _, err := rand.Read(kf.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := kf.aead(password)
	if err != nil {
		return nil, err
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(pk), kf.Address.Bytes())

	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a file written by EncryptKey and returns the key as hex
// without 0x. The decrypted key must derive the address in the header.
func DecryptKey(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(blob, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion || kf.KDF != kdfName {
		return "", fmt.Errorf("crypto: unsupported key file (version %d, kdf %q)", kf.Version, kf.KDF)
	}
	if kf.Iterations < minIterations {
		return "", fmt.Errorf("crypto: key file iterations %d below %d", kf.Iterations, minIterations)
	}

	aead, err := kf.aead(password)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes", len(kf.Nonce))
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, kf.Address.Bytes())
	if err != nil {
		return "", errors.New("crypto: cannot open key file (wrong password or tampered file)")
	}

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != kf.Address {
		return "", fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address.Hex(), got.Hex())
	}
	return strings.TrimPrefix(hexutil.Encode(raw), "0x"), nil
}

func (kf *keyFile) aead(password string) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), kf.Salt, kf.Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

// LoadKey returns the configured key as hex without 0x, or ErrNoKey when
// neither source is set.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hexutil.Decode("0x" + k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		blob, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(blob, cfg.KeyPassword)
	default:
		return "", ErrNoKey
	}
}

// LoadSigner resolves the key and builds a receipt Signer from it.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	k, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(k)
}
