package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// Signer holds the authority key used to sign event receipts.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReceipt signs payload as an EIP-191 personal message and returns the
// 65-byte signature as 0x-prefixed hex. Anyone holding the payload can check
// it against Address with RecoverSigner.
func (s *Signer) SignReceipt(payload []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(payload), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", domain.ErrSigningFailed)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// CallerMessage is the text a client signs to identify itself on one API
// request.
func CallerMessage(method, path string, unixTS int64) string {
	return method + " " + path + " " + strconv.FormatInt(unixTS, 10)
}

// RecoverSigner returns the address that produced sigHex over message as an
// EIP-191 personal message. Both {0,1} and {27,28} recovery ids are
// accepted.
func RecoverSigner(message []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", domain.ErrInvalidSignature)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes: %w", len(sig), domain.ErrInvalidSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyCaller checks that caller signed CallerMessage(method, path, unixTS).
func VerifyCaller(caller common.Address, method, path string, unixTS int64, sigHex string) error {
	got, err := RecoverSigner([]byte(CallerMessage(method, path, unixTS)), sigHex)
	if err != nil {
		return err
	}
	if got != caller {
		return fmt.Errorf("crypto/signer: signed by %s, not %s: %w", got.Hex(), caller.Hex(), domain.ErrInvalidSignature)
	}
	return nil
}
