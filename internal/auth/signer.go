package auth

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// Signer signs ledger requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the checksummed address of the key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Owner returns the address as a ledger owner.
func (s *Signer) Owner() domain.Owner {
	return domain.NormalizeOwner(s.address.Hex())
}

// PrivateKeyHex returns the key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// SignMessage produces a 65-byte EIP-191 personal signature, hex-encoded,
// with V in {27, 28}.
func (s *Signer) SignMessage(message string) (string, error) {
	sig, err := ethcrypto.Sign(textHash(message), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Headers returns the authentication headers for a request at t.
func (s *Signer) Headers(method, path string, body []byte, t time.Time) (http.Header, error) {
	ts := t.Unix()
	sig, err := s.SignMessage(Message(method, path, ts, body))
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(HeaderAddress, s.Address())
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, sig)
	return h, nil
}

// RecoverAddress returns the owner whose key produced sig over message.
func RecoverAddress(message, sig string) (domain.Owner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return "", fmt.Errorf("signature is not hex: %w", err)
	}
	if len(raw) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(textHash(message), raw)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return domain.NormalizeOwner(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// textHash is the EIP-191 version 0x45 digest of message.
func textHash(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), []byte(message))
}
