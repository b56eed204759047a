package relaycrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// KeyBits is the RSA modulus size used for all generated keypairs.
const KeyBits = 2048

// GenerateKeyPair creates a fresh RSA private key of KeyBits.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: generate key pair: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM serializes a private key to PKCS#1 PEM.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return pem.EncodeToMemory(block)
}

// DecodePrivateKeyPEM parses a PKCS#1 PEM-encoded private key.
func DecodePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("relaycrypto: decode private key: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: decode private key: %w", err)
	}
	return key, nil
}

// EncodePublicKeyPEM serializes a public key to PKIX PEM, the form
// carried inside the presence frame's "pubkey" field and stored
// server-side against the account.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("relaycrypto: encode public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodePublicKeyPEM parses a PKIX PEM-encoded public key.
func DecodePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("relaycrypto: decode public key: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: decode public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("relaycrypto: decode public key: not an RSA key")
	}
	return rsaPub, nil
}

// LoadOrCreatePrivateKey reads the PEM private key for login from dir,
// generating and persisting a new one if it doesn't yet exist. The file
// is written with 0600 permissions since it is the client's only copy
// of its decryption key.
func LoadOrCreatePrivateKey(dir, login string) (*rsa.PrivateKey, error) {
	path := keyPath(dir, login)
	data, err := os.ReadFile(path)
	if err == nil {
		return DecodePrivateKeyPEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("relaycrypto: read key file: %w", err)
	}

	key, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("relaycrypto: create key dir: %w", err)
	}
	if err := os.WriteFile(path, EncodePrivateKeyPEM(key), 0o600); err != nil {
		return nil, fmt.Errorf("relaycrypto: write key file: %w", err)
	}
	return key, nil
}

func keyPath(dir, login string) string {
	return filepath.Join(dir, login+".key")
}

// Encrypt encrypts plaintext with RSA-OAEP/SHA-256 under pub. The relay
// never sees message_text in any other form: the server only ever
// forwards this ciphertext between sender and recipient.
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: encrypt: %w", err)
	}
	return ct, nil
}

// Decrypt reverses Encrypt using the holder's private key.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: decrypt: %w", err)
	}
	return pt, nil
}
