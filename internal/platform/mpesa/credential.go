package mpesa

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// LoadPublicKey reads the gateway certificate (or a bare PKIX/PKCS#1 public key) from a PEM file
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway certificate: %w", err)
	}
	return ParsePublicKey(pemBytes)
}

func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway certificate: %w", err)
	}
	return key, nil
}

// SecurityCredential encrypts the initiator password with the gateway public key (RSA PKCS#1 v1.5) and base64 encodes it
func SecurityCredential(initiatorPassword string, key *rsa.PublicKey) (string, error) {
	if key == nil {
		return "", errors.New("gateway public key is not loaded")
	}
	if initiatorPassword == "" {
		return "", errors.New("initiator password is empty")
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(initiatorPassword))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt security credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}
