package sftpd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// hostKeyBits is the size of generated RSA host keys. Device-side SSH
// stacks are conservative, so RSA is the lowest common denominator.
const hostKeyBits = 2048

// LoadHostKey reads and parses the PEM-encoded SSH host key at path.
func LoadHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", path, err)
	}
	return signer, nil
}

// GenerateHostKey writes a fresh RSA host key to path in PEM form and
// returns the parsed signer. Missing parent directories are created.
func GenerateHostKey(path string) (ssh.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create host key directory: %w", err)
	}
	// 0600 because the file holds private key material.
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("write host key %s: %w", path, err)
	}

	return ssh.NewSignerFromKey(key)
}
