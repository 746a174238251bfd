package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// GenerateEd25519Keypair creates an ed25519 keypair, writes the private key in
// OpenSSH format to privateKeyPath and returns the authorized_keys line.
func GenerateEd25519Keypair(privateKeyPath string) (publicAuthorized string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "kubeprovision")
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}
	sshPub, err := xssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("public key: %w", err)
	}
	return string(xssh.MarshalAuthorizedKey(sshPub)), nil
}

// LoadPrivateKeySigner reads an OpenSSH/PEM private key file and returns an ssh.Signer.
func LoadPrivateKeySigner(privateKeyPath string) (xssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := xssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// MarshalAuthorized returns the authorized_keys line for signer's public key.
func MarshalAuthorized(signer xssh.Signer) []byte {
	return xssh.MarshalAuthorizedKey(signer.PublicKey())
}

// AuthMethods builds the auth chain: the private key at keyPath when set,
// then the agent at $SSH_AUTH_SOCK when reachable.
func AuthMethods(keyPath string) ([]xssh.AuthMethod, error) {
	var methods []xssh.AuthMethod
	if keyPath != "" {
		signer, err := LoadPrivateKeySigner(keyPath)
		if err != nil {
			return nil, err
		}
		methods = append(methods, xssh.PublicKeys(signer))
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, xssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh credentials: set ssh.key_path or run an ssh-agent")
	}
	return methods, nil
}
