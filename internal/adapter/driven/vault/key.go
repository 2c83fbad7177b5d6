package vault

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/user"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived key length in bytes.
	KeySize = 32

	keyIterations = 100000
	saltSize      = 16
	keyContext    = "cdp-runbooker-v1"
)

// Identity is the machine/user/home triple the vault key is bound to. A
// record written under one identity cannot be decrypted under another.
type Identity struct {
	Machine string
	User    string
	Home    string
}

// CurrentIdentity reads the identity of the running process.
func CurrentIdentity() (Identity, error) {
	host, err := os.Hostname()
	if err != nil {
		return Identity{}, fmt.Errorf("read hostname: %w", err)
	}

	var name string
	if u, err := user.Current(); err == nil {
		name = u.Username
	} else {
		name = os.Getenv("USER")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Identity{}, fmt.Errorf("read home dir: %w", err)
	}

	return Identity{Machine: host, User: name, Home: home}, nil
}

func (id Identity) String() string {
	return id.Machine + ":" + id.User + ":" + id.Home + ":" + keyContext
}

// DeriveKey returns the vault key for id. It is a pure function of id.
func DeriveKey(id Identity) []byte {
	ident := []byte(id.String())
	sum := sha256.Sum256(ident)
	return pbkdf2.Key(ident, sum[:saltSize], keyIterations, KeySize, sha256.New)
}
