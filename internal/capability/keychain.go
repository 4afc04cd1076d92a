package capability

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/leolilley/kiwi-mcp/internal/kiwierr"
	"github.com/leolilley/kiwi-mcp/internal/logging"
)

const (
	privateKeyFile = "token_signing.key"
	publicKeyFile  = "token_signing.pub"
)

// Keychain lazily generates and caches the Ed25519 keypair a process
// signs capability tokens with. Private key material is written with
// mode 0600; the directory itself is created if missing.
type Keychain struct {
	dir string

	mu   sync.Mutex
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeychain binds a Keychain to a per-user directory, e.g.
// "{user_root}/.ai/keychain".
func NewKeychain(dir string) *Keychain {
	return &Keychain{dir: dir}
}

// Keys returns the process keypair, generating and persisting one on
// first use if the directory is empty.
func (k *Keychain) Keys() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.priv != nil {
		return k.priv, k.pub, nil
	}

	privPath := filepath.Join(k.dir, privateKeyFile)
	pubPath := filepath.Join(k.dir, publicKeyFile)

	if privHex, err := os.ReadFile(privPath); err == nil {
		priv, pErr := decodeHexKey(privHex, ed25519.PrivateKeySize)
		pubHex, pubErr := os.ReadFile(pubPath)
		if pErr == nil && pubErr == nil {
			if pub, pErr2 := decodeHexKey(pubHex, ed25519.PublicKeySize); pErr2 == nil {
				k.priv, k.pub = ed25519.PrivateKey(priv), ed25519.PublicKey(pub)
				return k.priv, k.pub, nil
			}
		}
	}

	logging.Get(logging.CategoryCapability).Infow("generating capability signing keypair", "dir", k.dir)
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindInput, err, "create keychain directory")
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindInput, err, "generate Ed25519 keypair")
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindInput, err, "write private key")
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		return nil, nil, kiwierr.Wrap(kiwierr.KindInput, err, "write public key")
	}
	k.priv, k.pub = priv, pub
	return k.priv, k.pub, nil
}

func decodeHexKey(hexBytes []byte, size int) ([]byte, error) {
	decoded := make([]byte, hex.DecodedLen(len(hexBytes)))
	n, err := hex.Decode(decoded, hexBytes)
	if err != nil || n != size {
		return nil, kiwierr.New(kiwierr.KindParse, "malformed key material")
	}
	return decoded[:n], nil
}
