package accounts

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"pumpsniper/internal/logging"
)

const (
	keystoreVersion = 1

	// DefaultScryptN is the scrypt cost parameter for new keystores.
	DefaultScryptN = 1 << 15

	scryptR   = 8
	scryptP   = 1
	keyLen    = 32
	saltLen   = 16
	nonceLen  = 24
	verifyMsg = "pumpsniper-keystore"
)

// KeystoreOptions configures Keystore.
type KeystoreOptions struct {
	Path       string // JSON file; created on first write
	Passphrase string
	ScryptN    int // default: DefaultScryptN; must be a power of two
	Now        func() time.Time
	Logger     *zap.Logger
}

// Keystore is a file-backed Directory. Private keys are sealed with
// nacl/secretbox under a scrypt-derived key. The file is re-read on every
// call so edits by the wallet CLI are picked up by a running server.
// The derived key is cached per salt; scrypt only runs again when the
// file is replaced by one with a different salt.
type Keystore struct {
	mu     sync.Mutex // guards file read-modify-write
	path   string
	pass   []byte
	n      int
	now    func() time.Time
	logger *zap.Logger

	keyMu     sync.Mutex
	cacheSalt []byte
	cacheN    int
	cacheKey  *[keyLen]byte
	derive    func(pass, salt []byte, n int) ([]byte, error)
}

// Compile-time interface check.
var _ Directory = (*Keystore)(nil)

type keystoreFile struct {
	Version  int           `json:"version"`
	ScryptN  int           `json:"scrypt_n"`
	Salt     []byte        `json:"salt"`
	Verifier sealed        `json:"verifier"`
	Wallets  []walletEntry `json:"wallets"`
}

type walletEntry struct {
	PublicKey string `json:"public_key"`
	Secret    sealed `json:"secret"`
	AddedAt   int64  `json:"added_at"` // Unix ms
}

type sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// WalletInfo describes a stored wallet without its secret.
type WalletInfo struct {
	PublicKey string `json:"public_key"`
	AddedAt   int64  `json:"added_at"`
}

// OpenKeystore opens the keystore at opts.Path, verifying the passphrase
// when the file already exists.
func OpenKeystore(opts KeystoreOptions) (*Keystore, error) {
	if opts.Path == "" {
		return nil, errors.New("keystore path is required")
	}
	if opts.Passphrase == "" {
		return nil, errors.New("keystore passphrase is required")
	}
	if opts.ScryptN == 0 {
		opts.ScryptN = DefaultScryptN
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ks := &Keystore{
		path:   opts.Path,
		pass:   []byte(opts.Passphrase),
		n:      opts.ScryptN,
		now:    opts.Now,
		logger: logging.OrNop(opts.Logger).Named("keystore"),
		derive: scryptKey,
	}

	f, err := ks.load()
	if err != nil {
		return nil, err
	}
	if f != nil {
		if _, err := ks.deriveKey(f); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

// List returns wallet public keys in insertion order.
func (k *Keystore) List(_ context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	f, err := k.load()
	if err != nil || f == nil {
		return nil, err
	}
	ids := make([]string, len(f.Wallets))
	for i, w := range f.Wallets {
		ids[i] = w.PublicKey
	}
	return ids, nil
}

// Wallets returns stored wallet metadata in insertion order.
func (k *Keystore) Wallets(_ context.Context) ([]WalletInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	f, err := k.load()
	if err != nil || f == nil {
		return nil, err
	}
	out := make([]WalletInfo, len(f.Wallets))
	for i, w := range f.Wallets {
		out[i] = WalletInfo{PublicKey: w.PublicKey, AddedAt: w.AddedAt}
	}
	return out, nil
}

// Resolve decrypts and returns the private key of wallet id. Only the
// file read happens under the keystore lock.
func (k *Keystore) Resolve(_ context.Context, id string) (solana.PrivateKey, error) {
	k.mu.Lock()
	f, err := k.load()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}

	for _, w := range f.Wallets {
		if w.PublicKey != id {
			continue
		}
		key, err := k.deriveKey(f)
		if err != nil {
			return nil, err
		}
		raw, err := unseal(w.Secret, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt wallet %s: %w", id, err)
		}
		if err := validateKeypair(raw); err != nil {
			return nil, err
		}
		return solana.PrivateKey(raw), nil
	}
	return nil, ErrNotFound
}

// Add imports a base58 or JSON-array private key and returns its public key.
func (k *Keystore) Add(_ context.Context, secret string) (string, error) {
	key, err := ParsePrivateKey(secret)
	if err != nil {
		return "", err
	}
	return k.add(key)
}

// Generate creates a new random wallet and returns its public key.
func (k *Keystore) Generate(_ context.Context) (string, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return k.add(key)
}

// Remove deletes wallet id. Returns ErrNotFound if absent.
func (k *Keystore) Remove(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	f, err := k.load()
	if err != nil {
		return err
	}
	if f == nil {
		return ErrNotFound
	}
	for i, w := range f.Wallets {
		if w.PublicKey == id {
			f.Wallets = append(f.Wallets[:i], f.Wallets[i+1:]...)
			if err := k.save(f); err != nil {
				return err
			}
			k.logger.Info("wallet removed", zap.String("wallet", id))
			return nil
		}
	}
	return ErrNotFound
}

func (k *Keystore) add(priv solana.PrivateKey) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	f, err := k.load()
	if err != nil {
		return "", err
	}
	if f == nil {
		if f, err = k.initFile(); err != nil {
			return "", err
		}
	}

	id := priv.PublicKey().String()
	for _, w := range f.Wallets {
		if w.PublicKey == id {
			return "", ErrExists
		}
	}

	key, err := k.deriveKey(f)
	if err != nil {
		return "", err
	}
	secret, err := seal(priv, key)
	if err != nil {
		return "", err
	}
	f.Wallets = append(f.Wallets, walletEntry{
		PublicKey: id,
		Secret:    secret,
		AddedAt:   k.now().UnixMilli(),
	})
	if err := k.save(f); err != nil {
		return "", err
	}

	k.logger.Info("wallet added", zap.String("wallet", id))
	return id, nil
}

func (k *Keystore) initFile() (*keystoreFile, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	f := &keystoreFile{Version: keystoreVersion, ScryptN: k.n, Salt: salt}

	k.keyMu.Lock()
	defer k.keyMu.Unlock()

	dk, err := k.deriveLocked(salt, f.ScryptN)
	if err != nil {
		return nil, err
	}
	if f.Verifier, err = seal([]byte(verifyMsg), dk); err != nil {
		return nil, err
	}
	k.remember(salt, f.ScryptN, dk)
	return f, nil
}

// deriveKey returns the sealing key for f, checked against its verifier.
func (k *Keystore) deriveKey(f *keystoreFile) (*[keyLen]byte, error) {
	k.keyMu.Lock()
	defer k.keyMu.Unlock()

	if k.cacheKey != nil && k.cacheN == f.ScryptN && bytes.Equal(k.cacheSalt, f.Salt) {
		if err := checkVerifier(f, k.cacheKey); err != nil {
			return nil, err
		}
		return k.cacheKey, nil
	}

	dk, err := k.deriveLocked(f.Salt, f.ScryptN)
	if err != nil {
		return nil, err
	}
	if err := checkVerifier(f, dk); err != nil {
		return nil, err
	}
	k.remember(f.Salt, f.ScryptN, dk)
	return dk, nil
}

func (k *Keystore) deriveLocked(salt []byte, n int) (*[keyLen]byte, error) {
	key, err := k.derive(k.pass, salt, n)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var dk [keyLen]byte
	copy(dk[:], key)
	return &dk, nil
}

func (k *Keystore) remember(salt []byte, n int, dk *[keyLen]byte) {
	k.cacheSalt = append([]byte(nil), salt...)
	k.cacheN = n
	k.cacheKey = dk
}

func checkVerifier(f *keystoreFile, dk *[keyLen]byte) error {
	msg, err := unseal(f.Verifier, dk)
	if err != nil || string(msg) != verifyMsg {
		return ErrWrongPassphrase
	}
	return nil
}

func scryptKey(pass, salt []byte, n int) ([]byte, error) {
	return scrypt.Key(pass, salt, n, scryptR, scryptP, keyLen)
}

// load reads the keystore file. A missing file yields nil, nil.
func (k *Keystore) load() (*keystoreFile, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	var f keystoreFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if f.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", f.Version)
	}
	return &f, nil
}

// save writes the file atomically via a temp file in the same directory.
func (k *Keystore) save(f *keystoreFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}

	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp keystore: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod keystore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close keystore: %w", err)
	}
	if err := os.Rename(tmp.Name(), k.path); err != nil {
		return fmt.Errorf("replace keystore: %w", err)
	}
	return nil
}

func seal(plaintext []byte, key *[keyLen]byte) (sealed, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	return sealed{
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, plaintext, &nonce, key),
	}, nil
}

func unseal(s sealed, key *[keyLen]byte) ([]byte, error) {
	if len(s.Nonce) != nonceLen {
		return nil, errors.New("malformed nonce")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], s.Nonce)
	out, ok := secretbox.Open(nil, s.Ciphertext, &nonce, key)
	if !ok {
		return nil, errors.New("secretbox authentication failed")
	}
	return out, nil
}
