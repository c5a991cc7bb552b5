// Encrypted export and import of direct-conversation data. The file
// is a JSON document {version, iv, ciphertext, createdAt} whose
// ciphertext is AES-256-GCM over a JSON payload of messages,
// conversations, encryption states and user config, keyed from the
// account's private key. A wrong-account file fails decryption; a
// corrupt file fails format validation; the two are distinguished so
// callers can tell them apart.
package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	"github.com/quorum-im/go-quorum/store"
	"go.uber.org/zap"
)

const (
	Version   = 1
	keyDomain = "quorum-backup-v1"
)

var (
	ErrDecryptionFailed = errors.New("backup decryption failed")
	ErrInvalidFormat    = errors.New("invalid backup format")
	ErrBusy             = errors.New("a backup operation is already running")
)

// File is the on-disk document. Iv and Ciphertext are lowercase hex.
type File struct {
	Version    int    `json:"version"`
	Iv         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	CreatedAt  uint64 `json:"createdAt"`
}

type Payload struct {
	Messages         []*store.Message         `json:"messages"`
	Conversations    []*store.Conversation    `json:"conversations"`
	EncryptionStates []*store.EncryptionState `json:"encryption_states"`
	UserConfig       []*store.UserConfig      `json:"user_config,omitempty"`
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Messages      int
	Conversations int
}

type Manager struct {
	config *config.Config
	store  *store.Store
	clock  clock.Clock
	log    *zap.SugaredLogger

	lock sync.Mutex
	busy bool
}

func NewManager(c *config.Config, s *store.Store, cl clock.Clock) *Manager {
	return &Manager{
		config: c,
		store:  s,
		clock:  cl,
		log:    c.Logger("backup"),
	}
}

// DeriveKey derives the 32-byte backup key from the account's private
// key. The derivation is fixed; a backup can only be opened by the
// account that wrote it.
func DeriveKey(privateKey []byte) []byte {
	h := sha512.New()
	h.Write([]byte(keyDomain))
	h.Write(privateKey)
	return h.Sum(nil)[:32]
}

func (m *Manager) claim() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.busy {
		return ErrBusy
	}
	m.busy = true
	return nil
}

func (m *Manager) release() {
	m.lock.Lock()
	m.busy = false
	m.lock.Unlock()
}

// Export snapshots all direct-conversation data and encrypts it into
// a backup document. Only one export or import runs at a time.
func (m *Manager) Export(privateKey []byte) ([]byte, error) {
	if err := m.claim(); err != nil {
		return nil, err
	}
	defer m.release()

	data, err := m.store.GetAllDMData()
	if err != nil {
		return nil, fmt.Errorf("reading dm data: %w", err)
	}
	plaintext, err := json.Marshal(&Payload{
		Messages:         data.Messages,
		Conversations:    data.Conversations,
		EncryptionStates: data.EncryptionStates,
		UserConfig:       data.UserConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	aead, err := newAEAD(privateKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}
	ciphertext := aead.Seal(nil, iv, plaintext, nil)

	out, err := json.Marshal(&File{
		Version:    Version,
		Iv:         hex.EncodeToString(iv),
		Ciphertext: hex.EncodeToString(ciphertext),
		CreatedAt:  m.clock.CurrentTimeMs(),
	})
	if err != nil {
		return nil, err
	}
	m.log.Infof("exported backup, %d messages in %d conversations", len(data.Messages), len(data.Conversations))
	return out, nil
}

// Import decrypts a backup document and restores its conversations
// and messages. Encryption states and user config are never restored
// from backup; sessions renegotiate on next contact.
func (m *Manager) Import(fileData, privateKey []byte) (*ImportResult, error) {
	if err := m.claim(); err != nil {
		return nil, err
	}
	defer m.release()

	p, err := Decrypt(fileData, privateKey)
	if err != nil {
		return nil, err
	}

	wroteMessages, wroteConversations, err := m.store.ImportDMData(&store.DMData{
		Conversations: p.Conversations,
		Messages:      p.Messages,
	})
	if err != nil {
		return nil, fmt.Errorf("writing imported data: %w", err)
	}
	m.log.Infof("imported backup, %d messages, %d conversations", wroteMessages, wroteConversations)
	return &ImportResult{Messages: wroteMessages, Conversations: wroteConversations}, nil
}

// Decrypt validates and opens a backup document without touching the
// store. Format problems and decryption problems return distinct
// errors.
func Decrypt(fileData, privateKey []byte) (*Payload, error) {
	var f File
	if err := json.Unmarshal(fileData, &f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, f.Version)
	}
	iv, err := hex.DecodeString(f.Iv)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv hex", ErrInvalidFormat)
	}
	ciphertext, err := hex.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext hex", ErrInvalidFormat)
	}

	aead, err := newAEAD(privateKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv length", ErrInvalidFormat)
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	p := &Payload{}
	if err := json.Unmarshal(plaintext, p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	return p, nil
}

func newAEAD(privateKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(privateKey))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
