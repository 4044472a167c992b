package credentials

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/ato-project/ato/pkg/engine"
	"github.com/ato-project/ato/pkg/stores"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	// scrypt cost parameters.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// RecordStore persists sealed credential records.
type RecordStore interface {
	SaveCredential(ctx context.Context, record *stores.CredentialRecord) error
	GetCredential(ctx context.Context, name string) (*stores.CredentialRecord, error)
	ListCredentials(ctx context.Context) ([]*stores.CredentialRecord, error)
	DeleteCredential(ctx context.Context, name string) error
}

// Profile is a credential profile without its secret.
type Profile struct {
	Name                string    `json:"name"`
	Provider            string    `json:"provider"`
	AccountID           string    `json:"account_id"`
	Username            string    `json:"username"`
	ExecutionInstanceID string    `json:"execution_instance_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// profileInput is validated before a profile is sealed.
type profileInput struct {
	Name        string `validate:"required,max=64,excludesall=/"`
	Credentials engine.Credentials
}

// Store seals, persists and resolves credential profiles.
type Store struct {
	records    RecordStore
	passphrase []byte
	validate   *validator.Validate
	logger     zerolog.Logger

	// keys caches derived keys by salt.
	mu   sync.Mutex
	keys map[string]*[keySize]byte

	rand io.Reader
}

var _ engine.CredentialResolver = (*Store)(nil)

// NewStore creates a Store sealing secrets under passphrase.
func NewStore(records RecordStore, passphrase string, logger zerolog.Logger) (*Store, error) {
	if records == nil {
		return nil, fmt.Errorf("credential record store is required")
	}
	if passphrase == "" {
		return nil, engine.NewValidationError("credential passphrase is required")
	}
	return &Store{
		records:    records,
		passphrase: []byte(passphrase),
		validate:   validator.New(),
		logger:     logger,
		keys:       make(map[string]*[keySize]byte),
		rand:       rand.Reader,
	}, nil
}

// Add creates or replaces the profile name.
func (s *Store) Add(ctx context.Context, name string, creds engine.Credentials) error {
	creds.Provider = strings.ToLower(strings.TrimSpace(creds.Provider))
	if creds.Provider == "" {
		creds.Provider = "boomi"
	}
	if err := s.validate.Struct(profileInput{Name: name, Credentials: creds}); err != nil {
		return engine.NewValidationError(fmt.Sprintf("invalid credential profile: %v", err)).WithResource(name)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	sealed, err := s.seal(salt, []byte(creds.Password))
	if err != nil {
		return err
	}

	record := &stores.CredentialRecord{
		Name:                name,
		Provider:            creds.Provider,
		AccountID:           creds.AccountID,
		Username:            creds.Username,
		ExecutionInstanceID: creds.ExecutionInstanceID,
		Salt:                salt,
		SealedSecret:        sealed,
	}
	if err := s.records.SaveCredential(ctx, record); err != nil {
		return err
	}

	s.logger.Info().Str("profile", name).Str("provider", creds.Provider).Msg("Credential profile saved")
	return nil
}

// List returns every profile without secrets.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	records, err := s.records.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(records))
	for _, r := range records {
		profiles = append(profiles, toProfile(r))
	}
	return profiles, nil
}

// Get returns one profile without its secret.
func (s *Store) Get(ctx context.Context, name string) (*Profile, error) {
	record, err := s.records.GetCredential(ctx, name)
	if err != nil {
		return nil, err
	}
	p := toProfile(record)
	return &p, nil
}

// Delete removes a profile.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.records.DeleteCredential(ctx, name); err != nil {
		return err
	}
	s.logger.Info().Str("profile", name).Msg("Credential profile deleted")
	return nil
}

// Resolve implements engine.CredentialResolver.
func (s *Store) Resolve(ctx context.Context, profile string) (*engine.Credentials, error) {
	if profile == "" {
		return nil, engine.NewValidationError("credential profile is required")
	}
	record, err := s.records.GetCredential(ctx, profile)
	if err != nil {
		return nil, err
	}

	password, err := s.open(record.Salt, record.SealedSecret)
	if err != nil {
		return nil, engine.NewAuthError("failed to unseal credential profile; check the passphrase", err).
			WithResource(profile)
	}

	return &engine.Credentials{
		Provider:            record.Provider,
		AccountID:           record.AccountID,
		Username:            record.Username,
		Password:            string(password),
		ExecutionInstanceID: record.ExecutionInstanceID,
	}, nil
}

func (s *Store) seal(salt, plaintext []byte) ([]byte, error) {
	key, err := s.key(salt)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

func (s *Store) open(salt, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("sealed secret is truncated")
	}
	key, err := s.key(salt)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("secretbox authentication failed")
	}
	return plaintext, nil
}

func (s *Store) key(salt []byte) (*[keySize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[string(salt)]; ok {
		return k, nil
	}
	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var k [keySize]byte
	copy(k[:], derived)
	s.keys[string(salt)] = &k
	return &k, nil
}

func toProfile(r *stores.CredentialRecord) Profile {
	return Profile{
		Name:                r.Name,
		Provider:            r.Provider,
		AccountID:           r.AccountID,
		Username:            r.Username,
		ExecutionInstanceID: r.ExecutionInstanceID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
