// Package auth validates HTTP Basic credentials against a secrets file
// loaded once at startup. Comparison is constant-time and rejections
// are generic so callers learn nothing about which field was wrong.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"
)

// ErrRejected is the single error returned for any failed attempt.
var ErrRejected = errors.New("invalid credentials")

// Credential is one username/password-hash pair from the secrets file.
type Credential struct {
	Username string `json:"username"`
	Hash     string `json:"hash"` // bcrypt hash
}

// secretsFile is the persisted secrets format.
type secretsFile struct {
	Credentials []Credential `json:"credentials"`
}

// dummyHash is compared against when the username is unknown so the
// response time does not reveal whether the username exists.
var dummyHash = mustHash("luigid-dummy-credential")

func mustHash(s string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}

// Authenticator holds the immutable credential snapshot.
type Authenticator struct {
	creds map[string]Credential
}

// Load reads the secrets file and returns an Authenticator. The file
// must exist and contain at least one credential; both are startup
// configuration errors, not runtime conditions.
func Load(path string) (*Authenticator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var sf secretsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	if len(sf.Credentials) == 0 {
		return nil, errors.New("secrets file contains no credentials")
	}

	creds := make(map[string]Credential, len(sf.Credentials))
	for _, c := range sf.Credentials {
		if c.Username == "" || c.Hash == "" {
			return nil, errors.New("secrets file entry missing username or hash")
		}
		creds[c.Username] = c
	}

	return &Authenticator{creds: creds}, nil
}

// Authenticate checks a username/password pair. On success it returns
// the authenticated identity; any failure returns ErrRejected.
func (a *Authenticator) Authenticate(username, password string) (string, error) {
	cred, exists := a.creds[username]

	hash := dummyHash
	if exists {
		hash = []byte(cred.Hash)
	}

	bcryptErr := bcrypt.CompareHashAndPassword(hash, []byte(password))

	// Hash the usernames before comparing so length differences do not
	// shortcut the comparison.
	want := sha256.Sum256([]byte(cred.Username))
	got := sha256.Sum256([]byte(username))
	usernameMatch := subtle.ConstantTimeCompare(want[:], got[:]) == 1

	if !exists || !usernameMatch || bcryptErr != nil {
		return "", ErrRejected
	}

	return cred.Username, nil
}

// FromRequest extracts and checks Basic credentials from an HTTP
// request. A missing or malformed header is the same generic rejection.
func (a *Authenticator) FromRequest(r *http.Request) (string, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", ErrRejected
	}
	return a.Authenticate(username, password)
}

// WriteSecrets writes a secrets file with the given plaintext passwords
// hashed. Used by setup tooling; the daemon itself only reads.
func WriteSecrets(path string, plaintext map[string]string) error {
	var sf secretsFile
	for username, password := range plaintext {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", username, err)
		}
		sf.Credentials = append(sf.Credentials, Credential{Username: username, Hash: string(hash)})
	}
	return writeSecretsFile(path, sf)
}

// AddCredential adds or replaces one credential in the secrets file,
// preserving every other entry. A missing file is created.
func AddCredential(path, username, password string) error {
	var sf secretsFile
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &sf); err != nil {
			return fmt.Errorf("parse secrets file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read secrets file: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", username, err)
	}

	replaced := false
	for i, c := range sf.Credentials {
		if c.Username == username {
			sf.Credentials[i].Hash = string(hash)
			replaced = true
			break
		}
	}
	if !replaced {
		sf.Credentials = append(sf.Credentials, Credential{Username: username, Hash: string(hash)})
	}

	return writeSecretsFile(path, sf)
}

func writeSecretsFile(path string, sf secretsFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
