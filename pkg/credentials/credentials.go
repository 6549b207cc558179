package credentials

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	json "github.com/json-iterator/go"
)

// Credentials identify a signed-in identity session. Bearer tokens are
// short-lived and never written here; they are minted from the session.
type Credentials struct {
	SessionID   string    `json:"session_id"`
	ClientToken string    `json:"client_token"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	DBUserID    string    `json:"db_user_id,omitempty"`
	ProfileID   string    `json:"profile_id,omitempty"`
	SignedInAt  time.Time `json:"signed_in_at"`
}

// Load loads credentials from disk
func Load() (*Credentials, error) {
	return LoadFrom(config.GetCredentialsPath())
}

// LoadFrom reads credentials at path. A missing file returns nil, nil.
func LoadFrom(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// Save saves credentials to disk
func Save(creds *Credentials) error {
	return SaveTo(config.GetCredentialsPath(), creds)
}

// SaveTo writes creds to path, owner read/write only.
func SaveTo(path string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Delete deletes credentials from disk. A missing file is not an error.
func Delete() error {
	err := os.Remove(config.GetCredentialsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// IsValid reports whether the session can mint tokens.
func (c *Credentials) IsValid() bool {
	return c != nil && c.SessionID != "" && c.ClientToken != "" && c.UserID != ""
}

// DisplayName returns the best available human name.
func (c *Credentials) DisplayName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.Email != "":
		return c.Email
	}
	return c.UserID
}
