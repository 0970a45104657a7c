// Package tokenfile reads and writes the saved OAuth2 token. Token files
// store the token alongside cached metadata (the account name the token was
// issued for). Acquiring tokens is out of scope — an external login flow
// writes the file; tracksync only consumes it.
package tokenfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// AccountMetaKey is the metadata key holding the account name.
const AccountMetaKey = "account"

// File is the on-disk format for token files.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a saved token file from disk. Returns (nil, nil, nil) if the
// file does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return tf.Token, tf.Meta, nil
}

// Save writes a token file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	tf := File{Token: tok, Meta: meta}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("tokenfile: writing temp file: %w", err)
	}

	if err := tmp.Chmod(FilePerms); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("tokenfile: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("tokenfile: replacing %s: %w", path, err)
	}

	return nil
}

// HTTPClient wraps the token in an authenticating http.Client. The token is
// used as-is: refreshing it is the login flow's concern, not tracksync's.
func HTTPClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
}
