package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting: %w", err)
	}
	return value, nil
}

const settingUpsert = `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(settingUpsert, key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// ServerConfig is the persisted driver configuration. Password is plaintext in
// memory; at rest it is encrypted when the store has an encryptor.
type ServerConfig struct {
	Host     string
	Username string
	Password string
	ServerID string
	UserID   string
}

func (s *Store) GetServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	var err error
	if cfg.Host, err = s.GetSetting("host"); err != nil {
		return cfg, err
	}
	if cfg.Username, err = s.GetSetting("username"); err != nil {
		return cfg, err
	}
	if cfg.Password, err = s.getPassword(); err != nil {
		return cfg, err
	}
	if cfg.ServerID, err = s.GetSetting("server_id"); err != nil {
		return cfg, err
	}
	if cfg.UserID, err = s.GetSetting("user_id"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Store) SetServerConfig(cfg ServerConfig) error {
	password := cfg.Password
	if s.encryptor != nil && password != "" {
		enc, err := s.encryptor.Encrypt(password)
		if err != nil {
			return fmt.Errorf("encrypting password: %w", err)
		}
		password = enc
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, kv := range []struct{ k, v string }{
		{"host", cfg.Host},
		{"username", cfg.Username},
		{"password", password},
		{"server_id", cfg.ServerID},
		{"user_id", cfg.UserID},
	} {
		if _, err := tx.Exec(settingUpsert, kv.k, kv.v); err != nil {
			return fmt.Errorf("setting %q: %w", kv.k, err)
		}
	}

	return tx.Commit()
}

func (s *Store) getPassword() (string, error) {
	stored, err := s.GetSetting("password")
	if err != nil || stored == "" {
		return stored, err
	}
	if s.encryptor == nil {
		return stored, nil
	}
	plain, err := s.encryptor.Decrypt(stored)
	if err != nil {
		// Pre-encryption value or a key change; surface it rather than
		// handing the ciphertext to the Jellyfin client.
		return "", fmt.Errorf("decrypting password: %w", err)
	}
	return plain, nil
}

// SetServerInfo stores the raw server info document captured at setup.
func (s *Store) SetServerInfo(infoJSON string) error {
	return s.SetSetting("server_info", infoJSON)
}

func (s *Store) GetServerInfo() (string, error) {
	return s.GetSetting("server_info")
}

// IsConfigured reports whether host, username and password are all present.
func (s *Store) IsConfigured() (bool, error) {
	for _, key := range []string{"host", "username", "password"} {
		v, err := s.GetSetting(key)
		if err != nil {
			return false, err
		}
		if v == "" {
			return false, nil
		}
	}
	return true, nil
}

// ClearConfig removes the persisted configuration, returning the driver to the
// not-configured state.
func (s *Store) ClearConfig() error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key IN ('host', 'username', 'password', 'server_id', 'user_id', 'server_info')`)
	if err != nil {
		return fmt.Errorf("clearing config: %w", err)
	}
	return nil
}
