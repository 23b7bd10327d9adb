package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"casedata/internal/domain"
)

const apiKeyColumns = `id, client_id, COALESCE(name,''), key_hash, created_at`

// HashAPIKey is the lookup form of a raw machine-client key. Surrounding whitespace is ignored.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var k domain.APIKey
	err := row.Scan(&k.ID, &k.ClientID, &k.Name, &k.KeyHash, &k.CreatedAt)
	return k, err
}

// InsertAPIKey registers a key for the machine client key.ClientID, whose changes the process
// synchronizer recognizes by that id. key.KeyHash holds HashAPIKey of the raw key.
func (s Store) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	var missing []string
	for _, f := range [][2]string{{"id", key.ID}, {"client_id", key.ClientID}, {"key_hash", key.KeyHash}} {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("api key: missing %s", strings.Join(missing, ", "))
	}
	if key.CreatedAt == "" {
		key.CreatedAt = s.now()
	}
	if _, err := s.GetAPIKeyByHash(ctx, key.KeyHash); err == nil {
		return fmt.Errorf("%w: api key already registered", ErrDuplicate)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO api_keys(id, client_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ClientID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key %s: %w", key.ID, err)
	}
	return nil
}

// GetAPIKeyByHash resolves the calling client of a request carrying an API key.
func (s Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	k, err := scanAPIKey(s.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, fmt.Errorf("%w: api key", ErrNotFound)
	}
	return k, err
}

// ListAPIKeys returns the keys of clientID, newest first, or of every client when clientID is empty.
func (s Store) ListAPIKeys(ctx context.Context, clientID string) ([]domain.APIKey, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys
WHERE ?='' OR client_id=?
ORDER BY created_at DESC, id`, clientID, clientID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	keys := []domain.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey revokes a key; requests carrying it fail authentication from then on.
func (s Store) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete api key %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: api key %s", ErrNotFound, id)
	}
	return nil
}
