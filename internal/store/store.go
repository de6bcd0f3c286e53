// Package store keeps the clients registry and the user accounts in
// Postgres.
package store

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// StatusGray is the status every client starts with and is reset to.
const StatusGray = "gray"

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id             SERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	email          TEXT,
	account_number TEXT,
	status         TEXT DEFAULT 'gray',
	folder_path    TEXT
);
CREATE TABLE IF NOT EXISTS users (
	id            SERIAL PRIMARY KEY,
	username      VARCHAR(50) UNIQUE NOT NULL,
	password_hash VARCHAR(255) NOT NULL
);`

// Client is one row of the clients registry.
type Client struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
	FolderPath    string `json:"folder_path"`
}

// ClientListItem is the short form returned by searches.
type ClientListItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// User is a login account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects to dsn and checks the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "database_url", dsn, nil).
			WithSuggestion("set NEOSYNC_DATABASE_URL to a Postgres connection string")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database_url", "<redacted>", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.StorageError(errors.CodeQueryFailed, "connect", err)
	}
	return &Store{
		pool:   pool,
		logger: logger.GetGlobalLogger().WithComponent("store"),
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the clients and users tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "ensure_schema", err)
	}
	s.logger.Info("Tables clients and users checked")
	return nil
}

// SearchClients lists clients whose name or account number contains search,
// case-insensitively, ordered by name. An empty search lists everyone.
func (s *Store) SearchClients(ctx context.Context, search string) ([]ClientListItem, error) {
	query := "SELECT id, name, COALESCE(status, '') FROM clients ORDER BY name"
	var args []any
	if pattern, ok := searchPattern(search); ok {
		query = "SELECT id, name, COALESCE(status, '') FROM clients WHERE name ILIKE $1 OR account_number ILIKE $1 ORDER BY name"
		args = append(args, pattern)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "search_clients", err)
	}
	defer rows.Close()

	items := []ClientListItem{}
	for rows.Next() {
		var item ClientListItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Status); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "search_clients", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "search_clients", err)
	}
	return items, nil
}

// GetClient returns one client or a not_found error.
func (s *Store) GetClient(ctx context.Context, id int64) (*Client, error) {
	var c Client
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(account_number, ''),
		       COALESCE(status, ''), COALESCE(folder_path, '')
		FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.AccountNumber, &c.Status, &c.FolderPath)
	if err != nil {
		return nil, queryError("get_client", err).WithContext("client_id", id)
	}
	return &c, nil
}

// CreateClient inserts c with the gray status and returns its id.
func (s *Store) CreateClient(ctx context.Context, c Client) (int64, error) {
	c = c.trimmed()
	if err := c.validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clients (name, email, account_number, folder_path, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		c.Name, c.Email, c.AccountNumber, c.FolderPath, StatusGray).Scan(&id)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "create_client", err)
	}
	s.logger.WithFields(logger.Fields{"client_id": id, "name": c.Name}).Info("Client added")
	return id, nil
}

// UpdateClient rewrites the descriptive fields of client c.ID. The status is
// left alone.
func (s *Store) UpdateClient(ctx context.Context, c Client) error {
	c = c.trimmed()
	if err := c.validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients SET name = $1, email = $2, account_number = $3, folder_path = $4
		WHERE id = $5`,
		c.Name, c.Email, c.AccountNumber, c.FolderPath, c.ID)
	return affected("update_client", c.ID, tag.RowsAffected(), err)
}

// SetClientStatus changes the status of one client.
func (s *Store) SetClientStatus(ctx context.Context, id int64, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return errors.ValidationError(errors.CodeMissingField, "status", status, nil)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE clients SET status = $1 WHERE id = $2", status, id)
	return affected("set_client_status", id, tag.RowsAffected(), err)
}

// DeleteClient removes one client.
func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM clients WHERE id = $1", id)
	return affected("delete_client", id, tag.RowsAffected(), err)
}

// ResetStatuses sets every client back to gray and returns how many rows
// were touched.
func (s *Store) ResetStatuses(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "UPDATE clients SET status = $1", StatusGray)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "reset_statuses", err)
	}
	return tag.RowsAffected(), nil
}

// UserByUsername looks up a login account.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		"SELECT id, username, password_hash FROM users WHERE username = $1", username).
		Scan(&u.ID, &u.Username, &u.PasswordHash)
	if err != nil {
		return nil, queryError("user_by_username", err)
	}
	return &u, nil
}

// CreateUser inserts an account with an already hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, errors.ValidationError(errors.CodeMissingField, "username", username, nil)
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id",
		username, passwordHash).Scan(&id)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "create_user", err)
	}
	return id, nil
}

func (c Client) trimmed() Client {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.AccountNumber = strings.TrimSpace(c.AccountNumber)
	c.FolderPath = strings.TrimSpace(c.FolderPath)
	return c
}

func (c Client) validate() error {
	if c.Name == "" {
		return errors.ValidationError(errors.CodeMissingField, "name", c.Name, nil).
			WithSuggestion("the client name is required")
	}
	return nil
}

// searchPattern builds the ILIKE pattern for a search term. LIKE wildcards
// in the term match literally.
func searchPattern(search string) (string, bool) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", false
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)
	return "%" + escaped + "%", true
}

func queryError(operation string, err error) *errors.ReconcilerError {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.StorageError(errors.CodeNotFound, operation, err)
	}
	return errors.StorageError(errors.CodeQueryFailed, operation, err)
}

func affected(operation string, id, rows int64, err error) error {
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, operation, err).WithContext("client_id", id)
	}
	if rows == 0 {
		return errors.StorageError(errors.CodeNotFound, operation, nil).WithContext("client_id", id)
	}
	return nil
}
