package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andyleap/mcpauth/internal/models"
)

// FilesystemClientStore keeps registered clients as JSON files under basePath.
// Like S3ClientStore it only stores clients.
type FilesystemClientStore struct {
	basePath string
}

func NewFilesystemClientStore(basePath string) (*FilesystemClientStore, error) {
	for _, dir := range []string{"clients", "client-names"} {
		path := filepath.Join(basePath, dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
	}

	return &FilesystemClientStore{
		basePath: basePath,
	}, nil
}

func (f *FilesystemClientStore) clientPath(clientID string) (string, error) {
	if clientID == "" || strings.ContainsAny(clientID, `/\`) || strings.HasPrefix(clientID, ".") {
		return "", fmt.Errorf("client %q: %w", clientID, ErrNotFound)
	}
	return filepath.Join(f.basePath, "clients", clientID+".json"), nil
}

func (f *FilesystemClientStore) GenerateClientID(client *models.Client) (string, error) {
	return CanonicalClientID(client)
}

func (f *FilesystemClientStore) StoreClient(ctx context.Context, client *models.Client) error {
	path, err := f.clientPath(client.ClientID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(client, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write client file: %w", err)
	}

	// O_EXCL makes the first registration under a name win the index.
	namePath := filepath.Join(f.basePath, clientNameKey(client.ClientName))
	file, err := os.OpenFile(namePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to index client name: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(client.ClientID); err != nil {
		return fmt.Errorf("failed to index client name: %w", err)
	}
	return nil
}

func (f *FilesystemClientStore) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	path, err := f.clientPath(clientID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read client file: %w", err)
	}

	var client models.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return &client, nil
}

func (f *FilesystemClientStore) FindClient(ctx context.Context, name string) (*models.Client, error) {
	id, err := os.ReadFile(filepath.Join(f.basePath, clientNameKey(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("client named %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read client name index: %w", err)
	}
	return f.GetClient(ctx, string(id))
}

func (f *FilesystemClientStore) Close() error {
	return nil
}
