package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andyleap/mcpauth/internal/models"
)

// S3ClientStore keeps registered clients as JSON objects in an S3 bucket.
// It only implements ClientStore; pair it with another backend for codes and
// sessions through Compose.
type S3ClientStore struct {
	client *minio.Client
	bucket string
}

func NewS3ClientStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3ClientStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &S3ClientStore{
		client: client,
		bucket: bucket,
	}, nil
}

func clientObjectKey(clientID string) string {
	return fmt.Sprintf("clients/%s.json", clientID)
}

// clientNameKey hashes the name so any client_name maps to a safe object key.
func clientNameKey(name string) string {
	sum := sha256.Sum256([]byte(name))
	return fmt.Sprintf("client-names/%s", hex.EncodeToString(sum[:]))
}

func (s *S3ClientStore) GenerateClientID(client *models.Client) (string, error) {
	return CanonicalClientID(client)
}

func (s *S3ClientStore) StoreClient(ctx context.Context, client *models.Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, clientObjectKey(client.ClientID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to save client to S3: %w", err)
	}

	nameKey := clientNameKey(client.ClientName)
	exists, err := s.objectExists(ctx, nameKey)
	if err != nil {
		return err
	}
	if !exists {
		id := []byte(client.ClientID)
		_, err = s.client.PutObject(ctx, s.bucket, nameKey, bytes.NewReader(id), int64(len(id)), minio.PutObjectOptions{
			ContentType: "text/plain",
		})
		if err != nil {
			return fmt.Errorf("failed to index client name in S3: %w", err)
		}
	}

	return nil
}

func (s *S3ClientStore) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	data, err := s.readObject(ctx, clientObjectKey(clientID))
	if err != nil {
		return nil, fmt.Errorf("client %q: %w", clientID, err)
	}

	var client models.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return &client, nil
}

func (s *S3ClientStore) FindClient(ctx context.Context, name string) (*models.Client, error) {
	id, err := s.readObject(ctx, clientNameKey(name))
	if err != nil {
		return nil, fmt.Errorf("client named %q: %w", name, err)
	}
	return s.GetClient(ctx, string(id))
}

func (s *S3ClientStore) Close() error {
	return nil
}

// readObject maps a missing key to ErrNotFound. GetObject is lazy, so the
// NoSuchKey error only surfaces on the first read.
func (s *S3ClientStore) readObject(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}

	return data, nil
}

func (s *S3ClientStore) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object: %w", err)
	}

	return true, nil
}
