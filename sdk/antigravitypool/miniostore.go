package antigravitypool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// MinioStore persists the accounts document as a single object in an
// object-storage bucket, for hosts that keep all durable state off the local
// filesystem. Grounded on the teacher repo's minio-go dependency.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	objectName string
}

// NewMinioStore constructs a MinioStore against an already-configured
// minio.Client.
func NewMinioStore(client *minio.Client, bucket, objectName string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, objectName: objectName}
}

// Load fetches and decodes the document object, returning (nil, nil) when
// the object does not exist.
func (s *MinioStore) Load(ctx context.Context) (*PoolDocument, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("antigravitypool: get minio object: %w", err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && errResp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("antigravitypool: read minio object: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc PoolDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("antigravitypool: decode minio document: %w", err)
	}
	return &doc, nil
}

// Save overwrites the document object in a single PutObject call, which is
// atomic from the perspective of any reader (they observe either the prior
// object or the new one, never a partial write).
func (s *MinioStore) Save(ctx context.Context, doc *PoolDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("antigravitypool: marshal minio document: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("antigravitypool: put minio object: %w", err)
	}
	return nil
}
