package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/printdesk/api/internal/platform/config"
)

const defaultPublicBase = "https://storage.googleapis.com/"

// ErrObjectExists is returned when an upload would overwrite an existing object.
var ErrObjectExists = errors.New("storage: object already exists")

// Object is a blob to be written.
type Object struct {
	Path        string
	ContentType string
	Content     []byte
	Metadata    map[string]string
}

// StoredObject describes a written blob.
type StoredObject struct {
	Bucket string
	Path   string
	URL    string
	Size   int64
}

// Uploader writes order documents to a Cloud Storage bucket. Objects are never overwritten.
type Uploader struct {
	client        *gcs.Client
	bucket        string
	publicBaseURL string
	maxBytes      int64
}

// NewUploader constructs an Uploader for the configured documents bucket.
func NewUploader(client *gcs.Client, cfg config.StorageConfig) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	bucket := strings.TrimSpace(cfg.DocumentsBucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	return &Uploader{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimSpace(cfg.PublicBaseURL),
		maxBytes:      cfg.MaxUploadBytes,
	}, nil
}

// Put writes obj and returns its location. Cancelling ctx aborts the write.
func (u *Uploader) Put(ctx context.Context, obj Object) (StoredObject, error) {
	if u == nil || u.client == nil {
		return StoredObject{}, errors.New("storage uploader: not initialised")
	}
	path := strings.TrimSpace(obj.Path)
	if path == "" {
		return StoredObject{}, errors.New("storage uploader: object path is required")
	}
	if u.maxBytes > 0 && int64(len(obj.Content)) > u.maxBytes {
		return StoredObject{}, fmt.Errorf("storage uploader: object exceeds %d bytes", u.maxBytes)
	}

	handle := u.client.Bucket(u.bucket).Object(path).If(gcs.Conditions{DoesNotExist: true})
	w := handle.NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.Metadata = obj.Metadata
	if _, err := w.Write(obj.Content); err != nil {
		_ = w.Close()
		return StoredObject{}, fmt.Errorf("storage uploader: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return StoredObject{}, fmt.Errorf("%w: %s", ErrObjectExists, path)
		}
		return StoredObject{}, fmt.Errorf("storage uploader: close %s: %w", path, err)
	}

	size := int64(len(obj.Content))
	if attrs := w.Attrs(); attrs != nil {
		size = attrs.Size
	}
	return StoredObject{Bucket: u.bucket, Path: path, URL: u.objectURL(path), Size: size}, nil
}

// Ping reads the bucket metadata for readiness checks.
func (u *Uploader) Ping(ctx context.Context) error {
	if u == nil || u.client == nil {
		return errors.New("storage uploader: not initialised")
	}
	_, err := u.client.Bucket(u.bucket).Attrs(ctx)
	return err
}

func (u *Uploader) objectURL(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")
	if u.publicBaseURL != "" {
		return strings.TrimRight(u.publicBaseURL, "/") + "/" + escaped
	}
	return defaultPublicBase + u.bucket + "/" + escaped
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
