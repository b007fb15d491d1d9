package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
)

type ObjectStorageConfig struct {
	Mode         ObjectStorageMode
	EmulatorHost string
}

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
)

type ObjectStorageConfigError struct {
	Code         ObjectStorageConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ObjectStorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", e.Mode, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", ObjectStorageModeGCSEmulator)
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", e.EmulatorHost)
	default:
		return "invalid object storage config"
	}
}

func (e *ObjectStorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ResolveObjectStorageConfigFromEnv picks the emulator when
// OBJECT_STORAGE_MODE says so, or when it is unset and STORAGE_EMULATOR_HOST is.
func ResolveObjectStorageConfigFromEnv() (ObjectStorageConfig, error) {
	cfg := ObjectStorageConfig{EmulatorHost: strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST"))}
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	switch ObjectStorageMode(strings.ToLower(raw)) {
	case "":
		cfg.Mode = ObjectStorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = ObjectStorageModeGCSEmulator
		}
	case ObjectStorageModeGCS:
		cfg.Mode = ObjectStorageModeGCS
	case ObjectStorageModeGCSEmulator:
		cfg.Mode = ObjectStorageModeGCSEmulator
	default:
		return cfg, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: raw}
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		return cfg, nil
	}
	if cfg.EmulatorHost == "" {
		return cfg, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, &ObjectStorageConfigError{
			Code:         ObjectStorageConfigErrorInvalidEmulatorHost,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
	}
	return cfg, nil
}

// ObjectStore reads source files for ingestion.
type ObjectStore interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	Close() error
}

var ErrObjectNotFound = errors.New("object not found")

type objectStore struct {
	log    *logger.Logger
	client *storage.Client
	mode   ObjectStorageMode
}

func NewObjectStore(ctx context.Context, log *logger.Logger, credentials string) (ObjectStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	storageCfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	switch storageCfg.Mode {
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(storageCfg.EmulatorHost, "/")
		opts = []option.ClientOption{
			option.WithoutAuthentication(),
			option.WithEndpoint(endpoint + "/storage/v1/"),
		}
	default:
		opts = append(ClientOptions(credentials), option.WithScopes(storage.ScopeReadOnly))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	log.Info("Object store ready", "mode", storageCfg.Mode)
	return &objectStore{
		log:    log.With("service", "gcp.ObjectStore"),
		client: client,
		mode:   storageCfg.Mode,
	}, nil
}

func (s *objectStore) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	s.log.Debug("Opened object", "bucket", bucket, "object", object, "size", r.Attrs.Size)
	return r, nil
}

func (s *objectStore) Close() error {
	return s.client.Close()
}

// URI renders a gs:// reference.
func URI(bucket, object string) string {
	return "gs://" + strings.TrimSpace(bucket) + "/" + strings.TrimLeft(strings.TrimSpace(object), "/")
}
