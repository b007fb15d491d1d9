package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/feedback-annotator/internal/platform/gcp"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

// newObjectStore is swapped in tests.
var newObjectStore = gcp.NewObjectStore

type SourceErrorCode string

const (
	SourceInvalidMode         SourceErrorCode = "invalid_mode"
	SourceMissingEmulatorHost SourceErrorCode = "missing_emulator_host"
	SourceInvalidEmulatorHost SourceErrorCode = "invalid_emulator_host"
	SourceConnectFailed       SourceErrorCode = "connect_failed"
)

// SourceError reports why the ingestion source store could not be opened.
type SourceError struct {
	Code         SourceErrorCode
	Mode         gcp.ObjectStorageMode
	EmulatorHost string
	Cause        error
}

func (e *SourceError) Error() string {
	if e.EmulatorHost != "" {
		return fmt.Sprintf("ingest source %s (mode=%s emulator=%s): %v", e.Code, e.Mode, e.EmulatorHost, e.Cause)
	}
	return fmt.Sprintf("ingest source %s (mode=%s): %v", e.Code, e.Mode, e.Cause)
}

func (e *SourceError) Unwrap() error { return e.Cause }

// openSource opens the object store the CSV loader reads from. BigQuery
// warehouses load natively and never call it, so they need no storage
// credentials of their own.
func openSource(ctx context.Context, log *logger.Logger, credentials string) (gcp.ObjectStore, error) {
	storageCfg, err := gcp.ResolveObjectStorageConfigFromEnv()
	if err == nil {
		log.Info("Opening ingest source", "mode", storageCfg.Mode, "emulator_host", storageCfg.EmulatorHost)
		var store gcp.ObjectStore
		if store, err = newObjectStore(ctx, log, credentials); err == nil {
			return store, nil
		}
	}
	serr := sourceError(storageCfg, err)
	log.Error("Ingest source unavailable", "code", serr.Code, "mode", serr.Mode, "error", serr.Cause)
	return nil, serr
}

func sourceError(storageCfg gcp.ObjectStorageConfig, err error) *SourceError {
	out := &SourceError{
		Code:         SourceConnectFailed,
		Mode:         storageCfg.Mode,
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
	var cfgErr *gcp.ObjectStorageConfigError
	if !errors.As(err, &cfgErr) {
		return out
	}
	switch cfgErr.Code {
	case gcp.ObjectStorageConfigErrorInvalidMode:
		out.Code = SourceInvalidMode
		out.Mode = gcp.ObjectStorageMode(cfgErr.Mode)
	case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
		out.Code = SourceMissingEmulatorHost
	case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
		out.Code = SourceInvalidEmulatorHost
	}
	return out
}
