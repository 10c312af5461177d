// Package blob selects and re-exports the configured blob storage backend.
package blob

import (
	"context"
	"fmt"
	"os"

	"reservecore/internal/blob/core"
	"reservecore/internal/infra/blob/fs"
	"reservecore/internal/infra/blob/memory"
	"reservecore/internal/infra/blob/s3"
)

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = core.ErrUnsupported

// Open selects a blob Store implementation using environment variables.
//
//	RESERVECORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	RESERVECORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("RESERVECORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("RESERVECORE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
