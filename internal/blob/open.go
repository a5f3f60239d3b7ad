package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"atlasprep/internal/infra/blob/fs"
	"atlasprep/internal/infra/blob/memory"
	infraS3 "atlasprep/internal/infra/blob/s3"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvDriver      = "ATLASPREP_BLOB_DRIVER"
	EnvFSRoot      = "ATLASPREP_BLOB_FS_ROOT"
	EnvS3Bucket    = "ATLASPREP_BLOB_S3_BUCKET"
	EnvS3Region    = "ATLASPREP_BLOB_S3_REGION"
	EnvS3Prefix    = "ATLASPREP_BLOB_S3_PREFIX"
	EnvS3Endpoint  = "ATLASPREP_BLOB_S3_ENDPOINT"
	EnvS3PathStyle = "ATLASPREP_BLOB_S3_PATH_STYLE"
)

// S3Config configures the s3 driver.
type S3Config = infraS3.Config

// Config selects and configures a backend. The zero value is a filesystem
// store under fs.DefaultRoot.
type Config struct {
	Driver Driver   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// ConfigFromEnv reads ATLASPREP_BLOB_* variables. AWS credentials follow the
// SDK's default chain.
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(strings.ToLower(os.Getenv(EnvDriver))),
		FSRoot: os.Getenv(EnvFSRoot),
		S3: S3Config{
			Bucket:    os.Getenv(EnvS3Bucket),
			Region:    os.Getenv(EnvS3Region),
			Prefix:    os.Getenv(EnvS3Prefix),
			Endpoint:  os.Getenv(EnvS3Endpoint),
			PathStyle: strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
		},
	}
}

// Open constructs the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// OpenFromEnv is Open(ctx, ConfigFromEnv()).
func OpenFromEnv(ctx context.Context) (Store, error) {
	return Open(ctx, ConfigFromEnv())
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memory.New() }
