package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// ObjectAPI is the subset of *minio.Client the store uses.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// MinioConfig holds the bucket connection settings.
type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

// MinioStore keeps artifacts in a bucket. Loaded versions are downloaded to
// CacheDir first and read from there.
type MinioStore struct {
	api      ObjectAPI
	bucket   string
	prefix   string
	cacheDir string
	log      logging.Logger
}

// NewMinioClient dials the endpoint with static credentials.
func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

// NewMinioStore wraps api. cacheDir receives downloaded versions.
func NewMinioStore(api ObjectAPI, bucket, prefix, cacheDir string, log logging.Logger) *MinioStore {
	return &MinioStore{
		api:      api,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		cacheDir: cacheDir,
		log:      logging.OrDefault(log).Named("artifact"),
	}
}

func (m *MinioStore) object(parts ...string) string {
	if m.prefix != "" {
		parts = append([]string{m.prefix}, parts...)
	}
	return path.Join(parts...)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinioStore) EnsureBucket(ctx context.Context, region string) error {
	ok, err := m.api.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if ok {
		return nil
	}
	if err := m.api.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.log.Info("bucket created", logging.String("bucket", m.bucket))
	return nil
}

// Publish writes the artifact locally, uploads every file, then the LATEST
// pointer. A reader never sees LATEST before the files it names.
func (m *MinioStore) Publish(ctx context.Context, snap *index.Snapshot) error {
	if err := validVersion(snap.Version); err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "aina-artifact-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := snap.WriteArtifact(dir); err != nil {
		return err
	}
	for _, name := range index.ArtifactFiles {
		obj := m.object(snap.Version, name)
		info, err := m.api.FPutObject(ctx, m.bucket, obj, filepath.Join(dir, name), minio.PutObjectOptions{ContentType: contentType(name)})
		if err != nil {
			return fmt.Errorf("upload %s: %w", obj, err)
		}
		m.log.Debug("artifact file uploaded", logging.String("object", obj), logging.Int("size", int(info.Size)))
	}

	latest := filepath.Join(dir, LatestFile)
	if err := os.WriteFile(latest, []byte(snap.Version+"\n"), 0o644); err != nil {
		return err
	}
	if _, err := m.api.FPutObject(ctx, m.bucket, m.object(LatestFile), latest, minio.PutObjectOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("upload %s: %w", LatestFile, err)
	}
	m.log.Info("index published",
		logging.String("bucket", m.bucket),
		logging.String("version", snap.Version))
	return nil
}

// Latest implements Store.
func (m *MinioStore) Latest(ctx context.Context) (string, error) {
	tmp, err := os.CreateTemp("", "aina-latest-*")
	if err != nil {
		return "", err
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := m.api.FGetObject(ctx, m.bucket, m.object(LatestFile), tmp.Name(), minio.GetObjectOptions{}); err != nil {
		return "", m.mapErr(LatestFile, err)
	}
	b, err := os.ReadFile(tmp.Name())
	if err != nil {
		return "", err
	}
	return parseLatest(b)
}

// Load downloads a version into the cache directory unless it is already
// there, then reads it.
func (m *MinioStore) Load(ctx context.Context, version string) (*index.Snapshot, error) {
	if version == "" {
		latest, err := m.Latest(ctx)
		if err != nil {
			return nil, err
		}
		version = latest
	}
	if err := validVersion(version); err != nil {
		return nil, err
	}
	dir := filepath.Join(m.cacheDir, version)
	if _, err := index.ReadManifest(dir); err == nil {
		return index.ReadArtifact(dir)
	}

	// The manifest is fetched last so a partial download is never taken
	// for a complete one.
	names := append([]string(nil), index.ArtifactFiles[1:]...)
	names = append(names, index.ManifestFile)
	for _, name := range names {
		if err := m.api.FGetObject(ctx, m.bucket, m.object(version, name), filepath.Join(dir, name), minio.GetObjectOptions{}); err != nil {
			return nil, m.mapErr(m.object(version, name), err)
		}
	}
	m.log.Info("index downloaded", logging.String("version", version), logging.String("dir", dir))
	return index.ReadArtifact(dir)
}

func (m *MinioStore) mapErr(obj string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("object %s/%s: %w", m.bucket, obj, internalerr.ErrNotFound)
	}
	return fmt.Errorf("download %s: %w", obj, err)
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
