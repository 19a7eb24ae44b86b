package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/stem"
)

func buildSnapshot(t *testing.T) *index.Snapshot {
	t.Helper()
	b := &index.Builder{Encoder: embed.NewHashEncoder(32), Stemmer: stem.New(), Log: logging.NewNop()}
	snap, err := b.Build(context.Background(), []glossary.Entry{
		{ID: "V-001", RecommendedTerm: "exhaurir", Category: glossary.Verb, NonNormativeVariants: []string{"agotar"}},
		{ID: "N-001", RecommendedTerm: "sol·licitud", Category: glossary.Noun, NonNormativeVariants: []string{"solicitud"}},
	})
	require.NoError(t, err)
	return snap
}

func TestFileStorePublishAndLoad(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir())

	_, err := fs.Latest(ctx)
	require.ErrorIs(t, err, internalerr.ErrNotFound)

	first := buildSnapshot(t)
	require.NoError(t, fs.Publish(ctx, first))
	second := buildSnapshot(t)
	require.NoError(t, fs.Publish(ctx, second))

	latest, err := fs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Version, latest)

	got, err := fs.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, second.Version, got.Version)

	old, err := fs.Load(ctx, first.Version)
	require.NoError(t, err)
	assert.Equal(t, first.Stats(), old.Stats())
}

func TestFileStoreRejectsEscapingVersion(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	_, err := fs.Load(context.Background(), "../etc")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	require.NoError(t, os.WriteFile(filepath.Join(fs.Root, LatestFile), []byte("a/b\n"), 0o644))
	_, err = fs.Latest(context.Background())
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

// bucket is an ObjectAPI backed by a map, keyed by object name.
type bucket struct {
	mu      sync.Mutex
	exists  bool
	objects map[string][]byte
	puts    []string
}

func newBucket() *bucket { return &bucket{objects: map[string][]byte{}} }

func (b *bucket) BucketExists(context.Context, string) (bool, error) { return b.exists, nil }

func (b *bucket) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	b.exists = true
	return nil
}

func (b *bucket) FPutObject(_ context.Context, _, object, file string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[object] = data
	b.puts = append(b.puts, object)
	return minio.UploadInfo{Key: object, Size: int64(len(data))}, nil
}

func (b *bucket) FGetObject(_ context.Context, _, object, file string, _ minio.GetObjectOptions) error {
	b.mu.Lock()
	data, ok := b.objects[object]
	b.mu.Unlock()
	if !ok {
		return minio.ErrorResponse{Code: "NoSuchKey", Key: object}
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}

func TestMinioStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	bk := newBucket()
	ms := NewMinioStore(bk, "aina", "/indexes/", t.TempDir(), logging.NewNop())
	require.NoError(t, ms.EnsureBucket(ctx, "eu-west-1"))
	assert.True(t, bk.exists)

	snap := buildSnapshot(t)
	require.NoError(t, ms.Publish(ctx, snap))
	assert.Equal(t, "indexes/"+LatestFile, bk.puts[len(bk.puts)-1], "pointer is uploaded last")
	assert.Contains(t, bk.objects, "indexes/"+snap.Version+"/"+index.VectorsFile)

	latest, err := ms.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Version, latest)

	got, err := ms.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, snap.Stats(), got.Stats())

	// Served from the cache directory once downloaded.
	bk.objects = map[string][]byte{}
	again, err := ms.Load(ctx, snap.Version)
	require.NoError(t, err)
	assert.Equal(t, snap.Version, again.Version)
}

func TestMinioStoreMissingObjects(t *testing.T) {
	ms := NewMinioStore(newBucket(), "aina", "", t.TempDir(), logging.NewNop())
	_, err := ms.Latest(context.Background())
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
	_, err = ms.Load(context.Background(), "01HV0000000000000000000001")
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
}

func TestMinioStoreUploadFailure(t *testing.T) {
	ms := NewMinioStore(failingBucket{newBucket()}, "aina", "", t.TempDir(), logging.NewNop())
	err := ms.Publish(context.Background(), buildSnapshot(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
}

type failingBucket struct{ *bucket }

func (failingBucket) FPutObject(context.Context, string, string, string, minio.PutObjectOptions) (minio.UploadInfo, error) {
	return minio.UploadInfo{}, errors.New("connection reset")
}
