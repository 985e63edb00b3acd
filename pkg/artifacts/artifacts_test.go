package artifacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("%PDF-1.4 brief")
	digest, err := s.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, Digest(data), digest)
	require.True(t, strings.HasPrefix(digest, "sha256:"))

	again, err := s.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, digest, again)

	got, err := s.Get(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, data, got)

	ok, err := s.Exists(ctx, digest)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(s.Location(digest), "file://"))
	require.True(t, strings.HasSuffix(s.Location(digest), ".pdf"))

	require.NoError(t, s.Delete(ctx, digest))
	require.NoError(t, s.Delete(ctx, digest))
	_, err = s.Get(ctx, digest)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsBadDigest(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, d := range []string{"abc", "sha256:zz", "sha256:" + strings.Repeat("a", 10), "md5:" + strings.Repeat("a", 64)} {
		_, err := s.Get(context.Background(), d)
		require.Error(t, err, d)
	}
	require.Empty(t, s.Location("nope"))
}

func TestNewDefaultsToFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	st, err := New(context.Background(), ConfigFromEnv(func(k string) string {
		if k == "BRIEFGATE_ARTIFACT_DIR" {
			return dir
		}
		return ""
	}))
	require.NoError(t, err)
	fs, ok := st.(*FileStore)
	require.True(t, ok, "got %T", st)
	require.Equal(t, dir, fs.baseDir)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: KindS3})
	require.ErrorContains(t, err, "bucket is required")

	_, err = New(context.Background(), Config{Kind: KindGCS})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Kind: "ftp"})
	require.ErrorContains(t, err, "unsupported")
}

func TestConfigFromEnvRegionFallback(t *testing.T) {
	cfg := ConfigFromEnv(func(k string) string {
		return map[string]string{"BRIEFGATE_ARTIFACT_STORE": "s3", "AWS_REGION": "eu-west-1"}[k]
	})
	require.Equal(t, KindS3, cfg.Kind)
	require.Equal(t, "eu-west-1", cfg.Region)
}

// fakeS3 answers path-style HEAD and PUT requests.
type fakeS3 struct {
	mu   sync.Mutex
	keys map[string]bool
	puts []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		if !f.keys[r.URL.Path] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
	case http.MethodPut:
		f.keys[r.URL.Path] = true
		f.puts = append(f.puts, r.URL.Path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StorePutIsIdempotent(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	fake := &fakeS3{keys: map[string]bool{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	s, err := NewS3Store(ctx, S3Config{Bucket: "briefs", Region: "us-east-1", Endpoint: srv.URL, Prefix: "out/"})
	require.NoError(t, err)

	data := []byte("%PDF-1.4 s3")
	digest, err := s.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, Digest(data), digest)

	ok, err := s.Exists(ctx, digest)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Put(ctx, data)
	require.NoError(t, err)

	raw := strings.TrimPrefix(digest, "sha256:")
	require.Equal(t, []string{"/briefs/out/" + raw + ".pdf"}, fake.puts)
	require.Equal(t, "s3://briefs/out/"+raw+".pdf", s.Location(digest))
}
