//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// TestToken is the bearer credential the fake catalog accepts.
const TestToken = "test-token"

// TestPack defines a catalog item served by the fake catalog API.
type TestPack struct {
	ID       string
	Filename string
	Data     []byte

	// ContentTypes is sent as X-Content-Types when set.
	ContentTypes string
	// Locked packs are refused with the missing decryption keys error.
	Locked bool
	// HideLength sends the body chunked, without Content-Length.
	HideLength bool
}

// GenerateTestData returns size bytes that start with a zip local file
// header, so the payload sniffs as an archive. Large packs are filled with
// random bytes, small ones with a repeating pattern.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size > 10<<20 {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	} else {
		for i := range data {
			data[i] = byte(i * 7)
		}
	}
	copy(data, zipMagic)
	return data
}

var zipMagic = []byte("PK\x03\x04")

// CatalogServer is a fake catalog API.
type CatalogServer struct {
	*httptest.Server
	requests atomic.Int64
}

// Requests returns how many retrieval requests were received.
func (s *CatalogServer) Requests() int64 {
	return s.requests.Load()
}

// StartCatalogServer starts a server answering POST /api/download for packs.
func StartCatalogServer(t *testing.T, packs []TestPack) *CatalogServer {
	t.Helper()

	packMap := make(map[string]TestPack)
	for _, p := range packs {
		packMap[p.ID] = p
	}

	s := &CatalogServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/download" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		s.requests.Add(1)

		if r.Header.Get("Authorization") != "Bearer "+TestToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid API key"})
			return
		}

		var req struct {
			ItemID         string `json:"item_id"`
			ProcessContent bool   `json:"process_content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid request body"})
			return
		}

		p, ok := packMap[req.ItemID]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"detail": fmt.Sprintf("Item %s not found", req.ItemID)})
			return
		}
		if p.Locked {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"detail": map[string]string{
					"error":   "missing_decryption_keys",
					"message": fmt.Sprintf("No keys available for %s", p.ID),
				},
			})
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		if p.Filename != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, p.Filename))
		}
		if p.ContentTypes != "" {
			w.Header().Set("X-Content-Types", p.ContentTypes)
			w.Header().Set("X-Has-Multiple-Types", strconv.FormatBool(strings.Contains(p.ContentTypes, ",")))
		}
		w.Header().Set("X-Processed", strconv.FormatBool(req.ProcessContent))
		w.Header().Set("X-Total-Files", "1")

		if p.HideLength {
			flusher, _ := w.(http.Flusher)
			for off := 0; off < len(p.Data); off += 64 * 1024 {
				end := min(off+64*1024, len(p.Data))
				w.Write(p.Data[off:end])
				if flusher != nil {
					flusher.Flush()
				}
			}
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
		w.Write(p.Data)
	}))
	t.Cleanup(s.Close)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
// Returns a MinioEnv with connection information.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("minio-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucketWithMC(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// gocloud S3 URL with query parameters for minio
	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucketName,
		endpoint,
	)

	// gocloud reads credentials from the environment
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		BucketURL: bucketURL,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketWithMC creates a bucket using a separate minio/mc container.
func createBucketWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	// mc container runs, creates the bucket, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{
			fmt.Sprintf(
				"/usr/bin/mc config host add myminio http://minio:9000 %s %s && "+
					"/usr/bin/mc mb myminio/%s; "+
					"exit 0",
				accessKey, secretKey, bucketName,
			),
		},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}

// CompareReaderToData fails the test unless reader yields exactly expected.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	h := sha256.New()
	n, err := io.Copy(h, reader)
	if err != nil {
		t.Fatalf("read error after %d bytes: %v", n, err)
	}
	if n != int64(len(expected)) {
		t.Fatalf("size mismatch: got %d bytes, want %d", n, len(expected))
	}
	want := sha256.Sum256(expected)
	if got := h.Sum(nil); !bytes.Equal(got, want[:]) {
		t.Fatalf("digest mismatch: got %x, want %x", got, want)
	}
}
