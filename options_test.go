package polyanalyst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/megaputer/polyanalyst6api-go/patypes"
)

func TestClientOptions(t *testing.T) {
	cfg := &patypes.ClientConfig{
		MaxRetries:        3,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     8 * time.Second,
		UserAgent:         defaultUserAgent,
	}

	for _, opt := range []patypes.Option{
		WithAPIVersion("1.0"),
		WithTimeout(30 * time.Second),
		WithMaxRetries(5),
		WithRetryBackoff(time.Second, time.Minute),
		WithUserAgent("custom/1.0"),
		WithInsecureSkipVerify(true),
	} {
		opt(cfg)
	}

	assert.Equal(t, "1.0", cfg.APIVersion)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryInitialDelay)
	assert.Equal(t, time.Minute, cfg.RetryMaxDelay)
	assert.Equal(t, "custom/1.0", cfg.UserAgent)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestClientOptionsIgnoreInvalidValues(t *testing.T) {
	cfg := &patypes.ClientConfig{
		MaxRetries:        3,
		RetryInitialDelay: 500 * time.Millisecond,
		UserAgent:         defaultUserAgent,
	}

	WithMaxRetries(-1)(cfg)
	WithRetryBackoff(-time.Second, 0)(cfg)
	WithUserAgent("")(cfg)

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInitialDelay)
	assert.Equal(t, defaultUserAgent, cfg.UserAgent)
}

func TestUploadOptions(t *testing.T) {
	cfg := &patypes.UploadOptionConfig{
		Endpoint:  DefaultUploadEndpoint,
		ChunkSize: DefaultChunkSize,
		Metadata:  map[string]string{"source": "export"},
	}

	for _, opt := range []patypes.UploadOption{
		WithUploadEndpoint("drive/folder/upload"),
		WithChunkSize(1 << 20),
		WithFileName("report.pdf"),
		WithContentType("application/pdf"),
		WithUploadMetadata(map[string]string{"owner": "analyst"}),
		WithUploadMaxRetries(2),
	} {
		opt(cfg)
	}

	assert.Equal(t, "drive/folder/upload", cfg.Endpoint)
	assert.Equal(t, int64(1<<20), cfg.ChunkSize)
	assert.Equal(t, "report.pdf", cfg.FileName)
	assert.Equal(t, "application/pdf", cfg.ContentType)
	assert.Equal(t, map[string]string{"source": "export", "owner": "analyst"}, cfg.Metadata)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestUploadOptionsIgnoreInvalidValues(t *testing.T) {
	cfg := &patypes.UploadOptionConfig{
		Endpoint:   DefaultUploadEndpoint,
		ChunkSize:  DefaultChunkSize,
		MaxRetries: 3,
	}

	WithUploadEndpoint("")(cfg)
	WithChunkSize(0)(cfg)
	WithUploadMaxRetries(-1)(cfg)

	assert.Equal(t, DefaultUploadEndpoint, cfg.Endpoint)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.MaxRetries)
}
