// Package polyanalyst provides functional options for configuring client behavior.
// These options follow the functional options pattern for clean, composable configuration.
package polyanalyst

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/megaputer/polyanalyst6api-go/patypes"
)

// WithAPIVersion selects the PolyAnalyst API version to speak.
// Default is "1.0", the only version currently supported.
func WithAPIVersion(version string) patypes.Option {
	return func(c *patypes.ClientConfig) {
		c.APIVersion = version
	}
}

// WithTimeout sets the timeout for individual API requests.
// Default is no timeout (0). Values should be positive durations.
func WithTimeout(timeout time.Duration) patypes.Option {
	return func(c *patypes.ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retry attempts for transient
// request failures. Default is 3 retries. Set to 0 to disable retries.
func WithMaxRetries(maxRetries int) patypes.Option {
	return func(c *patypes.ClientConfig) {
		if maxRetries >= 0 {
			c.MaxRetries = maxRetries
		}
	}
}

// WithRetryBackoff sets the initial and maximum delay of the exponential
// backoff applied between retries of transient failures.
func WithRetryBackoff(initial, maxDelay time.Duration) patypes.Option {
	return func(c *patypes.ClientConfig) {
		if initial > 0 {
			c.RetryInitialDelay = initial
		}
		if maxDelay > 0 {
			c.RetryMaxDelay = maxDelay
		}
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(userAgent string) patypes.Option {
	return func(c *patypes.ClientConfig) {
		if userAgent != "" {
			c.UserAgent = userAgent
		}
	}
}

// WithTLSConfig provides a TLS configuration for the server connection.
// Use this to pin a certificate authority for servers with private certificates.
func WithTLSConfig(tlsConfig *tls.Config) patypes.Option {
	return func(c *patypes.ClientConfig) {
		c.TLSConfig = tlsConfig
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this against test servers with self-signed certificates.
func WithInsecureSkipVerify(skip bool) patypes.Option {
	return func(c *patypes.ClientConfig) {
		c.InsecureSkipVerify = skip
	}
}

// WithHTTPClient allows providing a custom HTTP client.
// This gives full control over HTTP behavior including proxies and transports;
// WithTimeout, WithTLSConfig and WithInsecureSkipVerify are ignored when set.
func WithHTTPClient(client *http.Client) patypes.Option {
	return func(c *patypes.ClientConfig) {
		c.CustomHTTPClient = client
	}
}

// WithLogger sets the logger used for request traces and retry warnings.
// Default is a no-op logger.
func WithLogger(logger zerolog.Logger) patypes.Option {
	return func(c *patypes.ClientConfig) {
		c.Logger = logger
	}
}

// WithUploadEndpoint overrides the endpoint a new transfer is created at,
// relative to the versioned API root.
func WithUploadEndpoint(endpoint string) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		if endpoint != "" {
			c.Endpoint = endpoint
		}
	}
}

// WithChunkSize sets the chunk size for resumable uploads.
// Default is 4MB.
func WithChunkSize(chunkSize int64) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		if chunkSize > 0 {
			c.ChunkSize = chunkSize
		}
	}
}

// WithFileName sets the file name recorded in the transfer metadata.
func WithFileName(name string) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		c.FileName = name
	}
}

// WithContentType sets the content type recorded in the transfer metadata.
// When unset, the content type is detected from the first chunk of data.
func WithContentType(contentType string) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		c.ContentType = contentType
	}
}

// WithUploadMetadata merges additional metadata into the transfer metadata.
func WithUploadMetadata(metadata map[string]string) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			c.Metadata[k] = v
		}
	}
}

// WithUploadMaxRetries sets the retry budget for transient chunk failures.
// This overrides the client-level retry setting for this transfer.
func WithUploadMaxRetries(maxRetries int) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		if maxRetries >= 0 {
			c.MaxRetries = maxRetries
		}
	}
}

// WithProgress sets a progress tracker for upload operations.
func WithProgress(tracker patypes.ProgressTracker) patypes.UploadOption {
	return func(c *patypes.UploadOptionConfig) {
		c.ProgressTracker = tracker
	}
}
