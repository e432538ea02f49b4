package polyanalyst

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"

	paerrors "github.com/megaputer/polyanalyst6api-go/errors"
	"github.com/megaputer/polyanalyst6api-go/internal/tuswire"
	"github.com/megaputer/polyanalyst6api-go/patypes"
)

const (
	// DefaultChunkSize is the chunk size used for resumable uploads when none
	// is configured.
	DefaultChunkSize int64 = 4 * 1024 * 1024

	// DefaultUploadEndpoint is the endpoint new transfers are created at,
	// relative to the versioned API root.
	DefaultUploadEndpoint = "drive/upload"

	// DefaultContentType is used when content type detection fails.
	DefaultContentType = "application/octet-stream"

	// detectionBufferSize is how many leading bytes are sampled for content
	// type detection.
	detectionBufferSize = 3072
)

// Uploader transfers large payloads to the server in resumable chunks over
// the client's authenticated session. Chunk transmission is strictly
// sequential per transfer; an interrupted transfer resumes from the last
// offset the server acknowledged as long as the transfer location is
// retained.
type Uploader struct {
	client *Client
}

// Uploader returns a resumable upload client bound to this session.
func (c *Client) Uploader() *Uploader {
	return &Uploader{client: c}
}

// Upload transfers size bytes from r to the server: it negotiates a new
// transfer, sends the data in sequential chunks, resynchronizes with the
// server on offset mismatches, and retries transient failures with bounded
// backoff. When the retry budget is exhausted the returned error is a
// *errors.UploadFailedError carrying the last committed offset, and the
// caller can resume the transfer later via Resume.
//
// Example:
//
//	file, err := os.Open("data.csv")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	info, _ := file.Stat()
//	result, err := client.Uploader().Upload(ctx, file, info.Size(),
//	    polyanalyst.WithFileName("data.csv"),
//	)
func (u *Uploader) Upload(
	ctx context.Context,
	r io.ReadSeeker,
	size int64,
	opts ...patypes.UploadOption,
) (*patypes.UploadResult, error) {
	if r == nil {
		return nil, paerrors.NewError("upload", paerrors.ErrInvalidInput).
			WithMessage("reader cannot be nil")
	}
	cfg := u.resolveConfig(opts)

	// Determine content type if not explicitly set
	if cfg.ContentType == "" {
		contentType, err := detectContentType(r)
		if err != nil {
			return nil, paerrors.NewError("upload", err)
		}
		cfg.ContentType = contentType
	}

	transfer, err := u.start(ctx, size, cfg)
	if err != nil {
		return nil, err
	}
	return u.drive(ctx, transfer, r, cfg)
}

// Resume continues an interrupted transfer from the offset the server has
// committed. It re-queries the remote offset first, so it is safe to call
// after an ambiguous failure or a process restart; r must expose the same
// payload the transfer was started with.
func (u *Uploader) Resume(
	ctx context.Context,
	transfer *patypes.Transfer,
	r io.ReadSeeker,
	opts ...patypes.UploadOption,
) (*patypes.UploadResult, error) {
	if transfer == nil || transfer.Location == "" {
		return nil, paerrors.NewError("resume", paerrors.ErrInvalidInput).
			WithMessage("transfer location cannot be empty")
	}
	if r == nil {
		return nil, paerrors.NewError("resume", paerrors.ErrInvalidInput).
			WithMessage("reader cannot be nil")
	}
	cfg := u.resolveConfig(opts)

	if _, err := u.resync(ctx, transfer); err != nil {
		failed := &paerrors.UploadFailedError{Offset: transfer.Offset, Err: err}
		if cfg.ProgressTracker != nil {
			cfg.ProgressTracker.Error(failed)
		}
		return nil, failed
	}
	return u.drive(ctx, transfer, r, cfg)
}

// Start negotiates a new transfer of size bytes with the server and returns
// its handle. Use SendChunk to transmit data and Offset to query the
// committed remote offset.
func (u *Uploader) Start(ctx context.Context, size int64, opts ...patypes.UploadOption) (*patypes.Transfer, error) {
	return u.start(ctx, size, u.resolveConfig(opts))
}

func (u *Uploader) start(ctx context.Context, size int64, cfg *patypes.UploadOptionConfig) (*patypes.Transfer, error) {
	if size < 0 {
		return nil, paerrors.NewError("startUpload", paerrors.ErrInvalidInput).
			WithMessage("size cannot be negative")
	}

	metadata := make(map[string]string, len(cfg.Metadata)+2)
	for k, v := range cfg.Metadata {
		metadata[k] = v
	}
	if cfg.FileName != "" {
		metadata["filename"] = cfg.FileName
	}
	if cfg.ContentType != "" {
		metadata["filetype"] = cfg.ContentType
	}

	createURL := u.client.baseURL.JoinPath(cfg.Endpoint)
	newReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL.String(), nil)
		if err != nil {
			return nil, err
		}
		tuswire.SetCommonHeaders(req.Header)
		req.Header.Set(tuswire.HeaderUploadLength, strconv.FormatInt(size, 10))
		if encoded := tuswire.EncodeMetadata(metadata); encoded != "" {
			req.Header.Set(tuswire.HeaderUploadMetadata, encoded)
		}
		return req, nil
	}

	resp, err := u.client.do(ctx, newReq, true)
	if err != nil {
		return nil, wrapUploadErr("startUpload", cfg.Endpoint, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return nil, paerrors.NewEndpointError("startUpload", cfg.Endpoint,
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, paerrors.NewEndpointError("startUpload", cfg.Endpoint,
			errors.New("server did not return a transfer location"))
	}
	resolved, err := createURL.Parse(location)
	if err != nil {
		return nil, paerrors.NewEndpointError("startUpload", cfg.Endpoint,
			fmt.Errorf("invalid transfer location %q: %w", location, err))
	}

	u.client.logger.Debug().Str("location", resolved.String()).Int64("size", size).
		Msg("transfer created")

	return &patypes.Transfer{
		Location: resolved.String(),
		Size:     size,
		Offset:   0,
		Metadata: metadata,
	}, nil
}

// Offset queries the offset the server has committed for the transfer.
// It does not modify the transfer; use resynchronization via Resume or the
// whole-transfer Upload driver to act on the result.
func (u *Uploader) Offset(ctx context.Context, transfer *patypes.Transfer) (int64, error) {
	newReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, transfer.Location, nil)
		if err != nil {
			return nil, err
		}
		tuswire.SetCommonHeaders(req.Header)
		return req, nil
	}

	resp, err := u.client.do(ctx, newReq, true)
	if err != nil {
		return patypes.OffsetUnknown, wrapUploadErr("offset", transfer.Location, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return patypes.OffsetUnknown, paerrors.NewEndpointError("offset", transfer.Location,
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)
	}

	offset, err := tuswire.ParseOffset(resp.Header)
	if err != nil {
		return patypes.OffsetUnknown, paerrors.NewEndpointError("offset", transfer.Location, err)
	}
	if offset > transfer.Size {
		return patypes.OffsetUnknown, paerrors.NewEndpointError("offset", transfer.Location,
			fmt.Errorf("server reported offset %d beyond transfer size %d", offset, transfer.Size))
	}
	return offset, nil
}

// SendChunk transmits the next chunk at the transfer's current offset and
// returns the new committed offset. When the server reports a different
// committed offset the returned error is a *errors.OffsetMismatchError; the
// caller must re-query the remote offset and resume from there rather than
// abort.
func (u *Uploader) SendChunk(ctx context.Context, transfer *patypes.Transfer, chunk []byte) (int64, error) {
	if transfer.Offset < 0 {
		return patypes.OffsetUnknown, paerrors.NewError("sendChunk", paerrors.ErrInvalidInput).
			WithMessage("transfer offset is unknown, query the remote offset first")
	}
	if transfer.Offset+int64(len(chunk)) > transfer.Size {
		return transfer.Offset, paerrors.NewError("sendChunk", paerrors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("chunk of %d bytes at offset %d exceeds transfer size %d",
				len(chunk), transfer.Offset, transfer.Size))
	}

	sendAt := transfer.Offset
	newReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, transfer.Location, bytes.NewReader(chunk))
		if err != nil {
			return nil, err
		}
		tuswire.SetCommonHeaders(req.Header)
		req.Header.Set("Content-Type", tuswire.ContentTypeOffsetStream)
		req.Header.Set(tuswire.HeaderUploadOffset, strconv.FormatInt(sendAt, 10))
		return req, nil
	}

	resp, err := u.client.do(ctx, newReq, true)
	if err != nil {
		return transfer.Offset, wrapUploadErr("sendChunk", transfer.Location, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode == http.StatusConflict {
		remote := patypes.OffsetUnknown
		if parsed, err := tuswire.ParseOffset(resp.Header); err == nil {
			remote = parsed
		}
		return transfer.Offset, &paerrors.OffsetMismatchError{Local: sendAt, Remote: remote}
	}
	if resp.StatusCode != http.StatusNoContent {
		return transfer.Offset, paerrors.NewEndpointError("sendChunk", transfer.Location,
			fmt.Errorf("server returned status %s", resp.Status)).WithStatus(resp.StatusCode)
	}

	newOffset, err := tuswire.ParseOffset(resp.Header)
	if err != nil {
		return transfer.Offset, paerrors.NewEndpointError("sendChunk", transfer.Location, err)
	}
	if newOffset < transfer.Offset || newOffset > transfer.Size {
		return transfer.Offset, paerrors.NewEndpointError("sendChunk", transfer.Location,
			fmt.Errorf("server acknowledged offset %d outside range [%d, %d]",
				newOffset, transfer.Offset, transfer.Size))
	}

	transfer.Offset = newOffset
	return newOffset, nil
}

// resync replaces the transfer's offset with the offset committed on the
// server. The server is authoritative: a locally tracked offset ahead of the
// remote one means an acknowledgement was lost, not that data was.
func (u *Uploader) resync(ctx context.Context, transfer *patypes.Transfer) (int64, error) {
	offset, err := u.Offset(ctx, transfer)
	if err != nil {
		return patypes.OffsetUnknown, err
	}
	transfer.Offset = offset
	return offset, nil
}

// drive runs the sequential chunk loop until the transfer completes, the
// retry budget is exhausted, or a permanent error occurs.
func (u *Uploader) drive(
	ctx context.Context,
	transfer *patypes.Transfer,
	r io.ReadSeeker,
	cfg *patypes.UploadOptionConfig,
) (*patypes.UploadResult, error) {
	startTime := time.Now()
	tracker := cfg.ProgressTracker

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = u.client.retryInitialDelay
	policy.MaxInterval = u.client.retryMaxDelay

	buf := make([]byte, cfg.ChunkSize)
	failures := 0

	// committed tracks the last offset the server acknowledged, so failure
	// reporting keeps it while transfer.Offset is marked unknown
	committed := transfer.Offset

	fail := func(err error) (*patypes.UploadResult, error) {
		if tracker != nil {
			tracker.Error(err)
		}
		return nil, err
	}

	for !transfer.Complete() {
		if transfer.Offset < 0 {
			if _, rerr := u.resync(ctx, transfer); rerr != nil {
				if !paerrors.IsConnectivity(rerr) {
					return fail(&paerrors.UploadFailedError{Offset: committed, Err: rerr})
				}
				failures++
				if failures > cfg.MaxRetries {
					return fail(&paerrors.UploadFailedError{Offset: committed, Err: rerr})
				}
				wait := policy.NextBackOff()
				u.client.logger.Warn().Err(rerr).Dur("backoff", wait).
					Msg("offset query failed, retrying")
				if serr := sleepCtx(ctx, wait); serr != nil {
					return fail(&paerrors.UploadFailedError{Offset: committed, Err: serr})
				}
				continue
			}
			committed = transfer.Offset
			continue
		}

		if _, err := r.Seek(transfer.Offset, io.SeekStart); err != nil {
			return fail(paerrors.NewError("upload", err).
				WithMessage(fmt.Sprintf("seeking source to offset %d", transfer.Offset)))
		}

		want := cfg.ChunkSize
		if remaining := transfer.Size - transfer.Offset; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil && n == 0 {
			return fail(paerrors.NewError("upload",
				fmt.Errorf("source exhausted at offset %d of %d: %w", transfer.Offset, transfer.Size, err)))
		}

		_, err = u.SendChunk(ctx, transfer, buf[:n])
		switch {
		case err == nil:
			failures = 0
			policy.Reset()
			committed = transfer.Offset
			if tracker != nil {
				tracker.Update(transfer.Offset, transfer.Size)
			}

		case paerrors.IsOffsetMismatch(err):
			u.client.logger.Warn().Int64("offset", transfer.Offset).
				Msg("upload offset mismatch, resynchronizing with server")
			failures++
			if failures > cfg.MaxRetries {
				return fail(&paerrors.UploadFailedError{Offset: committed, Err: err})
			}
			if _, rerr := u.resync(ctx, transfer); rerr != nil {
				return fail(&paerrors.UploadFailedError{Offset: committed, Err: rerr})
			}
			committed = transfer.Offset

		case paerrors.IsConnectivity(err):
			failures++
			if failures > cfg.MaxRetries {
				return fail(&paerrors.UploadFailedError{Offset: committed, Err: err})
			}
			wait := policy.NextBackOff()
			u.client.logger.Warn().Err(err).Dur("backoff", wait).
				Msg("transient upload failure, retrying")
			if serr := sleepCtx(ctx, wait); serr != nil {
				return fail(&paerrors.UploadFailedError{Offset: committed, Err: serr})
			}
			// the acknowledgement may have been lost in transit, so the
			// committed offset must be re-queried before resending
			transfer.Offset = patypes.OffsetUnknown

		default:
			return fail(err)
		}
	}

	if tracker != nil {
		tracker.Complete()
	}
	u.client.logger.Debug().Str("location", transfer.Location).Int64("size", transfer.Size).
		Dur("duration", time.Since(startTime)).Msg("transfer complete")

	return &patypes.UploadResult{
		Location: transfer.Location,
		Size:     transfer.Size,
		Duration: time.Since(startTime),
	}, nil
}

func (u *Uploader) resolveConfig(opts []patypes.UploadOption) *patypes.UploadOptionConfig {
	cfg := &patypes.UploadOptionConfig{
		Endpoint:   DefaultUploadEndpoint,
		ChunkSize:  DefaultChunkSize,
		MaxRetries: u.client.maxRetries,
		Metadata:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// detectContentType samples the leading bytes of r and rewinds it.
func detectContentType(r io.ReadSeeker) (string, error) {
	header := make([]byte, detectionBufferSize)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("sampling content: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding source: %w", err)
	}
	if n == 0 {
		return DefaultContentType, nil
	}
	return mimetype.Detect(header[:n]).String(), nil
}

// wrapUploadErr attaches operation context to errors coming out of the
// low-level dispatch path without double-wrapping typed API errors.
func wrapUploadErr(op, endpoint string, err error) error {
	var apiErr *paerrors.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return paerrors.NewEndpointError(op, endpoint, err)
}
