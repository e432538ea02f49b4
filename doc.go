// Package polyanalyst provides a Go client for the PolyAnalyst server REST
// API. It manages the authenticated session transparently, exposes project,
// node parameter, and dataset operations, and includes a resumable upload
// client for transferring large files in chunks.
//
// The client re-establishes its session automatically when the server
// reports it expired, and retries transient network and gateway failures
// with bounded exponential backoff.
//
// Key features:
//   - Session management with automatic re-authentication
//   - Progressive enhancement through functional options
//   - Project execution, monitoring, and lifecycle operations
//   - Node parameter configuration
//   - Dataset inspection and row retrieval
//   - Resumable chunked uploads with offset resynchronization
//
// Example usage:
//
//	client, err := polyanalyst.New("https://pa-server:5043", "administrator", "",
//	    polyanalyst.WithTimeout(30*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Login(ctx); err != nil {
//	    return err
//	}
//	defer client.Logout(ctx)
//
//	prj, err := client.Project(ctx, "5a7ea036-9e23-4b87-9e28-7cbb60b9cbb0")
//	if err != nil {
//	    return err
//	}
//	if _, err := prj.Execute(ctx); err != nil {
//	    return err
//	}
package polyanalyst
