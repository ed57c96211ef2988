// Package http is the client for the catalog API's retrieval endpoint.
//
// This package handles:
//   - POST retrieval requests with a bearer credential
//   - Package metadata from response headers (size, filename, composition)
//   - Structured error bodies, including the entitlement failure
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    BaseURL: "http://localhost:8000",
//	    Token:   token,
//	})
//
//	resp, err := client.Retrieve(ctx, itemID)
//	if errors.Is(err, http.ErrMissingDecryptionKeys) {
//	    // entitlement failure, err.Error() is the server's message
//	}
//	defer resp.Body.Close()
//	// resp.Metadata.ContentLength, resp.Metadata.ContentDisposition
//
// Failed requests are not retried.
package http
