// Package errs defines common error variables used across the application.
package errs

import "errors"

// Authentication errors.
var (
	// ErrTokenNotFound indicates that no CSRF token could be found in the
	// site's response.
	ErrTokenNotFound = errors.New("csrf token not found")
	// ErrLoginRejected indicates that the site rejected the credentials or
	// returned a response without valid profile data.
	ErrLoginRejected = errors.New("login rejected")
)

// Extraction errors.
var (
	// ErrNoPageData indicates that a page body did not contain the embedded
	// page-data JSON.
	ErrNoPageData = errors.New("page data not found")
	// ErrNoProgressiveLinks indicates that a player config did not contain a
	// progressive download list.
	ErrNoProgressiveLinks = errors.New("no progressive links in player config")
	// ErrQualityUnavailable indicates that the preferred quality is absent
	// and strict quality selection is enabled.
	ErrQualityUnavailable = errors.New("preferred quality not available")
)

// Download errors.
var (
	// ErrSizeProbe indicates that the server did not return a usable
	// Content-Range on the probe request, so resumable download cannot work.
	ErrSizeProbe = errors.New("no usable content-range from server")
	// ErrRangeMismatch indicates that the server returned a byte range
	// inconsistent with the requested range.
	ErrRangeMismatch = errors.New("server range inconsistent with request")
	// ErrStorage indicates a local filesystem failure while writing the
	// destination file.
	ErrStorage = errors.New("storage failure")
)
