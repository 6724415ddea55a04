// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot accept new downloads.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the url field in the request is invalid.
	ErrInvalidURL = errors.New("invalid url field")
	// ErrInvalidFormat indicates that the requested output format is not one of the recognized options.
	ErrInvalidFormat = errors.New("invalid format field")
	// ErrInvalidHeight indicates that the max height is not a positive integer.
	ErrInvalidHeight = errors.New("invalid maxHeight field")
	// ErrInvalidFolder indicates that the destination folder cannot be used.
	ErrInvalidFolder = errors.New("invalid destinationFolder field")
	// ErrInvalidPath indicates that a path to reveal is not absolute or does not exist.
	ErrInvalidPath = errors.New("invalid path field")
)

// Session and storage errors.
var (
	// ErrNoSessions indicates that there are no sessions in storage.
	ErrNoSessions = errors.New("no sessions")
	// ErrSessionAlreadyExists indicates that a live session already uses the request id.
	ErrSessionAlreadyExists = errors.New("session already exists")
	// ErrSessionNotFound indicates that no session is registered under the request id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNil indicates that the session is nil.
	ErrSessionNil = errors.New("session is nil")
	// ErrRequestIDEmpty indicates that the request id is empty.
	ErrRequestIDEmpty = errors.New("request id is empty")
	// ErrQueueFull indicates that the download queue is full.
	ErrQueueFull = errors.New("download queue is full")
)

// Process errors.
var (
	// ErrBinaryNotFound indicates that the tool executable is missing.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrLaunchFailed indicates that the OS refused to start the tool.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrTerminateFailed indicates that the tool could not be killed.
	ErrTerminateFailed = errors.New("terminate failed")
	// ErrToolExit indicates that the tool exited with a non-zero status.
	ErrToolExit = errors.New("tool exited with error")
	// ErrIdleTimeout indicates that the tool produced no output for too long.
	ErrIdleTimeout = errors.New("tool idle timeout")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Metadata errors.
var (
	// ErrMetadataEmpty indicates that the metadata query printed nothing (no items or an invalid link).
	ErrMetadataEmpty = errors.New("metadata is empty")
	// ErrMetadataInvalidEncoding indicates that the metadata output is not valid UTF-8.
	ErrMetadataInvalidEncoding = errors.New("metadata has invalid encoding")
	// ErrMetadataMalformed indicates that a metadata record does not match the field schema.
	ErrMetadataMalformed = errors.New("metadata is malformed")
)

// Proxy errors.
var (
	// ErrNoProxiesAvailable indicates that no proxies are available.
	ErrNoProxiesAvailable = errors.New("no proxies available")
)
