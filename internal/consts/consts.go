// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultPollInterval bounds a single wait for tool output.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultSimulateTime is the default time to simulate processing in mock downloader.
	DefaultSimulateTime = 1 * time.Second
	// DefaultSessionTTL is the default time-to-live for finished session snapshots.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultSubscriberBuffer is the event buffer of one subscriber.
	DefaultSubscriberBuffer = 64
	// StderrTailLines is how many stderr lines are kept for diagnostics.
	StderrTailLines = 20
	// DefaultDrainTimeout bounds the wait for a terminated tool to release its files.
	DefaultDrainTimeout = 10 * time.Second
	// DefaultSSEHeartbeat is the idle interval after which an event stream is pinged.
	DefaultSSEHeartbeat = 15 * time.Second
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required path parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespDownloadStarted is returned when a download is accepted.
	RespDownloadStarted = "download started"
	// RespDownloadStartFail is returned when a download cannot be accepted.
	RespDownloadStartFail = "download start failed"
	// RespSessionAlreadyExists is returned when the request id is taken by a live session.
	RespSessionAlreadyExists = "session already exists"
	// RespGetSessionsFail is returned when listing sessions fails.
	RespGetSessionsFail = "get all sessions failed"
	// RespNoSessions is returned when there are no sessions available.
	RespNoSessions = "no sessions"
	// RespSessionRetrieved is returned when a session is successfully retrieved.
	RespSessionRetrieved = "session retrieved"
	// RespSessionsRetrieved is returned when sessions are successfully retrieved.
	RespSessionsRetrieved = "sessions retrieved"
	// RespSessionNotFound is returned when a session is not found.
	RespSessionNotFound = "session not found"
	// RespCancelRequested is returned when a cancel signal was delivered.
	RespCancelRequested = "cancel requested"
	// RespRevealed is returned when the file manager was opened.
	RespRevealed = "revealed"
	// RespRevealFail is returned when the file manager could not be opened.
	RespRevealFail = "reveal failed"
	// RespStreamUnsupported is returned when the response writer cannot stream.
	RespStreamUnsupported = "streaming unsupported"
	// RespProxiesRetrieved is returned with the proxy statistics.
	RespProxiesRetrieved = "proxies retrieved"
)

// Downloader identifiers.
const (
	// DownloaderYTdlp is the yt-dlp downloader identifier.
	DownloaderYTdlp = "ytdlp"
	// DownloaderMock is the mock downloader identifier for testing.
	DownloaderMock = "mock"
)

// Result texts reported to the caller.
const (
	// ResultComplete prefixes the source link of a finished or cancelled session.
	ResultComplete = "[Download Complete]"
	// ResultError prefixes the diagnostic of a failed session.
	ResultError = "[Download Error]"
)
