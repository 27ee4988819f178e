package refresh

import (
	"net/http"
	"time"
)

// Stage is a step of the refresh protocol. A cycle moves
// Idle → Fetching → Validating → Comparing → Writing|Skipping → Done, or ends
// in Failed at the stage that went wrong.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageResolving  Stage = "resolving"
	StageFetching   Stage = "fetching"
	StageValidating Stage = "validating"
	StageComparing  Stage = "comparing"
	StageWriting    Stage = "writing"
	StageSkipping   Stage = "skipping"
	StageDone       Stage = "done"
)

// Status is the result class of a refresh cycle.
type Status string

const (
	StatusOK             Status = "ok"
	StatusNoop           Status = "noop"
	StatusConfigError    Status = "config_error"
	StatusFetchError     Status = "fetch_error"
	StatusFeedError      Status = "feed_error"
	StatusInvalidPayload Status = "invalid_payload"
	StatusStoreError     Status = "store_error"
)

// Outcome is the structured result of one refresh cycle. Every failure of
// the protocol is reported as an Outcome rather than an error.
type Outcome struct {
	Host   string
	RunID  string
	Status Status
	// Stage is where the cycle ended: StageDone on success, otherwise the
	// stage that failed.
	Stage Stage

	Count     int
	ETag      string
	UpdatedAt string
	Duration  time.Duration

	// Message is the short caller-facing error text for failed cycles.
	Message string
	// Err is the underlying failure, if any.
	Err error
}

// Failed reports whether the cycle did not reach StageDone.
func (o Outcome) Failed() bool {
	return o.Status != StatusOK && o.Status != StatusNoop
}

// HTTPStatus maps the outcome to the refresh endpoint's status code:
// 400 for configuration errors, 502 for upstream failures, 500 for store
// failures.
func (o Outcome) HTTPStatus() int {
	switch o.Status {
	case StatusOK, StatusNoop:
		return http.StatusOK
	case StatusConfigError:
		return http.StatusBadRequest
	case StatusFetchError, StatusFeedError, StatusInvalidPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
