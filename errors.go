package moqtransport

import "fmt"

// Generic session-level error codes, sent on GOAWAY or a session-closing
// CloseSession call.
const (
	ErrorCodeNoError                  uint64 = 0x00
	ErrorCodeInternal                 uint64 = 0x01
	ErrorCodeUnauthorized             uint64 = 0x02
	ErrorCodeProtocolViolation        uint64 = 0x03
	ErrorCodeInvalidRequestID         uint64 = 0x04
	ErrorCodeDuplicateTrackAlias      uint64 = 0x05
	ErrorCodeKeyValueFormattingError  uint64 = 0x06
	ErrorCodeTooManyRequests          uint64 = 0x07
	ErrorCodeInvalidPath              uint64 = 0x08
	ErrorCodeMalformedPath            uint64 = 0x09
	ErrorCodeTooManySubscribes        uint64 = 0x0A
	ErrorCodeGoAwayTimeout            uint64 = 0x10
	ErrorCodeControlMessageTimeout    uint64 = 0x11
	ErrorCodeDataStreamTimeout        uint64 = 0x12
	ErrorCodeVersionNegotiationFailed uint64 = 0x15
)

// Subscribe error codes, sent on SUBSCRIBE_ERROR.
const (
	ErrorCodeSubscribeInternal          uint64 = 0x00
	ErrorCodeSubscribeUnauthorized      uint64 = 0x01
	ErrorCodeSubscribeTimeout           uint64 = 0x02
	ErrorCodeSubscribeNotSupported      uint64 = 0x03
	ErrorCodeSubscribeTrackDoesNotExist uint64 = 0x04
	ErrorCodeSubscribeInvalidRange      uint64 = 0x05
	ErrorCodeSubscribeRetryTrackAlias   uint64 = 0x06
)

// Subscribe done status codes, sent on SUBSCRIBE_DONE.
const (
	ErrorCodeSubscribeDoneInternal          uint64 = 0x00
	ErrorCodeSubscribeDoneUnauthorized      uint64 = 0x01
	ErrorCodeSubscribeDoneTrackEnded        uint64 = 0x02
	ErrorCodeSubscribeDoneSubscriptionEnded uint64 = 0x03
	ErrorCodeSubscribeDoneGoingAway         uint64 = 0x04
	ErrorCodeSubscribeDoneExpired           uint64 = 0x05
	ErrorCodeSubscribeDoneTooFarBehind      uint64 = 0x06
)

// Fetch error codes, sent on FETCH_ERROR.
const (
	ErrorCodeFetchInternal                  uint64 = 0x00
	ErrorCodeFetchUnauthorized              uint64 = 0x01
	ErrorCodeFetchTimeout                   uint64 = 0x02
	ErrorCodeFetchNotSupported              uint64 = 0x03
	ErrorCodeFetchTrackDoesNotExist         uint64 = 0x04
	ErrorCodeFetchNoObjects                 uint64 = 0x06
	ErrorCodeFetchInvalidJoiningSubscribeID uint64 = 0x07
)

// Stream-reset user codes, used on RESET_STREAM/STOP_SENDING for a data
// stream torn down outside of its subscription's normal SUBSCRIBE_DONE or
// SUBSCRIBE_ERROR lifecycle (spec.md §6); a distinct space from both.
const (
	StreamResetCodeSubscriptionGone uint64 = 0x00
	StreamResetCodeTimedOut         uint64 = 0x01
)

// Announcement error codes, sent on ANNOUNCE_ERROR.
const (
	ErrorCodeAnnouncementInternal     uint64 = 0x00
	ErrorCodeAnnouncementUnauthorized uint64 = 0x01
	ErrorCodeAnnouncementTimeout      uint64 = 0x02
	ErrorCodeAnnouncementNotSupported uint64 = 0x03
	ErrorCodeAnnouncementUninterested uint64 = 0x04
)

// ProtocolError is a session-fatal or request-scoped MoQT protocol error,
// carrying the wire error code that accompanies its teardown message.
type ProtocolError struct {
	code    uint64
	message string
}

func (e *ProtocolError) String() string {
	return e.Error()
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("moqtransport: %v: %v", e.code, e.message)
}

func (e ProtocolError) Code() uint64 {
	return e.code
}

var (
	errDuplicateRequestID = ProtocolError{
		code:    ErrorCodeProtocolViolation,
		message: "duplicate request ID",
	}
	errMaxRequestIDDecreased = ProtocolError{
		code:    ErrorCodeProtocolViolation,
		message: "max request ID decreased",
	}
	errTooManySubscribes = ProtocolError{
		code:    ErrorCodeTooManySubscribes,
		message: "subscribe ID at or past local max subscribe ID",
	}
	errUnknownRequestID = ProtocolError{
		code:    ErrorCodeInvalidRequestID,
		message: "unknown request ID",
	}
	errUnknownAnnouncement = ProtocolError{
		code:    ErrorCodeProtocolViolation,
		message: "unknown announcement",
	}
	errSessionClosed = ProtocolError{
		code:    ErrorCodeNoError,
		message: "session closed",
	}
	errUnsupportedVersion = ProtocolError{
		code:    ErrorCodeVersionNegotiationFailed,
		message: "no common supported version",
	}
)

// ApplicationError is returned by a Stream when the peer resets or stops
// sending/receiving on it with an application-defined code.
type ApplicationError struct {
	Code    uint64
	Message string
}

func (e ApplicationError) Error() string {
	return fmt.Sprintf("moqtransport: stream closed by peer: %v: %v", e.Code, e.Message)
}
