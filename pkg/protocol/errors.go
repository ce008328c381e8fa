package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFraming           = errors.New("malformed frame")
	ErrValidation        = errors.New("invalid request")
	ErrOpCodeMismatch    = errors.New("op code does not match message type")
	ErrInvalidOpCode     = errors.New("invalid op code")
	ErrNoErrorReturnPort = errors.New("subordinate request has no error return port")
)

// ServiceError is an error code reported by the daemon, either in a reply
// payload or as the 4-byte status that acknowledges a request.
type ServiceError int32

const (
	NoError                        ServiceError = 0
	ErrorUnknown                   ServiceError = -65537
	ErrorNoSuchName                ServiceError = -65538
	ErrorNoMemory                  ServiceError = -65539
	ErrorBadParam                  ServiceError = -65540
	ErrorBadReference              ServiceError = -65541
	ErrorBadState                  ServiceError = -65542
	ErrorBadFlags                  ServiceError = -65543
	ErrorUnsupported               ServiceError = -65544
	ErrorNotInitialized            ServiceError = -65545
	ErrorAlreadyRegistered         ServiceError = -65547
	ErrorNameConflict              ServiceError = -65548
	ErrorInvalid                   ServiceError = -65549
	ErrorFirewall                  ServiceError = -65550
	ErrorIncompatible              ServiceError = -65551
	ErrorBadInterfaceIndex         ServiceError = -65552
	ErrorRefused                   ServiceError = -65553
	ErrorNoSuchRecord              ServiceError = -65554
	ErrorNoAuth                    ServiceError = -65555
	ErrorNoSuchKey                 ServiceError = -65556
	ErrorNATTraversal              ServiceError = -65557
	ErrorDoubleNAT                 ServiceError = -65558
	ErrorBadTime                   ServiceError = -65559
	ErrorBadSig                    ServiceError = -65560
	ErrorBadKey                    ServiceError = -65561
	ErrorTransient                 ServiceError = -65562
	ErrorServiceNotRunning         ServiceError = -65563
	ErrorNATPortMappingUnsupported ServiceError = -65564
	ErrorNATPortMappingDisabled    ServiceError = -65565
	ErrorNoRouter                  ServiceError = -65566
	ErrorPollingMode               ServiceError = -65567
	ErrorTimeout                   ServiceError = -65568
)

// ErrorNotConnected is reported when a request is issued on a transport
// whose stream is not open.
const ErrorNotConnected = ErrorBadState

var serviceErrorNames = map[ServiceError]string{
	NoError:                        "NoError",
	ErrorUnknown:                   "Unknown",
	ErrorNoSuchName:                "NoSuchName",
	ErrorNoMemory:                  "NoMemory",
	ErrorBadParam:                  "BadParam",
	ErrorBadReference:              "BadReference",
	ErrorBadState:                  "BadState",
	ErrorBadFlags:                  "BadFlags",
	ErrorUnsupported:               "Unsupported",
	ErrorNotInitialized:            "NotInitialized",
	ErrorAlreadyRegistered:         "AlreadyRegistered",
	ErrorNameConflict:              "NameConflict",
	ErrorInvalid:                   "Invalid",
	ErrorFirewall:                  "Firewall",
	ErrorIncompatible:              "Incompatible",
	ErrorBadInterfaceIndex:         "BadInterfaceIndex",
	ErrorRefused:                   "Refused",
	ErrorNoSuchRecord:              "NoSuchRecord",
	ErrorNoAuth:                    "NoAuth",
	ErrorNoSuchKey:                 "NoSuchKey",
	ErrorNATTraversal:              "NATTraversal",
	ErrorDoubleNAT:                 "DoubleNAT",
	ErrorBadTime:                   "BadTime",
	ErrorBadSig:                    "BadSig",
	ErrorBadKey:                    "BadKey",
	ErrorTransient:                 "Transient",
	ErrorServiceNotRunning:         "ServiceNotRunning",
	ErrorNATPortMappingUnsupported: "NATPortMappingUnsupported",
	ErrorNATPortMappingDisabled:    "NATPortMappingDisabled",
	ErrorNoRouter:                  "NoRouter",
	ErrorPollingMode:               "PollingMode",
	ErrorTimeout:                   "Timeout",
}

func (e ServiceError) String() string {
	if name, ok := serviceErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ServiceError(%d)", int32(e))
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("dnssd: %s (%d)", e.String(), int32(e))
}

// AsServiceError extracts the daemon error code from err. Errors that carry
// no code report ErrorUnknown; nil reports NoError.
func AsServiceError(err error) ServiceError {
	if err == nil {
		return NoError
	}
	var se ServiceError
	if errors.As(err, &se) {
		return se
	}
	return ErrorUnknown
}

// FramingError reports a payload or header that ended before a field could be read.
type FramingError struct {
	Field string
	Need  int
	Have  int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%v: reading %s needs %d bytes, %d remaining", ErrFraming, e.Field, e.Need, e.Have)
}

func (e *FramingError) Unwrap() error {
	return ErrFraming
}

// ValidationError reports a request argument rejected before any bytes were produced.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
