package errormapper

const (
	// Validation Failures
	ErrorCodeValidationFailure     = "VALIDATION_FAIL" // Generic validation failure
	ErrorCodeInvalidMSISDN         = "INVALID_MSISDN"
	ErrorCodeMessageTooLong        = "MSG_TOO_LONG"
	ErrorCodeMultipartUnsupported  = "MULTIPART_UNSUPPORTED" // Encoded body does not fit one short_message
	ErrorCodeInvalidPriority       = "INVALID_PRIORITY"
	ErrorCodeInvalidConfiguration  = "INVALID_CONFIG"
	ErrorCodeConfigurationNotFound = "NO_CONFIG"
	ErrorCodeNotFound              = "NOT_FOUND"
	ErrorCodeConflict              = "CONFLICT"

	// Session Failures
	ErrorCodeTransport      = "TRANSPORT_ERR" // Cannot connect, or connection dropped
	ErrorCodeAuthentication = "AUTH_FAIL"     // SMSC rejected the bind
	ErrorCodeProtocol       = "PROTOCOL_ERR"  // Malformed PDU on the wire
	ErrorCodeSubmitFail     = "SUBMIT_FAIL"   // SMSC rejected submit_sm / query_sm
	ErrorCodeTimeout        = "TIMEOUT"
	ErrorCodeNotBound       = "NOT_BOUND"
	ErrorCodeCircuitOpen    = "CIRCUIT_OPEN"

	// System Errors
	ErrorCodeSystemError   = "SYS_ERR" // General internal error
	ErrorCodeDatabaseError = "DB_ERR"
	ErrorCodeQueueError    = "QUEUE_ERR"

	// Receipt stat values
	StatusCodeDelivered     = "DELIVRD"
	StatusCodeAccepted      = "ACCEPTD"
	StatusCodeUnknown       = "UNKNOWN"
	StatusCodeRejected      = "REJECTD"
	StatusCodeExpired       = "EXPIRED"
	StatusCodeDeleted       = "DELETED"
	StatusCodeUndeliverable = "UNDELIV"
)
