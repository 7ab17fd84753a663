package gate

// Reason classifies why a request was not authenticated.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMissingCredential   Reason = "missing_credential"
	ReasonMalformedCredential Reason = "malformed_credential"
	ReasonInvalidCredential   Reason = "invalid_credential"
	ReasonNoRefreshPath       Reason = "no_refresh_path"
	ReasonRefreshFailure      Reason = "refresh_failure"
	ReasonUpstreamFault       Reason = "upstream_fault"
)

const (
	MsgNoToken        = "No access token provided."
	MsgInvalidFormat  = "Invalid access token format."
	MsgSessionExpired = "Session expired. Please login again."
	MsgFault          = "Authentication verification failed."
)

// Message is the client-facing text for r. It never reveals which of the
// refresh-related failures occurred.
func (r Reason) Message() string {
	switch r {
	case ReasonMissingCredential:
		return MsgNoToken
	case ReasonMalformedCredential:
		return MsgInvalidFormat
	case ReasonUpstreamFault:
		return MsgFault
	default:
		return MsgSessionExpired
	}
}
