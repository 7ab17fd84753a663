// Package gate is the request-time token verification state machine.
//
// Per request:
//
//	no cookie            -> reject (missing_credential)
//	decrypt fails        -> clear accessToken, reject (malformed_credential)
//	provider says valid  -> authenticate
//	invalid, no user id  -> reject (invalid_credential)
//	invalid, no stored refresh token -> reject (no_refresh_path)
//	refresh fails        -> clear accessToken+userId, drop refresh token, reject (refresh_failure)
//	refresh succeeds     -> rotate, set new cookie, replace session, authenticate
//	anything panics      -> 500 (upstream_fault)
//
// Every rejection is a 401 with a non-diagnostic message. Refresh is tried at
// most once per request. Concurrent refreshes for one user inside this
// process share a single provider call.
package gate
