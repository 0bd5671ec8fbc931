// Package ws binds WebSocket connections to terminal sessions.
//
// A connection reaches a session in one of two ways:
//   - /ws/{sessionId} binds directly, creating the session with defaults
//     when it does not exist yet.
//   - /ws opens a control channel whose first frame must be CREATE_SESSION.
//
// Once bound, binary frames and TERMINAL_INPUT envelopes go to the process,
// process output comes back as TERMINAL_OUTPUT frames, and the connection
// ends with SESSION_TERMINATED when the session does. Dropping the
// connection leaves the session running; the retained output is replayed
// as a HISTORY frame on the next bind.
package ws
