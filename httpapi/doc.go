// Package httpapi exposes a SessionManager over HTTP.
//
// Routes:
//
//	POST   /sessions                          create {backend_type, target_id, config, tags}
//	GET    /sessions                          list
//	GET    /sessions/{id}                     get
//	DELETE /sessions/{id}                     end (history stays readable)
//	DELETE /sessions/{id}/history?confirm=true  permanently delete history and metadata
//	POST   /sessions/{id}/messages            send {content}
//	GET    /sessions/{id}/messages            history
//	GET    /sessions/{id}/exchange            history as an exchange payload
//	GET    /sessions/{id}/export              team export (format, agent)
//	GET    /sessions/{id}/download            transcript file (format, compress)
//	GET    /sessions/{id}/relay               websocket relay to a studio session
//	GET    /metrics                           metric records and stats (agent, session, limit)
//	GET    /healthz
//
// Errors are JSON {"error","kind"}; kinds map to 400 (invalid_input),
// 404 (not_found), 502 (backend_unavailable, backend_error), 504 (timeouts)
// and 500 (durability_failure and anything else).
package httpapi
