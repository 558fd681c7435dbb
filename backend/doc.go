// Package backend groups the core.Backend implementations. Each sub-package
// serves exactly one core.BackendType:
//
//   - native: the native agent runtime over HTTP/JSON
//   - studio: the multi-agent studio over HTTP/JSON plus a websocket relay
//   - team: ad-hoc teams of model-backed members run in process
//
// Registry maps backend types to implementations so the session manager
// dispatches without branching on names.
package backend
