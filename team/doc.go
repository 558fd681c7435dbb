// Package team aggregates multi-agent transcripts.
//
// A team session's history interleaves replies from several agents. The
// Aggregator regroups those replies by agent and exports them in one of three
// shapes:
//
//   - combined: one result per agent, its messages joined in order
//   - individual: one result per agent message
//   - raw: the whole chronological transcript with role and agent headers
//
// Messages without an agent name are attributed to UnknownAgent instead of
// being dropped.
package team
