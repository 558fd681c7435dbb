// Package team implements core.Backend for ad-hoc agent teams assembled from
// configuration.
//
// A team is an ordered list of members, each a named instruction bound to a
// model.Model. In sequential mode every member answers in turn and sees the
// replies of the members before it; in parallel mode all members answer the
// same transcript concurrently and their replies are returned in member
// order. Every reply is an assistant message attributed to its member, which
// is what the team aggregator groups by.
//
// Sessions live in process memory only; the exchange layer persists the
// history.
package team
