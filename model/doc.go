// Package model defines the provider-agnostic abstraction used by team
// members to produce replies.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel, FuncModel)
//
// Providers (OpenAI, Anthropic) implement Model in sub-packages so the team
// backend stays decoupled from vendor SDKs.
package model
