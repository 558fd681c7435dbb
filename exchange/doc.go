// Package exchange converts between canonical messages/results and backend
// wire formats. Every function is pure and synchronous:
//
//   - EncodeResults / EncodeMessages render canonical values into an
//     ExchangePayload (plain text or markdown) with summary metadata.
//   - DecodeMessagesToChat maps raw backend messages 1:1 onto core.Message.
//   - DecodeMessagesToResults splits assistant output into renderable
//     ResultItems using the content block parser.
//   - FromStudio / ToStudio and ToNative adapt the concrete backend shapes.
package exchange
