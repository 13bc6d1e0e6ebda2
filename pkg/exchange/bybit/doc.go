// Package bybit reads the account statement of a Bybit unified trading account.
//
// Flows come from the transaction log; events come from the execution list and the
// internal transfer history. All endpoints are signed with the v5 HMAC header scheme.
//
// Bybit API Documentation: https://bybit-exchange.github.io/docs/v5/intro
package bybit
