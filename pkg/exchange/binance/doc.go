// Package binance reads the account statement of a Binance USDⓈ-M futures account.
//
// The package includes:
//   - Protocol: request building, response parsing and query-string HMAC signing
//   - Normalizer: conversion of income records and account trades to ledger types
//   - Source: the exchange.Source that pages through both endpoints
//
// Example usage:
//
//	src, err := binance.New(core.DefaultConfig("binance").WithCredentials(creds))
//	flows, err := src.Flows(ctx, start, end)
package binance
