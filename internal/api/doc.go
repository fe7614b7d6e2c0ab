// Package api exposes the escrow, custody and conversion operations over a
// JSON REST interface. Write requests are signed with EIP-191 signatures and
// executed as single ledger invocations.
package api
