package core

// Operation represents a statement query that can be performed on an exchange.
type Operation int

// Operation constants define all supported statement queries.
const (
	// OpGetLedger retrieves the account's balance-change postings.
	OpGetLedger Operation = iota
	// OpGetExecutions retrieves the account's own trade executions.
	OpGetExecutions
	// OpGetTransfers retrieves transfers between the account's wallets or sub-accounts.
	OpGetTransfers
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	return [...]string{
		"GET_LEDGER",
		"GET_EXECUTIONS",
		"GET_TRANSFERS",
	}[o]
}

