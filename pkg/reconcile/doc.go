// Package reconcile turns venue statement flows and declared events into a transaction log.
//
// Every event is matched against the flows with the narrowest time window that explains
// all of its expected postings. Flows no event explains become single-flow transactions,
// and one-sided internal transfers are paired or booked as strategy movements.
// A run is a pure function of its inputs: it performs no I/O and keeps no state.
package reconcile
