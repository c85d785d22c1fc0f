// Package domain holds the kiosk's shared record types (employees, task
// templates and instances, ledger entries, audit events), their enums, and
// the sentinel errors every layer classifies with errors.Is.
package domain
