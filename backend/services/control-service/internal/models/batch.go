package models

// CycleBatch is everything one locked cycle wants persisted. It is committed in a single
// transaction; the store fills in generated ids.
type CycleBatch struct {
	Ledger   *LedgerState
	Relays   []Relay
	Audit    []AuditEntry
	Readings []MeterReading
	Recharge *Recharge
}

// Empty reports whether there is nothing to write.
func (b *CycleBatch) Empty() bool {
	return b.Ledger == nil && len(b.Relays) == 0 && len(b.Audit) == 0 && len(b.Readings) == 0 && b.Recharge == nil
}
