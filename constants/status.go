package constants

// ReceiptStatus is the canonical status for rows in receipts.
type ReceiptStatus string

// Stable values (store these exact strings in DB).
const (
	ReceiptStatusCreated    ReceiptStatus = "CREATED"    // uploaded, not yet published
	ReceiptStatusWaiting    ReceiptStatus = "WAITING"    // published, waiting for a reader
	ReceiptStatusProcessing ReceiptStatus = "PROCESSING" // selected by a worker
	ReceiptStatusCompleted  ReceiptStatus = "COMPLETED"  // purchase linked
	ReceiptStatusCanceled   ReceiptStatus = "CANCELED"
	ReceiptStatusFailed     ReceiptStatus = "FAILED"
)

// ReceiptStatuses lists every status in lifecycle order.
var ReceiptStatuses = []ReceiptStatus{
	ReceiptStatusCreated,
	ReceiptStatusWaiting,
	ReceiptStatusProcessing,
	ReceiptStatusCompleted,
	ReceiptStatusCanceled,
	ReceiptStatusFailed,
}

// Valid reports whether s is one of the known statuses.
func (s ReceiptStatus) Valid() bool {
	for _, v := range ReceiptStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s ReceiptStatus) String() string { return string(s) }
