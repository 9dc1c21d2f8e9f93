package model

// Operation status values reported by the coin daemon for async sends.
const (
	OperationSuccess   = "success"
	OperationFailed    = "failed"
	OperationExecuting = "executing"
	OperationQueued    = "queued"
)

// Operation is the outcome of one asynchronous batched disbursement.
type Operation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		TxID string `json:"txid"`
	} `json:"result"`
	Error *OperationError `json:"error,omitempty"`
}

// OperationError is the daemon's reason for a failed operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Succeeded reports whether the operation produced a transaction.
func (o Operation) Succeeded() bool {
	return o.Status == OperationSuccess && o.Result.TxID != ""
}

// Failed reports whether the operation finished without a transaction.
func (o Operation) Failed() bool {
	return o.Status == OperationFailed
}
