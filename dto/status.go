package dto

// ListenerStatus is one registry entry of the orchestrator.
type ListenerStatus struct {
	Key          string  `json:"key"`
	OwnerUserId  int64   `json:"ownerUserId"`
	CustomerId   int64   `json:"customerId"`
	Trial        bool    `json:"trial"`
	MemberIds    []int64 `json:"memberIds"`
	Ready        bool    `json:"ready"`
	PendingRetry bool    `json:"pendingRetry"`
}

type OrchestratorStatus struct {
	Listeners      []ListenerStatus `json:"listeners"`
	PendingRetries []int64          `json:"pendingRetries"`
}
