package models

// UpstreamStatus is the outcome of the latest reachability probe. It is
// informational only.
type UpstreamStatus struct {
	CheckedAt      int64  `json:"checkedAt"`
	AleoReachable  bool   `json:"aleoReachable"`
	AleoHeight     uint32 `json:"aleoHeight,omitempty"`
	EthEnabled     bool   `json:"ethEnabled"`
	EthReachable   bool   `json:"ethReachable"`
	EthBlockNumber uint64 `json:"ethBlockNumber,omitempty"`
}
