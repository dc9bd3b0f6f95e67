package models

import "time"

// LedgerRecord is one (content hash, result) pair stored on chain.
type LedgerRecord struct {
	ContentHash string    `json:"content_hash"`
	Result      string    `json:"result"`
	Timestamp   time.Time `json:"timestamp"`
}

// LedgerReceipt describes a confirmed store transaction.
type LedgerReceipt struct {
	TxHash      string `json:"tx_hash"`
	ContentHash string `json:"content_hash"`
	Account     string `json:"account"`
	BlockNumber uint64 `json:"block_number"`
}
