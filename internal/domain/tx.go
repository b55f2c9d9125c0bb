package domain

// UTXO is a spendable output owned by the wallet.
type UTXO struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Satoshis uint64 `json:"satoshis"`
	Script   string `json:"script"`
}

// TxOutput is an output to add to a transaction. Exactly one of Address or
// Script is set.
type TxOutput struct {
	Address  string `json:"address,omitempty"`
	Script   string `json:"script,omitempty"`
	Satoshis uint64 `json:"satoshis"`
}

// TxInput is an input to add to a transaction together with what is needed to sign it.
type TxInput struct {
	UTXO
	Role KeyRole `json:"role"`
}

// SigRequest asks the wallet to sign one input of a transaction.
type SigRequest struct {
	InputIndex int     `json:"inputIndex"`
	Satoshis   uint64  `json:"satoshis"`
	Script     string  `json:"script"`
	Role       KeyRole `json:"role,omitempty"`
}

// TxSummary describes a built transaction.
type TxSummary struct {
	TxID        string   `json:"txid"`
	Size        int      `json:"size"`
	InputCount  int      `json:"inputs"`
	OutputTotal uint64   `json:"outputTotal"`
	Outpoints   []string `json:"-"`
}
