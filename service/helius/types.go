package helius

import "encoding/json"

// enhancedTransaction is one entry of the enhanced transaction history.
type enhancedTransaction struct {
	Signature        string           `json:"signature"`
	Timestamp        int64            `json:"timestamp"`
	Slot             uint64           `json:"slot"`
	Type             string           `json:"type"`
	FeePayer         string           `json:"feePayer"`
	NativeTransfers  []nativeTransfer `json:"nativeTransfers"`
	TransactionError *json.RawMessage `json:"transactionError"`
}

type nativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type assetsByOwnerParams struct {
	OwnerAddress   string         `json:"ownerAddress"`
	Page           int            `json:"page"`
	Limit          int            `json:"limit"`
	DisplayOptions displayOptions `json:"displayOptions"`
}

type displayOptions struct {
	ShowFungible      bool `json:"showFungible"`
	ShowNativeBalance bool `json:"showNativeBalance"`
	ShowZeroBalance   bool `json:"showZeroBalance"`
}

type assetsByOwnerResponse struct {
	ID     string               `json:"id"`
	Result *assetsByOwnerResult `json:"result"`
	Error  *rpcError            `json:"error"`
}

type assetsByOwnerResult struct {
	Total         int            `json:"total"`
	Items         []dasAsset     `json:"items"`
	NativeBalance *nativeBalance `json:"nativeBalance"`
}

type nativeBalance struct {
	Lamports    uint64  `json:"lamports"`
	PricePerSOL float64 `json:"price_per_sol"`
}

type dasAsset struct {
	ID          string       `json:"id"`
	Interface   string       `json:"interface"`
	Content     dasContent   `json:"content"`
	TokenInfo   *tokenInfo   `json:"token_info"`
	Compression *compression `json:"compression"`
}

type dasContent struct {
	Metadata struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"metadata"`
	Links struct {
		Image string `json:"image"`
	} `json:"links"`
}

type tokenInfo struct {
	Symbol    string     `json:"symbol"`
	Balance   uint64     `json:"balance"`
	Decimals  int        `json:"decimals"`
	PriceInfo *priceInfo `json:"price_info"`
}

type priceInfo struct {
	PricePerToken float64 `json:"price_per_token"`
}

type compression struct {
	Compressed bool `json:"compressed"`
}
