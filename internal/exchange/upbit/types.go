package upbit

import "encoding/json"

// orderbookResp is one market's entry in GET /v1/orderbook.
type orderbookResp struct {
	Market    string `json:"market"`
	Timestamp int64  `json:"timestamp"`
	Units     []struct {
		AskPrice float64 `json:"ask_price"`
		BidPrice float64 `json:"bid_price"`
		AskSize  float64 `json:"ask_size"`
		BidSize  float64 `json:"bid_size"`
	} `json:"orderbook_units"`
}

// accountResp is one currency's entry in GET /v1/accounts. Upbit reports
// numeric amounts as strings.
type accountResp struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Locked   string `json:"locked"`
}

// orderResp is the order detail from POST /v1/orders and GET /v1/order.
type orderResp struct {
	UUID           string  `json:"uuid"`
	Side           string  `json:"side"`
	OrdType        string  `json:"ord_type"`
	State          string  `json:"state"`
	Market         string  `json:"market"`
	PaidFee        string  `json:"paid_fee"`
	ExecutedVolume string  `json:"executed_volume"`
	Trades         []trade `json:"trades"`
}

// trade is one execution inside an order. Funds is the trade's notional in
// the quote currency.
type trade struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
	Funds  string `json:"funds"`
}

// withdrawResp is the withdrawal detail from POST /v1/withdraws/coin and
// GET /v1/withdraw.
type withdrawResp struct {
	UUID     string `json:"uuid"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee"`
	State    string `json:"state"`
	TxID     string `json:"txid"`
}

// apiError is Upbit's error envelope.
type apiError struct {
	Error struct {
		Name    json.RawMessage `json:"name"`
		Message string          `json:"message"`
	} `json:"error"`
}
