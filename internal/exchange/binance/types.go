package binance

// depthResp is GET /api/v3/depth. Levels are [price, quantity] string pairs.
type depthResp struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// accountResp is GET /api/v3/account.
type accountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// orderResp is the FULL response of POST /api/v3/order and the detail of
// GET /api/v3/order.
type orderResp struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

// withdrawApplyResp is POST /sapi/v1/capital/withdraw/apply.
type withdrawApplyResp struct {
	ID string `json:"id"`
}

// withdrawHistoryEntry is one entry of GET /sapi/v1/capital/withdraw/history.
type withdrawHistoryEntry struct {
	ID              string `json:"id"`
	Amount          string `json:"amount"`
	TransactionFee  string `json:"transactionFee"`
	Coin            string `json:"coin"`
	Status          int    `json:"status"`
	TransferType    int    `json:"transferType"`
	WithdrawOrderID string `json:"withdrawOrderId"`
}

// apiError is Binance's error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}
