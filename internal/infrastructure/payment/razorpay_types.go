package payment

import "encoding/json"

// razorpayRefundRequest is the body of POST /v1/payments/{id}/refund
type razorpayRefundRequest struct {
	Amount  int64             `json:"amount"`
	Speed   string            `json:"speed,omitempty"`
	Receipt string            `json:"receipt,omitempty"`
	Notes   map[string]string `json:"notes,omitempty"`
}

// razorpayRefund is a refund entity returned by the refunds API
type razorpayRefund struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaymentID string `json:"payment_id"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	Speed     string `json:"speed_processed"`
	// Notes is an object, or an empty array when no notes were sent
	Notes     json.RawMessage `json:"notes"`
	CreatedAt int64           `json:"created_at"`
}

// razorpayErrorResponse is the error envelope of the Razorpay API
type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}
