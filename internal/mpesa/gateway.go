package mpesa

import "context"

// PushRequest is what Daraja needs to prompt the customer's handset.
type PushRequest struct {
	Phone       string // 2547XXXXXXXX
	Amount      int64  // whole shillings
	Reference   string // AccountReference, shown on the handset
	Description string
}

// PushResponse is the synchronous acceptance of an STK push.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Gateway is the remote push-payment API. Rejections wrap domain.ErrGatewayRejected;
// any other error means the outcome of the call is unknown.
type Gateway interface {
	STKPush(ctx context.Context, req PushRequest) (PushResponse, error)
	Query(ctx context.Context, checkoutID string) (StatusUpdate, error)
}
