package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformedCallback = errors.New("malformed stk callback")

type callbackEnvelope struct {
	Body struct {
		STKCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes the Daraja STK callback body. ResultCode 0 is a
// confirmation; anything else is a failure carrying ResultDesc.
func ParseCallback(r io.Reader) (StatusUpdate, error) {
	var env callbackEnvelope
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&env); err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.STKCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return StatusUpdate{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}

	up := StatusUpdate{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutID:        cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		Description:       cb.ResultDesc,
		Status:            StatusFailed,
		Source:            "callback",
	}
	if cb.ResultCode != 0 {
		return up, nil
	}

	up.Status = StatusConfirmed
	for _, item := range cb.CallbackMetadata.Item {
		v := metadataValue(item.Value)
		switch item.Name {
		case "Amount":
			amt, err := decimal.NewFromString(v)
			if err != nil {
				return StatusUpdate{}, fmt.Errorf("%w: amount %q", ErrMalformedCallback, v)
			}
			up.Amount = amt
		case "MpesaReceiptNumber":
			up.Receipt = v
		case "TransactionDate":
			up.TransactionDate = v
		case "PhoneNumber":
			up.Phone = v
		}
	}
	return up, nil
}

// metadataValue flattens an Item value: Daraja sends receipts as strings but
// amounts, dates and phone numbers as bare numbers.
func metadataValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
