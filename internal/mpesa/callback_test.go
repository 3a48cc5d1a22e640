package mpesa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1500.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestParseCallback_Success(t *testing.T) {
	up, err := ParseCallback(strings.NewReader(successCallback))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, up.Status)
	assert.Equal(t, "ws_CO_191220191020363925", up.CheckoutID)
	assert.Equal(t, "29115-34620561-1", up.MerchantRequestID)
	assert.Equal(t, "1500", up.Amount.String())
	assert.Equal(t, "NLJ7RT61SV", up.Receipt)
	assert.Equal(t, "20191219102115", up.TransactionDate)
	assert.Equal(t, "254708374149", up.Phone)
	assert.Equal(t, "callback", up.Source)
}

func TestParseCallback_Failure(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	up, err := ParseCallback(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, up.Status)
	assert.Equal(t, 1032, up.ResultCode)
	assert.Equal(t, "Request cancelled by user", up.Description)
}

func TestParseCallback_Malformed(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		_, err := ParseCallback(strings.NewReader(body))
		assert.ErrorIs(t, err, ErrMalformedCallback, body)
	}
}
