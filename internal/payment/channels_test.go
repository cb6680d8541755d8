package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFromID(t *testing.T) {
	for id, want := range map[int]Channel{1: ChannelWechat, 2: ChannelAlipay, 3: ChannelBank, 4: ChannelBalance} {
		got, err := ChannelFromID(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ChannelFromID(99)
	assert.Error(t, err)
}

func TestParseCallbackWechat(t *testing.T) {
	cb, err := ParseCallback(ChannelWechat, []byte(`{
		"out_trade_no": "PAY17000000000001",
		"result_code": "SUCCESS",
		"total_amount": "199.90",
		"transaction_id": "wx-42"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "PAY17000000000001", cb.PaymentNo)
	assert.True(t, cb.Succeeded)
	assert.Equal(t, "199.9", cb.Amount.String())
	assert.Equal(t, "wx-42", cb.ExternalTransactionID)
}

func TestParseCallbackWechatFailure(t *testing.T) {
	cb, err := ParseCallback(ChannelWechat, []byte(`{
		"out_trade_no": "PAY17000000000001",
		"result_code": "FAIL",
		"err_code_des": "insufficient balance"
	}`))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded)
	assert.Equal(t, "insufficient balance", cb.FailureReason)
}

func TestParseCallbackAlipay(t *testing.T) {
	cb, err := ParseCallback(ChannelAlipay, []byte(`{
		"out_trade_no": "PAY17000000000002",
		"trade_status": "TRADE_SUCCESS",
		"total_amount": "50.00",
		"trade_no": "ali-7"
	}`))
	require.NoError(t, err)
	assert.True(t, cb.Succeeded)
	assert.Equal(t, "ali-7", cb.ExternalTransactionID)

	cb, err = ParseCallback(ChannelAlipay, []byte(`{
		"out_trade_no": "PAY17000000000002",
		"trade_status": "TRADE_CLOSED"
	}`))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded)
}

func TestParseCallbackGeneric(t *testing.T) {
	for _, ch := range []Channel{ChannelBank, ChannelBalance} {
		cb, err := ParseCallback(ch, []byte(`{
			"payment_no": "PAY17000000000003",
			"status": "success",
			"amount": "12.34",
			"transaction_id": "txn-1"
		}`))
		require.NoError(t, err, string(ch))
		assert.True(t, cb.Succeeded)
		assert.Equal(t, "12.34", cb.Amount.String())
	}
}

func TestParseCallbackRejectsBadInput(t *testing.T) {
	// missing payment reference
	_, err := ParseCallback(ChannelWechat, []byte(`{"result_code":"SUCCESS","total_amount":"1.00"}`))
	assert.Error(t, err)

	// success without a parsable amount
	_, err = ParseCallback(ChannelBank, []byte(`{"payment_no":"PAY1","status":"success"}`))
	assert.Error(t, err)

	// failure needs no amount at all
	cb, err := ParseCallback(ChannelBank, []byte(`{"payment_no":"PAY1","status":"failed"}`))
	require.NoError(t, err)
	assert.False(t, cb.Succeeded)
	assert.NotEmpty(t, cb.FailureReason)

	_, err = ParseCallback(Channel("paypal"), []byte(`{}`))
	assert.Error(t, err)
}

func TestAck(t *testing.T) {
	body, ct := Ack(ChannelWechat, true)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, "text/plain", ct)

	body, _ = Ack(ChannelWechat, false)
	assert.Equal(t, "fail", string(body))

	body, ct = Ack(ChannelAlipay, true)
	assert.JSONEq(t, `{"code":"SUCCESS"}`, string(body))
	assert.Equal(t, "application/json", ct)

	body, _ = Ack(ChannelBalance, false)
	assert.JSONEq(t, `{"code":"FAIL"}`, string(body))
}
