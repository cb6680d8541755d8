package payment

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Channel identifies the external payment integration. The numeric ids are
// the client-facing method codes.
type Channel string

const (
	ChannelWechat  Channel = "wechat"
	ChannelAlipay  Channel = "alipay"
	ChannelBank    Channel = "bank"
	ChannelBalance Channel = "balance"
)

var channelByID = map[int]Channel{
	1: ChannelWechat,
	2: ChannelAlipay,
	3: ChannelBank,
	4: ChannelBalance,
}

func ChannelFromID(id int) (Channel, error) {
	ch, ok := channelByID[id]
	if !ok {
		return "", fmt.Errorf("unsupported payment method %d", id)
	}
	return ch, nil
}

func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelWechat, ChannelAlipay, ChannelBank, ChannelBalance:
		return true
	}
	return false
}

// Callback is the channel-neutral view of an external notification.
type Callback struct {
	PaymentNo             string
	Succeeded             bool
	Amount                decimal.Decimal
	ExternalTransactionID string
	FailureReason         string
}

type wechatCallback struct {
	OutTradeNo    string `json:"out_trade_no"`
	ResultCode    string `json:"result_code"` // SUCCESS | FAIL
	TotalAmount   string `json:"total_amount"`
	TransactionID string `json:"transaction_id"`
	ErrCodeDes    string `json:"err_code_des"`
}

type alipayCallback struct {
	OutTradeNo  string `json:"out_trade_no"`
	TradeStatus string `json:"trade_status"` // TRADE_SUCCESS | TRADE_CLOSED
	TotalAmount string `json:"total_amount"`
	TradeNo     string `json:"trade_no"`
}

type genericCallback struct {
	PaymentNo     string `json:"payment_no"`
	Status        string `json:"status"` // success | failed
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// ParseCallback maps a channel's raw payload onto the neutral Callback.
// WeChat and Alipay correlate via out_trade_no, which carries our payment
// no; the in-house channels send it directly.
func ParseCallback(ch Channel, payload []byte) (*Callback, error) {
	switch ch {
	case ChannelWechat:
		var c wechatCallback
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode wechat callback: %w", err)
		}
		return buildCallback(c.OutTradeNo, c.ResultCode == "SUCCESS", c.TotalAmount, c.TransactionID, c.ErrCodeDes)
	case ChannelAlipay:
		var c alipayCallback
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode alipay callback: %w", err)
		}
		return buildCallback(c.OutTradeNo, c.TradeStatus == "TRADE_SUCCESS", c.TotalAmount, c.TradeNo, c.TradeStatus)
	case ChannelBank, ChannelBalance:
		var c genericCallback
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode %s callback: %w", ch, err)
		}
		return buildCallback(c.PaymentNo, c.Status == "success", c.Amount, c.TransactionID, c.Reason)
	}
	return nil, fmt.Errorf("unsupported payment channel %q", ch)
}

func buildCallback(paymentNo string, ok bool, amount, txnID, reason string) (*Callback, error) {
	if paymentNo == "" {
		return nil, fmt.Errorf("callback missing payment reference")
	}
	cb := &Callback{
		PaymentNo:             paymentNo,
		Succeeded:             ok,
		ExternalTransactionID: txnID,
	}
	if !ok {
		if reason == "" {
			reason = "payment failed"
		}
		cb.FailureReason = reason
		return cb, nil
	}
	// A success callback must declare the amount; it is verified against the
	// record before anything is marked paid.
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("callback amount %q: %w", amount, err)
	}
	cb.Amount = amt
	return cb, nil
}

// Ack renders the acknowledgement the channel expects. WeChat-style
// integrations want the literal strings "success"/"fail"; the rest take a
// small JSON body.
func Ack(ch Channel, ok bool) (body []byte, contentType string) {
	if ch == ChannelWechat {
		if ok {
			return []byte("success"), "text/plain"
		}
		return []byte("fail"), "text/plain"
	}
	if ok {
		return []byte(`{"code":"SUCCESS"}`), "application/json"
	}
	return []byte(`{"code":"FAIL"}`), "application/json"
}
