package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		OrderNo string `json:"order_no"`
		Qty     int    `json:"qty"`
	}

	raw := json.RawMessage(MustMarshal(payload{OrderNo: "ORD1", Qty: 3}))
	got, err := UnwrapPayload[payload](raw)
	require.NoError(t, err)
	assert.Equal(t, "ORD1", got.OrderNo)
	assert.Equal(t, 3, got.Qty)

	_, err = UnwrapPayload[payload](json.RawMessage(`{"qty":"three"}`))
	assert.Error(t, err)
}
