package upstream

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderwatch/internal/domain/order"
)

func TestParseOrder_Aliases(t *testing.T) {
	raw := []byte(`{
		"orderId": 42,
		"order_code": "GT-20250126-0042",
		"orderStatus": "PAID",
		"created_at": "2025-01-26T10:32:00",
		"price": "2500000",
		"shipping_fee": 50000,
		"totalAmount": 2550000,
		"deliveryAddress": "12 Le Loi, District 1",
		"deliveryPhone": "0901234567",
		"shippingPartner": "GHN",
		"payment_method": "WALLET",
		"paid_at": "2025-01-26T10:35:00Z",
		"hasDispute": false,
		"product": {"title": "iPhone 13"},
		"seller": {"id": 9}
	}`)

	f, err := parseOrder(raw, order.SourceHistory)
	require.NoError(t, err)

	assert.Equal(t, "42", f.ID)
	assert.Equal(t, "GT-20250126-0042", f.Code)
	assert.Equal(t, "iPhone 13", f.Title)
	assert.Equal(t, order.StatusConfirmed, f.Status)
	assert.Equal(t, "PAID", f.RawStatus)
	assert.True(t, f.CreatedAt.Equal(time.Date(2025, 1, 26, 10, 32, 0, 0, time.UTC)))
	assert.True(t, f.Price.Valid)
	assert.True(t, decimal.RequireFromString("2500000").Equal(f.Price.Decimal))
	assert.True(t, decimal.RequireFromString("50000").Equal(f.ShippingFee.Decimal))
	assert.True(t, decimal.RequireFromString("2550000").Equal(f.FinalPrice.Decimal))
	assert.Equal(t, "12 Le Loi, District 1", f.Shipping.Address)
	assert.Equal(t, "0901234567", f.Shipping.Phone)
	assert.Equal(t, "GHN", f.Shipping.Carrier)
	assert.Equal(t, "WALLET", f.Payment.Method)
	require.NotNil(t, f.Payment.PaidAt)
	require.NotNil(t, f.HasDispute)
	assert.False(t, *f.HasDispute)
	assert.JSONEq(t, string(raw), string(f.Raw))
}

func TestParseOrder_UnknownStatusKeepsRaw(t *testing.T) {
	f, err := parseOrder([]byte(`{"id":"1","status":"RETURN_REQUESTED"}`), order.SourceDetail)
	require.NoError(t, err)

	assert.Empty(t, f.Status)
	assert.Equal(t, "RETURN_REQUESTED", f.RawStatus)
}

func TestParseOrder_NullsAreAbsent(t *testing.T) {
	f, err := parseOrder([]byte(`{"id":"1","status":null,"price":null,"canceledAt":null,"cancelReason":null}`), order.SourceDetail)
	require.NoError(t, err)

	assert.Empty(t, f.Status)
	assert.False(t, f.Price.Valid)
	assert.Nil(t, f.CanceledAt)
	assert.Empty(t, f.CancelReason)
}

func TestParseOrder_ShippingStatus(t *testing.T) {
	f, err := parseOrder([]byte(`{"status":"shipping","rawStatus":"IN_TRANSIT","carrier":"GHTK","trackingNumber":"S123"}`), order.SourceShipping)
	require.NoError(t, err)

	assert.Equal(t, order.StatusShipping, f.Status)
	assert.Equal(t, "IN_TRANSIT", f.RawStatus)
	assert.Equal(t, "GHTK", f.Shipping.Carrier)
	assert.Equal(t, "S123", f.Shipping.TrackingNumber)
	assert.Nil(t, f.Raw)
}

func TestParseOrder_NotAnObject(t *testing.T) {
	_, err := parseOrder([]byte(`[1,2]`), order.SourceDetail)
	require.Error(t, err)
}

func TestUnwrapData(t *testing.T) {
	inner, err := unwrapData([]byte(`{"status":200,"data":{"id":"5"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"5"}`, string(inner))

	bare := []byte(`{"id":"5","data":"x"}`)
	inner, err = unwrapData(bare)
	require.NoError(t, err)
	assert.Equal(t, bare, inner)
}

func TestParseHistory_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		ids      []string
		pages    int
		elements int
	}{
		{
			name: "bare array",
			body: `[{"id":1},{"id":2}]`,
			ids:  []string{"1", "2"},
		},
		{
			name:     "data with orderResponses",
			body:     `{"data":{"orderResponses":[{"id":1}],"totalPages":3,"totalElements":41}}`,
			ids:      []string{"1"},
			pages:    3,
			elements: 41,
		},
		{
			name:  "spring page",
			body:  `{"content":[{"id":"a"},{"id":"b"}],"totalPages":2}`,
			ids:   []string{"a", "b"},
			pages: 2,
		},
		{
			name:     "items with meta",
			body:     `{"items":[{"orderId":7}],"meta":{"total_pages":1,"totalItems":1}}`,
			ids:      []string{"7"},
			pages:    1,
			elements: 1,
		},
		{
			name: "data array",
			body: `{"data":[{"id":3}]}`,
			ids:  []string{"3"},
		},
		{
			name: "items without id are dropped",
			body: `{"orders":[{"id":1},{"status":"PAID"},42]}`,
			ids:  []string{"1"},
		},
		{
			name: "empty",
			body: `{"data":{"content":[]}}`,
			ids:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := parseHistory([]byte(tt.body))
			require.NoError(t, err)

			var ids []string
			for _, f := range page.Items {
				assert.Equal(t, order.SourceHistory, f.Source)
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, tt.pages, page.TotalPages)
			assert.Equal(t, tt.elements, page.TotalElements)
		})
	}
}

func TestParseReview(t *testing.T) {
	has, err := parseReview([]byte(`{"hasReview":true}`))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = parseReview([]byte(`{"hasReview":false,"review":null}`))
	require.NoError(t, err)
	assert.False(t, has)

	has, err = parseReview([]byte(`{"review":{"rating":5}}`))
	require.NoError(t, err)
	assert.True(t, has)

	_, err = parseReview([]byte(`"yes"`))
	require.Error(t, err)
}

func TestParseCancelReasons(t *testing.T) {
	reasons, err := parseCancelReasons([]byte(`[{"id":1,"cancelOrderReasonName":"Changed my mind"},{"id":2,"name":"Found cheaper"},{"name":"no id"}]`))
	require.NoError(t, err)

	assert.Equal(t, []order.CancelReason{
		{ID: "1", Name: "Changed my mind"},
		{ID: "2", Name: "Found cheaper"},
	}, reasons)
}

func TestParseCancelResult(t *testing.T) {
	res, err := parseCancelResult([]byte(`{"success":false,"message":"order already shipped"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "order already shipped", res.Message)

	res, err = parseCancelResult(nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestTimestamp_EpochMillis(t *testing.T) {
	f, err := parseOrder([]byte(`{"id":"1","updatedAt":1737887520000}`), order.SourceDetail)
	require.NoError(t, err)
	assert.True(t, f.UpdatedAt.Equal(time.UnixMilli(1737887520000)))
}
