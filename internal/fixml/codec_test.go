package fixml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		body any
	}{
		{
			name: "user login request",
			body: &UserRequest{
				UserReqID:   "req-1",
				RequestType: UserRequestLogin,
				Username:    "BOS",
				Password:    "BOS",
			},
		},
		{
			name: "user response",
			body: &UserResponse{
				UserReqID:  "req-1",
				Username:   "BOS",
				UserStatus: UserStatusLoggedIn,
			},
		},
		{
			name: "limit order",
			body: &OrderRequest{
				ClOrdID:  "cl-7",
				Symbol:   "KGHM",
				Side:     SideBuy,
				OrdType:  OrdTypeLimit,
				Price:    "1000.00",
				Quantity: "10",
			},
		},
		{
			name: "market order without price",
			body: &OrderRequest{
				ClOrdID:  "cl-8",
				Symbol:   "PKO",
				Side:     SideSell,
				OrdType:  OrdTypeMarket,
				Quantity: "25",
			},
		},
		{
			name: "execution report fill",
			body: &ExecutionReport{
				OrderID:      "V-12",
				ClOrdID:      "cl-7",
				ExecID:       "E-3",
				ExecType:     ExecTypeTransaction,
				OrdStatus:    OrdStatusDone,
				Symbol:       "KGHM",
				Side:         SideBuy,
				OrdType:      OrdTypeLimit,
				Price:        "1000.00",
				Quantity:     "10",
				LastPrice:    "900.00",
				LastQuantity: "10",
			},
		},
		{
			name: "market data subscribe",
			body: &MarketDataRequest{
				RequestID:  "md-5",
				SubReqType: SubReqSubscribe,
				Instruments: []Instrument{
					{Symbol: "KGHM"},
					{Symbol: "PKO"},
				},
			},
		},
		{
			name: "market data snapshot response",
			body: &MarketDataResponse{
				RequestID: "md-5",
				Symbol:    "KGHM",
				LastPrice: "1050.25",
			},
		},
		{
			name: "security list request for all",
			body: &SecurityListRequest{
				RequestID: "sec-1",
				ListType:  SecListReqAll,
			},
		},
		{
			name: "security list",
			body: &SecurityList{
				RequestID:    "sec-1",
				LastFragment: "Y",
				Securities: []SecurityDefinition{
					{Symbol: "KGHM", Description: "KGHM Polska Miedz", Market: "WSE"},
				},
			},
		},
		{
			name: "business reject",
			body: &BusinessMessageReject{
				RefID:      "cl-9",
				RefMsgType: TypeOrderRequest,
				Reason:     RejectReasonNotAuthorized,
				Text:       "unauthorized access",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			original := Wrap(tc.body)

			data, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, original.Type(), decoded.Type())
			assert.Equal(t, original.CorrelationID(), decoded.CorrelationID())
			assert.Equal(t, ProtocolVersion, decoded.Version)
			assert.Equal(t, Revision, decoded.Revision)
			assert.Equal(t, ServicePack, decoded.ServicePack)

			switch body := tc.body.(type) {
			case *UserRequest:
				assert.Equal(t, body, decoded.UserRequest)
			case *UserResponse:
				assert.Equal(t, body, decoded.UserResponse)
			case *OrderRequest:
				assert.Equal(t, body, decoded.OrderRequest)
			case *ExecutionReport:
				assert.Equal(t, body, decoded.ExecutionReport)
			case *MarketDataRequest:
				assert.Equal(t, body, decoded.MarketDataRequest)
			case *MarketDataResponse:
				assert.Equal(t, body, decoded.MarketDataResponse)
			case *SecurityListRequest:
				assert.Equal(t, body, decoded.SecurityListRequest)
			case *SecurityList:
				assert.Equal(t, body, decoded.SecurityList)
			case *BusinessMessageReject:
				assert.Equal(t, body, decoded.BusinessReject)
			default:
				t.Fatalf("unhandled variant %T", tc.body)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("<FIXML v=\"5.0\""))
	assert.Error(t, err)
}

func TestDecode_EmptyEnvelope(t *testing.T) {
	_, err := Decode([]byte(`<FIXML v="5.0" r="20080317" s="20080314"></FIXML>`))
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDecode_MultipleChildren(t *testing.T) {
	payload := `<FIXML v="5.0" r="20080317" s="20080314">` +
		`<UserReq UserReqID="1" UserReqTyp="1" Username="BOS"/>` +
		`<Order ClOrdID="2" Sym="KGHM" Side="1" Typ="2" Px="10" Qty="1"/>` +
		`</FIXML>`
	_, err := Decode([]byte(payload))
	assert.ErrorIs(t, err, ErrAmbiguousMessage)
}

func TestEncode_EmptyEnvelope(t *testing.T) {
	_, err := Encode(&Message{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestWireCodes(t *testing.T) {
	msg := Wrap(&OrderRequest{
		ClOrdID:  "cl-1",
		Symbol:   "KGHM",
		Side:     SideBuy,
		OrdType:  OrdTypeLimit,
		Price:    "1000.00",
		Quantity: "10",
	})

	data, err := Encode(msg)
	require.NoError(t, err)

	payload := string(data)
	assert.Contains(t, payload, `Side="1"`)
	assert.Contains(t, payload, `Typ="2"`)
	assert.Contains(t, payload, `v="5.0"`)
	assert.Contains(t, payload, `r="20080317"`)
	assert.Contains(t, payload, `s="20080314"`)
}
