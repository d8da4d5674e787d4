// Package fixml defines the FIXML-like application messages exchanged
// between the venue and its clients, and the codec mapping them to and
// from UTF-8 XML wire payloads.
package fixml

import "encoding/xml"

// Protocol envelope attributes, fixed for interoperability
const (
	ProtocolVersion = "5.0"
	Revision        = "20080317"
	ServicePack     = "20080314"
)

// Message type tags (the single child element of the FIXML envelope)
const (
	TypeUserRequest           = "UserReq"
	TypeUserResponse          = "UserRsp"
	TypeOrderRequest          = "Order"
	TypeExecutionReport       = "ExecRpt"
	TypeMarketDataRequest     = "MktDataReq"
	TypeMarketDataResponse    = "MktDataSnap"
	TypeSecurityListRequest   = "SecListReq"
	TypeSecurityList          = "SecList"
	TypeBusinessMessageReject = "BizMsgRej"
)

// User request types
const (
	UserRequestLogin  = "1"
	UserRequestLogout = "2"
)

// User statuses
const (
	UserStatusLoggedIn      = "1"
	UserStatusNotLoggedIn   = "2"
	UserStatusNotRecognised = "3"
	UserStatusOther         = "6"
)

// Order sides
const (
	SideBuy  = "1"
	SideSell = "2"
)

// Order types
const (
	OrdTypeMarket = "1"
	OrdTypeLimit  = "2"
)

// Execution types
const (
	ExecTypeNew         = "0"
	ExecTypeTransaction = "F"
)

// Order statuses
const (
	OrdStatusNew  = "0"
	OrdStatusDone = "2"
)

// Market data subscription request types
const (
	SubReqSnapshot    = "0"
	SubReqSubscribe   = "1"
	SubReqUnsubscribe = "2"
)

// Security list request types
const (
	SecListReqSymbol = "0"
	SecListReqAll    = "4"
)

// Business reject reasons
const (
	RejectReasonOther           = "0"
	RejectReasonUnsupportedType = "3"
	RejectReasonNotAuthorized   = "6"
)

// Message is the FIXML envelope. Exactly one child is carried per wire
// payload.
type Message struct {
	XMLName     xml.Name `xml:"FIXML"`
	Version     string   `xml:"v,attr"`
	Revision    string   `xml:"r,attr"`
	ServicePack string   `xml:"s,attr"`

	UserRequest         *UserRequest           `xml:"UserReq"`
	UserResponse        *UserResponse          `xml:"UserRsp"`
	OrderRequest        *OrderRequest          `xml:"Order"`
	ExecutionReport     *ExecutionReport       `xml:"ExecRpt"`
	MarketDataRequest   *MarketDataRequest     `xml:"MktDataReq"`
	MarketDataResponse  *MarketDataResponse    `xml:"MktDataSnap"`
	SecurityListRequest *SecurityListRequest   `xml:"SecListReq"`
	SecurityList        *SecurityList          `xml:"SecList"`
	BusinessReject      *BusinessMessageReject `xml:"BizMsgRej"`
}

// UserRequest carries a login or logout attempt
type UserRequest struct {
	UserReqID   string `xml:"UserReqID,attr"`
	RequestType string `xml:"UserReqTyp,attr"`
	Username    string `xml:"Username,attr"`
	Password    string `xml:"Password,attr,omitempty"`
}

// UserResponse answers a UserRequest
type UserResponse struct {
	UserReqID  string `xml:"UserReqID,attr"`
	Username   string `xml:"Username,attr"`
	UserStatus string `xml:"UserStat,attr"`
	StatusText string `xml:"UserStatText,attr,omitempty"`
}

// OrderRequest carries a new order submission. Price is absent for
// market orders.
type OrderRequest struct {
	ClOrdID  string `xml:"ClOrdID,attr"`
	Symbol   string `xml:"Sym,attr"`
	Side     string `xml:"Side,attr"`
	OrdType  string `xml:"Typ,attr"`
	Price    string `xml:"Px,attr,omitempty"`
	Quantity string `xml:"Qty,attr"`
}

// ExecutionReport reports an order lifecycle event back to the client
type ExecutionReport struct {
	OrderID      string `xml:"OrdID,attr"`
	ClOrdID      string `xml:"ClOrdID,attr"`
	ExecID       string `xml:"ExecID,attr"`
	ExecType     string `xml:"ExecTyp,attr"`
	OrdStatus    string `xml:"Stat,attr"`
	Symbol       string `xml:"Sym,attr"`
	Side         string `xml:"Side,attr"`
	OrdType      string `xml:"Typ,attr"`
	Price        string `xml:"Px,attr,omitempty"`
	Quantity     string `xml:"Qty,attr"`
	LastPrice    string `xml:"LastPx,attr,omitempty"`
	LastQuantity string `xml:"LastQty,attr,omitempty"`
	Text         string `xml:"Txt,attr,omitempty"`
}

// Instrument names one instrument inside a market data request
type Instrument struct {
	Symbol string `xml:"Sym,attr"`
}

// MarketDataRequest asks for a snapshot, a subscription, or an
// unsubscription
type MarketDataRequest struct {
	RequestID   string       `xml:"ReqID,attr"`
	SubReqType  string       `xml:"SubReqTyp,attr"`
	Instruments []Instrument `xml:"Instrmt"`
}

// MarketDataResponse carries one price entry
type MarketDataResponse struct {
	RequestID string `xml:"ReqID,attr"`
	Symbol    string `xml:"Sym,attr"`
	LastPrice string `xml:"LastPx,attr"`
	Timestamp string `xml:"TxnTm,attr,omitempty"`
}

// SecurityListRequest asks for reference data
type SecurityListRequest struct {
	RequestID string `xml:"ReqID,attr"`
	ListType  string `xml:"ListTyp,attr"`
	Symbol    string `xml:"Sym,attr,omitempty"`
}

// SecurityDefinition is one reference-data catalog entry
type SecurityDefinition struct {
	Symbol      string `xml:"Sym,attr"`
	Description string `xml:"Desc,attr,omitempty"`
	Market      string `xml:"Mkt,attr,omitempty"`
}

// SecurityList answers a SecurityListRequest. Responses are always a
// single fragment.
type SecurityList struct {
	RequestID    string               `xml:"ReqID,attr"`
	LastFragment string               `xml:"LastFragment,attr"`
	Securities   []SecurityDefinition `xml:"SecDef"`
}

// BusinessMessageReject reports a protocol-state or decode error.
// RefID echoes the offending message's correlation id when known.
type BusinessMessageReject struct {
	RefID      string `xml:"BizRejRefID,attr,omitempty"`
	RefMsgType string `xml:"RefMsgTyp,attr"`
	Reason     string `xml:"BizRejRsn,attr"`
	Text       string `xml:"Txt,attr,omitempty"`
}

// Wrap builds an envelope around a single message variant
func Wrap(body any) *Message {
	m := &Message{
		Version:     ProtocolVersion,
		Revision:    Revision,
		ServicePack: ServicePack,
	}
	switch v := body.(type) {
	case *UserRequest:
		m.UserRequest = v
	case *UserResponse:
		m.UserResponse = v
	case *OrderRequest:
		m.OrderRequest = v
	case *ExecutionReport:
		m.ExecutionReport = v
	case *MarketDataRequest:
		m.MarketDataRequest = v
	case *MarketDataResponse:
		m.MarketDataResponse = v
	case *SecurityListRequest:
		m.SecurityListRequest = v
	case *SecurityList:
		m.SecurityList = v
	case *BusinessMessageReject:
		m.BusinessReject = v
	}
	return m
}

// Type returns the message-type tag of the carried variant, or "" for
// an empty envelope.
func (m *Message) Type() string {
	switch {
	case m.UserRequest != nil:
		return TypeUserRequest
	case m.UserResponse != nil:
		return TypeUserResponse
	case m.OrderRequest != nil:
		return TypeOrderRequest
	case m.ExecutionReport != nil:
		return TypeExecutionReport
	case m.MarketDataRequest != nil:
		return TypeMarketDataRequest
	case m.MarketDataResponse != nil:
		return TypeMarketDataResponse
	case m.SecurityListRequest != nil:
		return TypeSecurityListRequest
	case m.SecurityList != nil:
		return TypeSecurityList
	case m.BusinessReject != nil:
		return TypeBusinessMessageReject
	}
	return ""
}

// CorrelationID returns the identifier used to correlate this message
// with its request or response.
func (m *Message) CorrelationID() string {
	switch {
	case m.UserRequest != nil:
		return m.UserRequest.UserReqID
	case m.UserResponse != nil:
		return m.UserResponse.UserReqID
	case m.OrderRequest != nil:
		return m.OrderRequest.ClOrdID
	case m.ExecutionReport != nil:
		return m.ExecutionReport.ClOrdID
	case m.MarketDataRequest != nil:
		return m.MarketDataRequest.RequestID
	case m.MarketDataResponse != nil:
		return m.MarketDataResponse.RequestID
	case m.SecurityListRequest != nil:
		return m.SecurityListRequest.RequestID
	case m.SecurityList != nil:
		return m.SecurityList.RequestID
	case m.BusinessReject != nil:
		return m.BusinessReject.RefID
	}
	return ""
}

// variantCount returns how many variants the envelope carries
func (m *Message) variantCount() int {
	count := 0
	for _, set := range []bool{
		m.UserRequest != nil,
		m.UserResponse != nil,
		m.OrderRequest != nil,
		m.ExecutionReport != nil,
		m.MarketDataRequest != nil,
		m.MarketDataResponse != nil,
		m.SecurityListRequest != nil,
		m.SecurityList != nil,
		m.BusinessReject != nil,
	} {
		if set {
			count++
		}
	}
	return count
}
