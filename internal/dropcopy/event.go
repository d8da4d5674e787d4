package dropcopy

// DefaultTopic is the drop-copy feed topic
const DefaultTopic = "venue.executions"

// ExecutionEvent is the JSON shape of one drop-copy record. The key
// of the Kafka record is the venue order id, so all events of one
// order land on one partition in order.
type ExecutionEvent struct {
	EventID      string `json:"event_id"`
	Username     string `json:"username"`
	OrderID      string `json:"order_id"`
	ClOrdID      string `json:"cl_ord_id"`
	ExecID       string `json:"exec_id"`
	ExecType     string `json:"exec_type"`
	OrdStatus    string `json:"ord_status"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrdType      string `json:"ord_type"`
	Price        string `json:"price,omitempty"`
	Quantity     string `json:"quantity"`
	LastPrice    string `json:"last_price,omitempty"`
	LastQuantity string `json:"last_quantity,omitempty"`
	TsUnixMillis int64  `json:"ts_unix_millis"`
}
