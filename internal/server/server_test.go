package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bossim/venue/internal/config"
	"github.com/bossim/venue/internal/fixml"
	"github.com/bossim/venue/internal/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:   "venue-server-test",
		VenuePort:     0,
		Users:         map[string]string{"BOS": "BOS"},
		Instruments:   map[string]float64{"KGHM": 1050.00, "PKO": 455.50},
		DefaultSymbol: "KGHM",
		// Long interval keeps the simulator quiet so tests drive
		// price updates explicitly
		TickInterval:  time.Hour,
		TickJitterPct: 2.0,
	}
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := New(testConfig(), zap.NewNop())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

type testConn struct {
	conn   net.Conn
	framer *wire.Framer
}

func dialVenue(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{conn: conn, framer: wire.NewFramer(conn)}
}

func (tc *testConn) send(t *testing.T, body any) {
	t.Helper()
	payload, err := fixml.Encode(fixml.Wrap(body))
	require.NoError(t, err)
	require.NoError(t, tc.framer.WriteFrame(payload))
}

func (tc *testConn) recv(t *testing.T) *fixml.Message {
	t.Helper()
	require.NoError(t, tc.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	payload, err := tc.framer.ReadFrame()
	require.NoError(t, err)
	msg, err := fixml.Decode(payload)
	require.NoError(t, err)
	return msg
}

func (tc *testConn) login(t *testing.T, username, password string) *fixml.UserResponse {
	t.Helper()
	tc.send(t, &fixml.UserRequest{
		UserReqID:   "login-1",
		RequestType: fixml.UserRequestLogin,
		Username:    username,
		Password:    password,
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.UserResponse)
	return msg.UserResponse
}

func TestLoginLogout(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	resp := tc.login(t, "BOS", "BOS")
	assert.Equal(t, "login-1", resp.UserReqID)
	assert.Equal(t, fixml.UserStatusLoggedIn, resp.UserStatus)

	tc.send(t, &fixml.UserRequest{
		UserReqID:   "logout-1",
		RequestType: fixml.UserRequestLogout,
		Username:    "BOS",
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.UserResponse)
	assert.Equal(t, "logout-1", msg.UserResponse.UserReqID)
	assert.Equal(t, fixml.UserStatusNotLoggedIn, msg.UserResponse.UserStatus)
}

func TestLoginWhileAuthenticated(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	tc.login(t, "BOS", "BOS")
	resp := tc.login(t, "BOS", "BOS")
	assert.Equal(t, fixml.UserStatusOther, resp.UserStatus)
	assert.Equal(t, "already logged in", resp.StatusText)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	resp := tc.login(t, "BOS", "wrong")
	assert.Equal(t, fixml.UserStatusNotRecognised, resp.UserStatus)

	resp = tc.login(t, "nobody", "BOS")
	assert.Equal(t, fixml.UserStatusNotRecognised, resp.UserStatus)
}

func TestLogoutWithoutLogin(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	tc.send(t, &fixml.UserRequest{
		UserReqID:   "logout-1",
		RequestType: fixml.UserRequestLogout,
		Username:    "BOS",
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.UserResponse)
	assert.Equal(t, fixml.UserStatusOther, msg.UserResponse.UserStatus)
	assert.Equal(t, "not logged in", msg.UserResponse.StatusText)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	tc.send(t, &fixml.SecurityListRequest{RequestID: "sec-1", ListType: fixml.SecListReqAll})
	msg := tc.recv(t)
	require.NotNil(t, msg.BusinessReject)
	assert.Equal(t, fixml.RejectReasonNotAuthorized, msg.BusinessReject.Reason)
	assert.Equal(t, "unauthorized access", msg.BusinessReject.Text)
	assert.Equal(t, "sec-1", msg.BusinessReject.RefID)
	assert.Equal(t, fixml.TypeSecurityListRequest, msg.BusinessReject.RefMsgType)
}

func TestUnauthenticatedOrderRejected(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	tc.send(t, &fixml.OrderRequest{
		ClOrdID:  "ord-1",
		Symbol:   "KGHM",
		Side:     fixml.SideBuy,
		OrdType:  fixml.OrdTypeLimit,
		Price:    "1000.00",
		Quantity: "10",
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.BusinessReject)
	assert.Equal(t, fixml.RejectReasonNotAuthorized, msg.BusinessReject.Reason)
	assert.Equal(t, "unauthorized access", msg.BusinessReject.Text)
	assert.Equal(t, "ord-1", msg.BusinessReject.RefID)
	assert.Equal(t, fixml.TypeOrderRequest, msg.BusinessReject.RefMsgType)
}

func TestSnapshotReturnsSeedPrice(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)
	tc.login(t, "BOS", "BOS")

	tc.send(t, &fixml.MarketDataRequest{
		RequestID:   "md-1",
		SubReqType:  fixml.SubReqSnapshot,
		Instruments: []fixml.Instrument{{Symbol: "KGHM"}},
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.MarketDataResponse)
	assert.Equal(t, "md-1", msg.MarketDataResponse.RequestID)
	assert.Equal(t, "KGHM", msg.MarketDataResponse.Symbol)
	assert.Equal(t, "1050.00", msg.MarketDataResponse.LastPrice)
}

func TestSnapshotUnknownInstrumentRejected(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)
	tc.login(t, "BOS", "BOS")

	tc.send(t, &fixml.MarketDataRequest{
		RequestID:   "md-2",
		SubReqType:  fixml.SubReqSnapshot,
		Instruments: []fixml.Instrument{{Symbol: "NOPE"}},
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.BusinessReject)
	assert.Equal(t, "md-2", msg.BusinessReject.RefID)
}

func TestOrderAckThenFill(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)
	tc.login(t, "BOS", "BOS")

	tc.send(t, &fixml.OrderRequest{
		ClOrdID:  "ord-1",
		Symbol:   "KGHM",
		Side:     fixml.SideBuy,
		OrdType:  fixml.OrdTypeLimit,
		Price:    "1000.00",
		Quantity: "10",
	})
	msg := tc.recv(t)
	require.NotNil(t, msg.ExecutionReport)
	ack := msg.ExecutionReport
	assert.Equal(t, "ord-1", ack.ClOrdID)
	assert.Equal(t, fixml.ExecTypeNew, ack.ExecType)
	assert.Equal(t, fixml.OrdStatusNew, ack.OrdStatus)
	assert.NotEmpty(t, ack.OrderID)

	// A tick through the limit price triggers the fill
	srv.Orders().OnPriceUpdate("KGHM", 900.00)

	msg = tc.recv(t)
	require.NotNil(t, msg.ExecutionReport)
	fill := msg.ExecutionReport
	assert.Equal(t, "ord-1", fill.ClOrdID)
	assert.Equal(t, ack.OrderID, fill.OrderID)
	assert.Equal(t, fixml.ExecTypeTransaction, fill.ExecType)
	assert.Equal(t, fixml.OrdStatusDone, fill.OrdStatus)
	assert.Equal(t, "900.00", fill.LastPrice)
	assert.Equal(t, "10", fill.LastQuantity)
}

func TestFillsNotLeakedAcrossUsers(t *testing.T) {
	srv := New(&config.Config{
		Users:         map[string]string{"BOS": "BOS", "EVE": "EVE"},
		Instruments:   map[string]float64{"KGHM": 1050.00},
		DefaultSymbol: "KGHM",
		TickInterval:  time.Hour,
		TickJitterPct: 2.0,
	}, zap.NewNop())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	owner := dialVenue(t, srv)
	owner.login(t, "BOS", "BOS")
	other := dialVenue(t, srv)
	other.login(t, "EVE", "EVE")

	owner.send(t, &fixml.OrderRequest{
		ClOrdID: "ord-1", Symbol: "KGHM",
		Side: fixml.SideBuy, OrdType: fixml.OrdTypeMarket, Quantity: "5",
	})
	require.NotNil(t, owner.recv(t).ExecutionReport)

	srv.Orders().OnPriceUpdate("KGHM", 1000.00)

	msg := owner.recv(t)
	require.NotNil(t, msg.ExecutionReport)
	assert.Equal(t, fixml.ExecTypeTransaction, msg.ExecutionReport.ExecType)

	// The other session must see nothing
	require.NoError(t, other.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := other.framer.ReadFrame()
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestSubscribeDeliversTicks(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)
	tc.login(t, "BOS", "BOS")

	tc.send(t, &fixml.MarketDataRequest{
		RequestID:   "sub-1",
		SubReqType:  fixml.SubReqSubscribe,
		Instruments: []fixml.Instrument{{Symbol: "KGHM"}},
	})
	snap := tc.recv(t)
	require.NotNil(t, snap.MarketDataResponse)
	assert.Equal(t, "sub-1", snap.MarketDataResponse.RequestID)

	srv.MarketData().PublishPrice("KGHM", 1077.25)

	tick := tc.recv(t)
	require.NotNil(t, tick.MarketDataResponse)
	assert.Equal(t, "sub-1", tick.MarketDataResponse.RequestID)
	assert.Equal(t, "KGHM", tick.MarketDataResponse.Symbol)
	assert.Equal(t, "1077.25", tick.MarketDataResponse.LastPrice)

	tc.send(t, &fixml.MarketDataRequest{RequestID: "sub-1", SubReqType: fixml.SubReqUnsubscribe})
	ack := tc.recv(t)
	require.NotNil(t, ack.MarketDataResponse)
	assert.Equal(t, 0, srv.MarketData().SubscriptionCount())
}

func TestSecurityListAll(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)
	tc.login(t, "BOS", "BOS")

	tc.send(t, &fixml.SecurityListRequest{RequestID: "sec-1", ListType: fixml.SecListReqAll})
	msg := tc.recv(t)
	require.NotNil(t, msg.SecurityList)
	assert.Equal(t, "sec-1", msg.SecurityList.RequestID)
	assert.Equal(t, "Y", msg.SecurityList.LastFragment)
	require.Len(t, msg.SecurityList.Securities, 2)
	assert.Equal(t, "KGHM", msg.SecurityList.Securities[0].Symbol)
	assert.Equal(t, "PKO", msg.SecurityList.Securities[1].Symbol)
}

func TestMalformedPayloadKeepsSessionOpen(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)

	require.NoError(t, tc.framer.WriteFrame([]byte("this is not xml")))
	msg := tc.recv(t)
	require.NotNil(t, msg.BusinessReject)
	assert.Equal(t, fixml.RejectReasonOther, msg.BusinessReject.Reason)

	resp := tc.login(t, "BOS", "BOS")
	assert.Equal(t, fixml.UserStatusLoggedIn, resp.UserStatus)
}

func TestRegistryCountsAuthenticatedOnly(t *testing.T) {
	srv := startTestServer(t)

	anon := dialVenue(t, srv)
	auth := dialVenue(t, srv)
	auth.login(t, "BOS", "BOS")

	require.Eventually(t, func() bool {
		return srv.Registry().Count() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Registry().ActiveCount())

	anon.conn.Close()
	require.Eventually(t, func() bool {
		return srv.Registry().Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	srv := startTestServer(t)
	tc := dialVenue(t, srv)
	tc.login(t, "BOS", "BOS")

	tc.send(t, &fixml.MarketDataRequest{
		RequestID:   "sub-1",
		SubReqType:  fixml.SubReqSubscribe,
		Instruments: []fixml.Instrument{{Symbol: "KGHM"}},
	})
	tc.recv(t)
	require.Equal(t, 1, srv.MarketData().SubscriptionCount())

	tc.conn.Close()
	require.Eventually(t, func() bool {
		return srv.MarketData().SubscriptionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
