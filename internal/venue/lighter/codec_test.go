package lighter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/xarbfeed/internal/market"
)

type captureSink struct {
	metadata []market.MetadataEntry
	snaps    []market.OrderBookSnapshot
	deltas   []market.OrderBookDelta
	tickers  []market.Ticker
	orders   []market.Order
}

func (s *captureSink) OnMetadata(_ string, entries []market.MetadataEntry) {
	s.metadata = append(s.metadata, entries...)
}
func (s *captureSink) OnTicker(t market.Ticker) { s.tickers = append(s.tickers, t) }
func (s *captureSink) OnOrderBookSnapshot(v market.OrderBookSnapshot) {
	s.snaps = append(s.snaps, v)
}
func (s *captureSink) OnOrderBookDelta(v market.OrderBookDelta) { s.deltas = append(s.deltas, v) }
func (s *captureSink) OnOrderUpdate(v market.Order)             { s.orders = append(s.orders, v) }
func (s *captureSink) OnPositionUpdate(market.Position)         {}
func (s *captureSink) OnBalanceUpdate(market.BalanceEntry)      {}
func (s *captureSink) OnTrade(market.TradeUpdate)               {}

func TestEncodeSendTxBatch(t *testing.T) {
	frame, err := EncodeSendTxBatch("req-1", []string{"create_order"}, []string{"signed-payload"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"jsonapi/sendtxbatch","data":{"id":"req-1","tx_types":["create_order"],"tx_infos":["signed-payload"]}}`, string(frame))
}

func TestDecodeSendTxBatchResponse_Success(t *testing.T) {
	resp, err := DecodeSendTxBatchResponse([]byte(`{"id":"req-1","status":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestDecodeSendTxBatchResponse_Error(t *testing.T) {
	resp, err := DecodeSendTxBatchResponse([]byte(`{"id":"req-2","error":{"code":23000,"message":"rate limited"}}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, 23000, resp.Error.Code)
}

func TestCodec_DecodeMetadataThenCompactOrderSchema(t *testing.T) {
	c := New("lighter")
	sink := &captureSink{}

	meta := []byte(`{"type":"metadata","data":[{"canonical":"BTC-USDC-PERP","native":"BTC-PERP","contract_id":"1","price_decimals":2,"size_decimals":4}]}`)
	require.NoError(t, c.Decode(meta, sink))
	require.Len(t, sink.metadata, 1)
	assert.Equal(t, 2, c.decimals["BTC-USDC-PERP"])

	order := []byte(`{"type":"account_update","data":{"symbol":"BTC-USDC-PERP","i":42,"u":1700000000123,"is":100000,"rs":40000,"p":5012345,"ia":true,"st":3}}`)
	require.NoError(t, c.Decode(order, sink))
	require.Len(t, sink.orders, 1)

	o := sink.orders[0]
	assert.Equal(t, "42", o.OrderID)
	assert.Equal(t, "1700000000123", o.ClientID)
	assert.Equal(t, market.SideSell, o.Side)
	assert.InDelta(t, 50123.45, o.Price, 1e-9)
	assert.InDelta(t, 60000.0, o.Filled, 1e-9)
	assert.Equal(t, market.OrderStatusOpen, o.Status)
}

func TestCodec_AccountUpdate_DeduplicatesIdenticalPush(t *testing.T) {
	c := New("lighter")
	c.SetSymbolDecimals("BTC-USDC-PERP", 0)
	sink := &captureSink{}

	frame := []byte(`{"type":"account_update","data":{"symbol":"BTC-USDC-PERP","i":1,"u":2,"is":10,"rs":10,"p":100,"ia":false,"st":1}}`)
	require.NoError(t, c.Decode(frame, sink))
	require.NoError(t, c.Decode(frame, sink))
	assert.Len(t, sink.orders, 1)
}

func TestCodec_DecodeOrderBookSnapshotAndTicker(t *testing.T) {
	c := New("lighter")
	sink := &captureSink{}

	snap := []byte(`{"type":"order_book_snapshot","data":{"symbol":"ETH-USDC-PERP","bids":[["3000","2"]],"asks":[["3010","1"]],"version":5}}`)
	require.NoError(t, c.Decode(snap, sink))
	require.Len(t, sink.snaps, 1)

	ticker := []byte(`{"type":"ticker","data":{"symbol":"ETH-USDC-PERP","last":3005,"funding_rate":0.00005}}`)
	require.NoError(t, c.Decode(ticker, sink))
	require.Len(t, sink.tickers, 1)
	assert.InDelta(t, 0.0004, sink.tickers[0].FundingRate8h, 1e-12) // ×8 from a 1h cycle
}

func TestCodec_DecodeOrderBookUpdate_ObjectFormLevels(t *testing.T) {
	c := New("lighter")
	sink := &captureSink{}

	update := []byte(`{"type":"order_book_update","data":{"symbol":"ETH-USDC-PERP","bids":[{"price":"3001.5","size":"0.25"}],"asks":[],"version":6}}`)
	require.NoError(t, c.Decode(update, sink))
	require.Len(t, sink.deltas, 1)
	assert.Equal(t, 3001.5, sink.deltas[0].Bids[0].Price)
	assert.Equal(t, 0.25, sink.deltas[0].Bids[0].Size)
}

func TestIsPingPongAck(t *testing.T) {
	c := New("lighter")
	assert.True(t, c.IsPing([]byte(`{"type":"ping"}`)))
	assert.True(t, c.IsPong([]byte(`{"type":"pong"}`)))
	assert.True(t, c.IsSubscriptionAck([]byte(`{"type":"subscribed"}`)))
}
