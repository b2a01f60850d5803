package sdkbridge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/pkg/money"
)

func testSuite(accountID string) AccountSuite {
	return AccountSuite{
		AccountID:       accountID,
		SymbolExtractor: StripPrefix,
		SideResolver: func(flag int) domain.Side {
			if flag == 1 {
				return domain.SideLong
			}
			return domain.SideShort
		},
		OrderTypeResolver: func(flag int) domain.OrderType {
			switch flag {
			case 1:
				return domain.OrderTypeLimit
			case 2:
				return domain.OrderTypeStop
			default:
				return domain.OrderTypeMarket
			}
		},
		StatusResolver: func(flag string) domain.OrderStatus {
			switch flag {
			case "working":
				return domain.OrderStatusWorking
			case "filled":
				return domain.OrderStatusFilled
			case "cancelled":
				return domain.OrderStatusCancelled
			case "rejected":
				return domain.OrderStatusRejected
			default:
				return domain.OrderStatusWorking
			}
		},
	}
}

func newBridgeWithBus(t *testing.T) (*Bridge, *events.Bus, chan events.Event) {
	t.Helper()
	bus := events.New(zerolog.Nop(), 32)
	bus.Start()
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })

	ch := make(chan events.Event, 16)
	for _, k := range []events.Kind{
		events.PositionOpened, events.PositionUpdated, events.PositionClosed,
		events.OrderPlaced, events.OrderFilled, events.OrderCancelled, events.OrderRejected,
		events.TradeExecuted, events.SDKConnected, events.SDKDisconnected, events.AuthFailed, events.AuthSuccess,
	} {
		bus.Subscribe(k, func(e events.Event) { ch <- e })
	}

	bridge := New(zerolog.Nop(), bus, []AccountSuite{testSuite("A1")})
	return bridge, bus, ch
}

func TestOnPositionUpdate_FirstSeenIsOpened(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	bridge.OnPositionUpdate("A1", RawPosition{
		ContractID: "F.US.MNQ", RawSymbol: "F.US.MNQ", Size: 2, DirectionFlag: 1,
		EntryPrice: money.New(5000),
	})

	evt := <-ch
	assert.Equal(t, events.PositionOpened, evt.Kind)
	data := evt.Data.(events.PositionData)
	assert.Equal(t, "MNQ", data.Position.SymbolRoot)
	assert.Equal(t, domain.SideLong, data.Position.Side)
	assert.Equal(t, int64(2), data.Position.Quantity)
}

func TestOnPositionUpdate_SubsequentIsUpdated(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	raw := RawPosition{ContractID: "F.US.MNQ", RawSymbol: "F.US.MNQ", Size: 2, DirectionFlag: 1}
	bridge.OnPositionUpdate("A1", raw)
	<-ch // opened

	raw.Size = 3
	bridge.OnPositionUpdate("A1", raw)
	evt := <-ch
	assert.Equal(t, events.PositionUpdated, evt.Kind)
}

func TestOnPositionUpdate_SizeZeroAlwaysCloses(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	bridge.OnPositionUpdate("A1", RawPosition{ContractID: "C1", RawSymbol: "F.US.MNQ", Size: 1, DirectionFlag: 1})
	<-ch // opened

	bridge.OnPositionUpdate("A1", RawPosition{ContractID: "C1", RawSymbol: "F.US.MNQ", Size: 0})
	evt := <-ch
	assert.Equal(t, events.PositionClosed, evt.Kind)
}

func TestOnPositionUpdate_ExplicitRemoveAlwaysCloses(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	bridge.OnPositionUpdate("A1", RawPosition{ContractID: "C1", RawSymbol: "F.US.MNQ", Size: 1, DirectionFlag: 1})
	<-ch

	bridge.OnPositionUpdate("A1", RawPosition{ContractID: "C1", RawSymbol: "F.US.MNQ", Removed: true})
	evt := <-ch
	assert.Equal(t, events.PositionClosed, evt.Kind)
}

func TestOnOrderUpdate_StatusMapsToKind(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	bridge.OnOrderUpdate("A1", RawOrder{OrderID: "O1", ContractID: "C1", RawSymbol: "F.US.MNQ", TypeFlag: 2, DirectionFlag: 1, StatusFlag: "working"})
	evt := <-ch
	assert.Equal(t, events.OrderPlaced, evt.Kind)
	order := evt.Data.(events.OrderData).Order
	assert.Equal(t, domain.OrderTypeStop, order.Type)

	bridge.OnOrderUpdate("A1", RawOrder{OrderID: "O1", ContractID: "C1", RawSymbol: "F.US.MNQ", StatusFlag: "filled"})
	evt = <-ch
	assert.Equal(t, events.OrderFilled, evt.Kind)
}

func TestOnTradeUpdate_PublishesTradeExecuted(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	pnl := money.New(150)
	bridge.OnTradeUpdate("A1", RawTrade{
		TradeID: "T1", ContractID: "C1", RawSymbol: "F.US.MNQ", DirectionFlag: 1,
		Quantity: 1, Price: money.New(5005), RealizedPnL: &pnl, Timestamp: time.Now(),
	})
	evt := <-ch
	require.Equal(t, events.TradeExecuted, evt.Kind)
	trade := evt.Data.(events.TradeData).Trade
	assert.True(t, trade.HasRealizedPnL())
	assert.Equal(t, "MNQ", trade.SymbolRoot)
}

func TestOnConnectionStateChange_MapsAllFourStates(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)

	cases := []struct {
		state ConnectionState
		want  events.Kind
	}{
		{ConnConnected, events.SDKConnected},
		{ConnDisconnected, events.SDKDisconnected},
		{ConnAuthFailed, events.AuthFailed},
		{ConnAuthSuccess, events.AuthSuccess},
	}
	for _, c := range cases {
		bridge.OnConnectionStateChange("A1", c.state, "test")
		evt := <-ch
		assert.Equal(t, c.want, evt.Kind)
	}
}

func TestOnAccountUpdate_NeverPublishes(t *testing.T) {
	bridge, _, ch := newBridgeWithBus(t)
	bridge.OnAccountUpdate("A1", map[string]any{"balance": 1000})
	select {
	case evt := <-ch:
		t.Fatalf("account update should never publish, got %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

type fakeSink struct {
	symbol             string
	last, bid, ask     *money.Money
	calls              int
}

func (f *fakeSink) OnQuote(symbolRoot string, lastPrice, bid, ask *money.Money) {
	f.symbol, f.last, f.bid, f.ask = symbolRoot, lastPrice, bid, ask
	f.calls++
}

func TestOnQuoteUpdate_StripsPrefixAndForwards(t *testing.T) {
	bridge, _, _ := newBridgeWithBus(t)
	sink := &fakeSink{}
	price := money.New(5005)
	bridge.OnQuoteUpdate(RawQuote{RawSymbol: "F.US.MNQ", LastPrice: &price}, sink, StripPrefix)

	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, "MNQ", sink.symbol)
	assert.Equal(t, "5005.00", sink.last.String())
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "MNQ", StripPrefix("F.US.MNQ"))
	assert.Equal(t, "ES", StripPrefix("ES"))
}
