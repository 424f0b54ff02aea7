package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/config"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	err       error
	connected atomic.Int32
	closed    atomic.Int32
}

func (f *fakeConnector) Connect(context.Context) error {
	f.connected.Add(1)
	return f.err
}

func (f *fakeConnector) Close() error {
	f.closed.Add(1)
	return nil
}

func TestConnectionManager_Lookup(t *testing.T) {
	cm := NewConnectionManager(zerolog.Nop())
	a, b := &fakeConnector{}, &fakeConnector{}
	cm.Register("kucoin", nil, nil, a)
	cm.Register("binance", nil, nil, b)

	assert.Equal(t, []string{"binance", "kucoin"}, cm.Providers())

	_, err := cm.SyncAPI("ftx")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	_, err = cm.StreamAPI("ftx")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	require.NoError(t, cm.Init(context.Background()))
	assert.Equal(t, int32(1), a.connected.Load())
	assert.Equal(t, int32(1), b.connected.Load())

	cm.Close()
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
}

func TestConnectionManager_InitFailure(t *testing.T) {
	cm := NewConnectionManager(zerolog.Nop())
	cm.Register("binance", nil, nil, &fakeConnector{err: errors.New("refused")})

	err := cm.Init(context.Background())
	assert.ErrorContains(t, err, "binance")
	assert.ErrorContains(t, err, "refused")
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()

	cm, err := NewFromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "kucoin"}, cm.Providers())

	for _, p := range cm.Providers() {
		syncAPI, err := cm.SyncAPI(p)
		require.NoError(t, err)
		assert.NotNil(t, syncAPI)

		streamAPI, err := cm.StreamAPI(p)
		require.NoError(t, err)
		assert.NotNil(t, streamAPI)
	}

	cfg.OrderBook.Providers = []string{"ftx"}
	_, err = NewFromConfig(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}
