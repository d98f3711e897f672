package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_DeliversFramesAndDropsMalformed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frames := [][]byte{
			[]byte(`{"instrument":"BTC-USD","ts":1735689600000,"open":99,"high":101,"low":98,"close":100,"volume":12.5}`),
			[]byte(`not json`),
			[]byte(`{"instrument":"BTC-USD","ts":1735693200000,"open":100,"high":102,"low":99,"close":101,"volume":8}`),
		}
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream, err := Dial(context.Background(), StreamConfig{URL: url, ReadTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	first := <-stream.Bars()
	assert.Equal(t, "BTC-USD", first.Instrument)
	assert.Equal(t, time.UnixMilli(1735689600000).UTC(), first.Timestamp)
	assert.Equal(t, 100.0, first.Close)
	assert.Equal(t, 12.5, first.Volume)

	// The malformed frame is skipped, not fatal.
	second := <-stream.Bars()
	assert.Equal(t, 101.0, second.Close)

	// Server hangup ends the loop and closes the channel.
	err = <-done
	assert.Error(t, err)
	_, open := <-stream.Bars()
	assert.False(t, open)
}
