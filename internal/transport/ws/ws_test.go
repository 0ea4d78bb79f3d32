package ws

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
	"go.uber.org/goleak"

	"joanabot/internal/conversation"
	"joanabot/internal/transport"
	logx "joanabot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func chat() transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, sender, text string) conversation.Outcome {
		if text == "spam" {
			return conversation.Outcome{Kind: conversation.KindSilentReject}
		}
		return conversation.Outcome{Kind: conversation.KindReply, Reply: sender + ": " + text}
	})
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/ws", New(chat(), logx.Nop()))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv, "?from=alice")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(frame{Text: "spam"}))
	require.NoError(t, conn.WriteJSON(frame{Text: "tenho frango"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got transport.Reply
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "reply", got.Kind)
	assert.Equal(t, "alice: tenho frango", got.Reply, "silent outcomes produce no frame")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("texto puro")))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "alice: texto puro", got.Reply)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestMissingSenderRejected(t *testing.T) {
	srv := httptest.NewServer(New(chat(), logx.Nop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
