package server

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/transport/ws"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"
)

const testSecret = "server-test-secret-of-some-length"

func newTestServer(t *testing.T, authenticator contract.Authenticator) *httptest.Server {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, 10*time.Millisecond),
		mocks.NewMockMessageStatusRepository(ctrl), metrics, runtime.OrchestratorConfig{
			Session: runtime.SessionConfig{
				OutboundBuffer: 16, InboundBuffer: 4, PingPeriod: time.Hour,
				InboundRate: rate.Inf, InboundBurst: 1,
			},
			DurableSendTimeout: 50 * time.Millisecond,
			StoreTimeout:       time.Second,
			NotifyInterval:     5 * time.Millisecond,
			NotifyMaxElapsed:   50 * time.Millisecond,
			PublishTimeout:     time.Second,
			SampleInterval:     time.Hour,
			SaturationRatio:    0.9,
		})
	require.NoError(t, orchestrator.Start(context.Background()))

	handler := NewHandler(log, orchestrator, authenticator, nil,
		ws.Options{WriteWait: time.Second, PongWait: time.Minute, MaxMessageSize: 4096})
	server := httptest.NewServer(NewRouter(handler, registry))
	t.Cleanup(func() {
		orchestrator.Stop()
		server.Close()
	})
	return server
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
}

// readUntil returns the data of the first frame named event.
func readUntil(t *testing.T, conn *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var envelope ws.Envelope
		require.NoError(t, json.Unmarshal(raw, &envelope))
		if envelope.Event == name {
			return envelope.Data
		}
	}
}

func TestWebSocket_Presence_And_Typing(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t, auth.NewQueryAuthenticator())

	// Given alice then bob connect
	alice, _, err := websocket.DefaultDialer.Dial(wsURL(server, "userId=alice"), nil)
	req.NoError(err)
	defer alice.Close()
	bob, _, err := websocket.DefaultDialer.Dial(wsURL(server, "userId=bob"), nil)
	req.NoError(err)
	defer bob.Close()

	// Then bob eventually sees both of them online
	for {
		var online []string
		req.NoError(json.Unmarshal(readUntil(t, bob, "getOnlineUsers"), &online))
		if len(online) == 2 {
			req.Equal([]string{"alice", "bob"}, online)
			break
		}
	}

	// When bob types to alice
	req.NoError(bob.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{"recipientId":"alice"}}`)))

	// Then alice receives the typing event from bob
	req.JSONEq(`{"senderId":"bob"}`, string(readUntil(t, alice, "typing")))
}

func TestPresence_Endpoint(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t, auth.NewQueryAuthenticator())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "userId=carol"), nil)
	req.NoError(err)
	defer conn.Close()
	readUntil(t, conn, "getOnlineUsers")

	resp, err := http.Get(server.URL + "/presence")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var body presenceResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Equal([]string{"carol"}, body.Online)
}

func TestWebSocket_Invalid_Token_Rejected(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t, auth.NewTokenAuthenticator(testSecret))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "token=forged"), nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	presence, err := http.Get(server.URL + "/presence")
	req.NoError(err)
	defer presence.Body.Close()
	raw, err := io.ReadAll(presence.Body)
	req.NoError(err)
	req.JSONEq(`{"online":[]}`, string(raw))
}

func TestWebSocket_Valid_Token_Accepted(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t, auth.NewTokenAuthenticator(testSecret))
	token, err := auth.GenerateToken([]byte(testSecret), "dave", time.Minute)
	req.NoError(err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "token="+token), nil)
	req.NoError(err)
	defer conn.Close()

	var online []string
	req.NoError(json.Unmarshal(readUntil(t, conn, "getOnlineUsers"), &online))
	req.Equal([]string{"dave"}, online)
}

func TestHealth_And_Metrics(t *testing.T) {
	req := require.New(t)
	server := newTestServer(t, auth.NewQueryAuthenticator())

	health, err := http.Get(server.URL + "/healthz")
	req.NoError(err)
	_ = health.Body.Close()
	req.Equal(http.StatusOK, health.StatusCode)

	metrics, err := http.Get(server.URL + "/metrics")
	req.NoError(err)
	defer metrics.Body.Close()
	raw, err := io.ReadAll(metrics.Body)
	req.NoError(err)
	req.Contains(string(raw), "chat_relay_open_sessions")
}
