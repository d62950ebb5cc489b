package e2e

import (
	"chat-relay/auth"
	"chat-relay/transport/ws"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips when no relay is running.
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayURL == "" {
		s.T().Skip("RELAY_URL not set, skipping end to end suite")
	}
}

func (s *BaseRelaySuite) step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Dial opens a WebSocket as identity, with a signed token when a secret is configured.
func (s *BaseRelaySuite) Dial(name, identity string) *websocket.Conn {
	s.step(name)
	query := url.Values{}
	if s.Config.JWTSecret != "" {
		token, err := auth.GenerateToken([]byte(s.Config.JWTSecret), identity, time.Minute)
		s.Require().NoError(err)
		query.Set("token", token)
	} else {
		query.Set("userId", identity)
	}
	target := "ws" + strings.TrimPrefix(s.Config.RelayURL, "http") + "/ws?" + query.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	s.Require().NoError(err, "Failed to connect to relay at "+target)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *BaseRelaySuite) Send(conn *websocket.Conn, name string, data any) {
	raw, err := json.Marshal(data)
	s.Require().NoError(err)
	frame, err := json.Marshal(ws.Envelope{Event: name, Data: raw})
	s.Require().NoError(err)
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, frame))
}

// Await reads frames until one named name arrives and returns its data.
func (s *BaseRelaySuite) Await(conn *websocket.Conn, name string) json.RawMessage {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		s.Require().NoError(err, "waiting for "+name)
		var envelope ws.Envelope
		s.Require().NoError(json.Unmarshal(raw, &envelope))
		if envelope.Event == name {
			return envelope.Data
		}
	}
}

// AwaitRoster reads presence snapshots until one satisfies accept.
func (s *BaseRelaySuite) AwaitRoster(conn *websocket.Conn, accept func([]string) bool) []string {
	for {
		var online []string
		s.Require().NoError(json.Unmarshal(s.Await(conn, "getOnlineUsers"), &online))
		if accept(online) {
			return online
		}
	}
}

func (s *BaseRelaySuite) GrpcConn(name string) *grpc.ClientConn {
	s.step(name)
	conn, err := grpc.NewClient(s.Config.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.GRPCAddr)
	return conn
}
