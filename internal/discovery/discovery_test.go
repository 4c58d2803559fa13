package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/config"
)

func TestNewRegistrar_NoConsul(t *testing.T) {
	r, err := NewRegistrar(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, r.Register(context.Background()))
	require.NoError(t, r.Deregister(context.Background()))
}

func TestConsulRegistrar(t *testing.T) {
	req := require.New(t)
	var (
		mu         sync.Mutex
		registered map[string]any
		deregPath  string
	)
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.URL.Path == "/v1/agent/service/register":
			_ = json.NewDecoder(r.Body).Decode(&registered)
		case strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
			deregPath = r.URL.Path
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer agent.Close()

	cfg := &config.Config{
		App:    config.AppConfig{Name: "conversation-service", Port: 8085},
		Consul: config.ConsulConfig{Addr: strings.TrimPrefix(agent.URL, "http://"), Host: "10.0.0.5"},
	}
	r, err := NewRegistrar(cfg, zap.NewNop())
	req.NoError(err)

	req.NoError(r.Register(context.Background()))
	req.NoError(r.Deregister(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	req.Equal("conversation-service-10.0.0.5-8085", registered["ID"])
	req.Equal("conversation-service", registered["Name"])
	check, ok := registered["Check"].(map[string]any)
	req.True(ok)
	req.Equal("http://10.0.0.5:8085/health", check["HTTP"])
	req.Equal("/v1/agent/service/deregister/conversation-service-10.0.0.5-8085", deregPath)
}
