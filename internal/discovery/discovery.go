package discovery

import (
	"context"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/config"
)

// Registrar announces this instance to service discovery.
type Registrar interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type noopRegistrar struct{}

func (noopRegistrar) Register(context.Context) error   { return nil }
func (noopRegistrar) Deregister(context.Context) error { return nil }

type consulRegistrar struct {
	client *consulapi.Client
	reg    *consulapi.AgentServiceRegistration
	logger *zap.Logger
}

func (c *consulRegistrar) Register(ctx context.Context) error {
	opts := consulapi.ServiceRegisterOpts{}.WithContext(ctx)
	if err := c.client.Agent().ServiceRegisterOpts(c.reg, opts); err != nil {
		return fmt.Errorf("consul register %s: %w", c.reg.ID, err)
	}
	c.logger.Info("registered with consul", zap.String("service_id", c.reg.ID))
	return nil
}

func (c *consulRegistrar) Deregister(ctx context.Context) error {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	if err := c.client.Agent().ServiceDeregisterOpts(c.reg.ID, q); err != nil {
		return fmt.Errorf("consul deregister %s: %w", c.reg.ID, err)
	}
	return nil
}

// NewRegistrar uses Consul when consul.addr is set, otherwise registration is a no-op.
func NewRegistrar(cfg *config.Config, logger *zap.Logger) (Registrar, error) {
	if cfg.Consul.Addr == "" {
		return noopRegistrar{}, nil
	}
	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = cfg.Consul.Addr
	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, err
	}
	id := cfg.Consul.ServiceID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", cfg.App.Name, cfg.Consul.Host, cfg.App.Port)
	}
	return &consulRegistrar{
		client: client,
		logger: logger,
		reg: &consulapi.AgentServiceRegistration{
			ID:      id,
			Name:    cfg.App.Name,
			Address: cfg.Consul.Host,
			Port:    cfg.App.Port,
			Tags:    []string{"http", "websocket"},
			Check: &consulapi.AgentServiceCheck{
				HTTP:                           fmt.Sprintf("http://%s:%d/health", cfg.Consul.Host, cfg.App.Port),
				Interval:                       "10s",
				Timeout:                        "2s",
				DeregisterCriticalServiceAfter: "1m",
			},
		},
	}, nil
}
