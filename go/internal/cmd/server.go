package main

import (
	"net/http"

	"github.com/mcdev12/rendezvous/go/internal/config"
	"github.com/mcdev12/rendezvous/go/internal/gateway"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	handlers := gateway.NewHandlers(services.Coordinator, services.Engine, services.Hub)
	return gateway.NewServer(gateway.ServerConfig{
		Addr:           cfg.GatewayAddr,
		AllowedOrigins: cfg.CORSOrigins,
	}, handlers)
}
