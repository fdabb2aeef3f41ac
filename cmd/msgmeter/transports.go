package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/torosent/msgmeter/internal/config"
	"github.com/torosent/msgmeter/internal/transport"
	"github.com/torosent/msgmeter/internal/transport/coaptransport"
	"github.com/torosent/msgmeter/internal/transport/grpctransport"
	"github.com/torosent/msgmeter/internal/transport/httptransport"
	"github.com/torosent/msgmeter/internal/transport/mqtttransport"
	"github.com/torosent/msgmeter/internal/transport/wstransport"
)

// newDialer builds the sending side of cfg.Protocol.
func (a *app) newDialer(cfg *config.Config, propagate bool, log *zap.Logger) (transport.Dialer, error) {
	switch cfg.Protocol {
	case config.ProtocolHTTP, config.ProtocolHTTP3:
		h3 := cfg.Protocol == config.ProtocolHTTP3
		url, err := httptransport.TargetURL(cfg.Target, cfg.HTTP.Path, h3)
		if err != nil {
			return nil, err
		}
		return httptransport.NewDialer(httptransport.Config{
			URL:                url,
			HTTP3:              h3,
			Timeout:            cfg.Timeout,
			Propagate:          propagate,
			InsecureSkipVerify: h3,
		}), nil
	case config.ProtocolWebSocket:
		url, err := wstransport.TargetURL(cfg.Target, cfg.WebSocket.Path)
		if err != nil {
			return nil, err
		}
		return wstransport.NewDialer(wstransport.Config{
			URL:              url,
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
			PoolSize:         cfg.Concurrency,
		}), nil
	case config.ProtocolMQTT:
		return mqtttransport.NewDialer(mqttConfig(cfg, cfg.Target, log)), nil
	case config.ProtocolCoAP:
		return coaptransport.NewDialer(coaptransport.Config{Target: cfg.Target, Resource: cfg.CoAP.Resource}), nil
	case config.ProtocolGRPC:
		return grpctransport.NewDialer(grpctransport.Config{
			Target:    cfg.Target,
			Method:    cfg.GRPC.Method,
			UseTLS:    cfg.GRPC.TLS,
			Insecure:  cfg.GRPC.Insecure,
			Propagate: propagate,
		}), nil
	case config.ProtocolMemory:
		return a.memory, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

// newServer builds the receiving side of cfg.Protocol, bound to cfg.ResolvedBind().
func (a *app) newServer(cfg *config.Config, log *zap.Logger) (transport.Server, error) {
	bind := cfg.ResolvedBind()
	switch cfg.Protocol {
	case config.ProtocolHTTP, config.ProtocolHTTP3:
		return httptransport.NewServer(httptransport.ServerConfig{
			Addr:   bind,
			Path:   cfg.HTTP.Path,
			HTTP3:  cfg.Protocol == config.ProtocolHTTP3,
			Logger: log,
		}), nil
	case config.ProtocolWebSocket:
		return wstransport.NewServer(wstransport.ServerConfig{Addr: bind, Path: cfg.WebSocket.Path, Logger: log}), nil
	case config.ProtocolMQTT:
		return mqtttransport.NewServer(mqttConfig(cfg, bind, log)), nil
	case config.ProtocolCoAP:
		return coaptransport.NewServer(coaptransport.ServerConfig{Addr: bind, Resource: cfg.CoAP.Resource, Logger: log}), nil
	case config.ProtocolGRPC:
		sc := grpctransport.ServerConfig{Addr: bind, Method: cfg.GRPC.Method, Logger: log}
		if cfg.GRPC.TLS {
			tlsConf, err := transport.SelfSignedTLS()
			if err != nil {
				return nil, err
			}
			sc.TLS = tlsConf
		}
		return grpctransport.NewServer(sc), nil
	case config.ProtocolMemory:
		return a.memory.Server(), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

func mqttConfig(cfg *config.Config, broker string, log *zap.Logger) mqtttransport.Config {
	return mqtttransport.Config{
		Broker:         mqtttransport.BrokerURL(broker),
		Topic:          cfg.MQTT.Topic,
		QoS:            byte(cfg.MQTT.QoS),
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ConnectTimeout: cfg.Timeout * 5,
		Logger:         log,
	}
}
