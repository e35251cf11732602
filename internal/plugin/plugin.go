// Package plugin lets external binaries serve a model gateway over
// hashicorp/go-plugin's gRPC transport.
package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	"github.com/felixgeelhaar/termax/internal/provider"
)

// HandshakeConfig is used to handshake between host and plugin.
var HandshakeConfig = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TERMAX_PLUGIN_MAGIC_COOKIE",
	MagicCookieValue: "termax-gateway",
}

const gatewayName = "gateway"

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]hcplugin.Plugin{
	gatewayName: &GatewayPlugin{},
}

func init() {
	provider.Register("plugin", func(_ context.Context, s provider.Settings) (provider.Provider, error) {
		if s.Plugin.Path == "" {
			return nil, provider.Unavailable("plugin", "plugin.path is not set")
		}
		return Open(s.Plugin)
	})
}

// GatewayPlugin implements hcplugin.GRPCPlugin for a provider.Provider.
type GatewayPlugin struct {
	hcplugin.Plugin
	Impl provider.Provider
}

func (p *GatewayPlugin) GRPCServer(_ *hcplugin.GRPCBroker, s *grpc.Server) error {
	s.RegisterService(&gatewayServiceDesc, &gatewayServer{impl: p.Impl})
	return nil
}

func (p *GatewayPlugin) GRPCClient(_ context.Context, _ *hcplugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return &GatewayClient{conn: c}, nil
}

// Serve runs impl as a plugin. It is meant to be called from a plugin
// binary's main and does not return.
func Serve(impl provider.Provider) {
	hcplugin.Serve(&hcplugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hcplugin.Plugin{
			gatewayName: &GatewayPlugin{Impl: impl},
		},
		GRPCServer: hcplugin.DefaultGRPCServer,
	})
}

// Open launches the plugin binary and dispenses its gateway. Close kills
// the process.
func Open(cfg provider.PluginConfig) (*GatewayClient, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(cfg.Path, cfg.Args...), // #nosec G204
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolGRPC},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "plugin",
			Output: os.Stderr,
			Level:  hclog.Warn,
		}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, provider.Unavailable("plugin", fmt.Sprintf("failed to start %s: %v", cfg.Path, err))
	}

	raw, err := rpcClient.Dispense(gatewayName)
	if err != nil {
		client.Kill()
		return nil, provider.Unavailable("plugin", fmt.Sprintf("failed to dispense gateway: %v", err))
	}

	gw, ok := raw.(*GatewayClient)
	if !ok {
		client.Kill()
		return nil, provider.Unavailable("plugin", fmt.Sprintf("unexpected gateway type %T", raw))
	}
	gw.kill = client.Kill
	return gw, nil
}
