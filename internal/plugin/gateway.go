package plugin

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/felixgeelhaar/termax/internal/provider"
)

// The gateway service exchanges google.protobuf.Struct values so plugins
// need no generated code.
const (
	serviceName = "termax.plugin.Gateway"
	chatMethod  = "/" + serviceName + "/Chat"
	nameMethod  = "/" + serviceName + "/Name"
)

type gatewayService interface {
	Chat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Name(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*gatewayService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Chat", Handler: unaryHandler(chatMethod, gatewayService.Chat)},
		{MethodName: "Name", Handler: unaryHandler(nameMethod, gatewayService.Name)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "termax/plugin/gateway.proto",
}

func unaryHandler(method string, call func(gatewayService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(gatewayService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(gatewayService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// gatewayServer is the plugin side: it decodes requests for the local provider.
type gatewayServer struct {
	impl provider.Provider
}

func (s *gatewayServer) Chat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	messages, err := decodeMessages(in)
	if err != nil {
		return nil, err
	}
	resp, err := s.impl.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"content":           resp.Content,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	})
}

func (s *gatewayServer) Name(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"name": s.impl.Name()})
}

// GatewayClient is the host side. It implements provider.Provider.
type GatewayClient struct {
	conn grpc.ClientConnInterface
	kill func()
}

func (c *GatewayClient) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	in, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, chatMethod, in, out); err != nil {
		return nil, fmt.Errorf("plugin: %w: %w", provider.ErrGeneration, err)
	}

	fields := out.GetFields()
	return &provider.Response{
		Content: fields["content"].GetStringValue(),
		Usage: provider.Usage{
			PromptTokens:     int(fields["prompt_tokens"].GetNumberValue()),
			CompletionTokens: int(fields["completion_tokens"].GetNumberValue()),
			TotalTokens:      int(fields["total_tokens"].GetNumberValue()),
		},
	}, nil
}

// Name asks the plugin for its name, falling back to "plugin".
func (c *GatewayClient) Name() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, nameMethod, &structpb.Struct{}, out); err != nil {
		return "plugin"
	}
	if name := out.GetFields()["name"].GetStringValue(); name != "" {
		return "plugin:" + name
	}
	return "plugin"
}

func (c *GatewayClient) Close() error {
	if c.kill != nil {
		c.kill()
	}
	return nil
}

func encodeMessages(messages []provider.Message) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		list = append(list, map[string]interface{}{"role": m.Role, "content": m.Content})
	}
	return structpb.NewStruct(map[string]interface{}{"messages": list})
}

func decodeMessages(in *structpb.Struct) ([]provider.Message, error) {
	list := in.GetFields()["messages"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("request has no messages")
	}
	messages := make([]provider.Message, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("message %d is not an object", i)
		}
		messages = append(messages, provider.Message{
			Role:    fields["role"].GetStringValue(),
			Content: fields["content"].GetStringValue(),
		})
	}
	return messages, nil
}
