package rpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client 控制服务客户端
type Client struct {
	conn *grpc.ClientConn
}

// Dial 连接控制服务
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(unaryClientTracingInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call 调用 method，args 为请求字段
func (c *Client) Call(ctx context.Context, method string, args map[string]interface{}) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) Add(ctx context.Context, id, credential, endpoint string) (map[string]interface{}, error) {
	return c.Call(ctx, "Add", map[string]interface{}{"id": id, "credential": credential, "endpoint": endpoint})
}

func (c *Client) Remove(ctx context.Context, id string) (map[string]interface{}, error) {
	return c.Call(ctx, "Remove", map[string]interface{}{"id": id})
}

func (c *Client) Status(ctx context.Context, id string) (map[string]interface{}, error) {
	return c.Call(ctx, "Status", map[string]interface{}{"id": id})
}

func (c *Client) BroadcastForce(ctx context.Context, target, id string) (map[string]interface{}, error) {
	return c.Call(ctx, "BroadcastForce", map[string]interface{}{"target": target, "id": id})
}

func (c *Client) ClearForce(ctx context.Context, id string) (map[string]interface{}, error) {
	return c.Call(ctx, "ClearForce", map[string]interface{}{"id": id})
}

func (c *Client) StopAll(ctx context.Context) (map[string]interface{}, error) {
	return c.Call(ctx, "StopAll", nil)
}

func (c *Client) Send(ctx context.Context, id, text string) (map[string]interface{}, error) {
	return c.Call(ctx, "Send", map[string]interface{}{"id": id, "text": text})
}

// unaryClientTracingInterceptor 将追踪上下文注入 metadata
func unaryClientTracingInterceptor(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier(md))
	return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
}
