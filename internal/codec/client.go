package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/preference-engine/internal/generator"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// Full method names on the remote inference service. Requests and responses
// are google.protobuf.Struct messages.
const (
	methodGenerate = "/preference.InferenceService/Generate"
	methodEmbed    = "/preference.InferenceService/Embed"
)

// #region service
// InferenceService is the RPC surface the client depends on.
type InferenceService interface {
	Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Embed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type inferenceServiceClient struct {
	cc grpc.ClientConnInterface
}

func (c *inferenceServiceClient) Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGenerate, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *inferenceServiceClient) Embed(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodEmbed, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service

// #region client-struct
// CodecClient wraps the gRPC connection to the remote inference service. It
// satisfies both the contrast generator and the embedder interfaces.
type CodecClient struct {
	conn   *grpc.ClientConn
	client InferenceService
	name   string
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the inference gRPC server.
func NewCodecClient(addr string) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{
		conn:   conn,
		client: &inferenceServiceClient{cc: conn},
		name:   addr,
	}, nil
}

// NewCodecClientWithService creates a CodecClient with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewCodecClientWithService(svc InferenceService, name string) *CodecClient {
	return &CodecClient{client: svc, name: name}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region generate
// Generate asks the service for a response to prompt written in the style of
// profile. The style instruction travels alongside the raw trait values so the
// service may use either.
func (c *CodecClient) Generate(ctx context.Context, prompt string, profile trait.Vector) (string, error) {
	traits := make(map[string]interface{}, trait.Count)
	for name, v := range profile.Map() {
		traits[name] = v
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"prompt":      prompt,
		"traits":      traits,
		"instruction": generator.Instruction(profile),
	})
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}

	resp, err := c.client.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate rpc: %w", err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("generate rpc: response has no text field")
	}
	return text.GetStringValue(), nil
}

// #endregion generate

// #region embed
// Embed sends text to the inference service for embedding.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float64, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"text": text})
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	resp, err := c.client.Embed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	values := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, fmt.Errorf("embed rpc: empty embedding")
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.GetNumberValue()
	}
	return out, nil
}

// ID identifies embeddings produced by this service.
func (c *CodecClient) ID() string {
	return "codec:" + c.name
}

// #endregion embed
