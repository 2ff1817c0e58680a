package grpcclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/skin-check/internal/classifier"
	"github.com/example/skin-check/internal/logging"
	"github.com/example/skin-check/internal/prediction"
)

// ClassifyMethod is the full gRPC method name of the inference service.
const ClassifyMethod = "/skincheck.v1.Classifier/Classify"

// DialClassifier returns a ready-to-use gRPC client for the inference service.
func DialClassifier(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (classifier.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewClient(conn, timeout, logger), conn, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) classifier.Client {
	return &grpcClassifier{conn: conn, timeout: timeout, logger: logger.Named("classifier")}
}

type grpcClassifier struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

func (g *grpcClassifier) Classify(ctx context.Context, requestID string, image []byte, mimeType string) (*prediction.Result, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"request_id": requestID,
		"image":      base64.StdEncoding.EncodeToString(image),
		"mime_type":  mimeType,
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.build_request", requestID, err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ClassifyMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", requestID, err)
		g.logger.Error("classifier call failed", zap.Error(wrapped), zap.Int("image_bytes", len(image)))
		return nil, wrapped
	}

	result, err := decodeResult(resp)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.decode_result", requestID, err)
		g.logger.Warn("classifier returned an unusable payload", zap.Error(wrapped))
		return nil, wrapped
	}
	return result, nil
}

// decodeResult maps the Struct payload onto prediction.Result through its
// JSON form, then enforces the upstream contract.
func decodeResult(resp *structpb.Struct) (*prediction.Result, error) {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var result prediction.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if err := prediction.Validate(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
