package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// PrincipalMetadataKey は呼び出し元プリンシパルのアドレスを運ぶメタデータキーです。
const PrincipalMetadataKey = "x-payroll-principal"

// WithOutgoingPrincipal は addr を呼び出し元として送信するコンテキストを返します。
func WithOutgoingPrincipal(ctx context.Context, addr access.Address) context.Context {
	return metadata.AppendToOutgoingContext(ctx, PrincipalMetadataKey, string(addr))
}

// UnaryPrincipalInterceptor はメタデータのプリンシパルをコンテキストへ格納します。
// 認証そのものは前段 (mTLS やゲートウェイ) で行われている前提です。
func UnaryPrincipalInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(PrincipalMetadataKey); len(values) > 0 && values[0] != "" {
				ctx = access.WithPrincipal(ctx, access.Address(values[0]))
			}
		}
		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor は RPC ごとの結果コードと所要時間を記録します。
func UnaryLoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		principal, _ := access.PrincipalFromContext(ctx)
		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"principal", string(principal),
			"duration", time.Since(start),
		}
		if err != nil {
			log.Warn("grpc: request failed", append(attrs, "error", err)...)
		} else {
			log.Debug("grpc: request", attrs...)
		}
		return resp, err
	}
}
