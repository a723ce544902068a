package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName は給与台帳サービスの完全修飾名です。
const ServiceName = "payroll.v1.PayrollService"

// PayrollServer は PayrollService のサーバー実装が満たすインターフェースです。
// リクエストとレスポンスは google.protobuf.Struct で表現します。
type PayrollServer interface {
	AddEmployee(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetEmployeeAddress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeAddress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetEmployeeSalary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveEmployee(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEmployee(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEmployees(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DetermineAllocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Payday(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EscapeHatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalculatePayrollBurnrate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalculatePayrollRunway(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransferOwnership(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetExchangeRate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetOracle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListExchangeRates(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(PayrollServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, m unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return m(srv.(PayrollServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return m(srv.(PayrollServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod は name の gRPC メソッドパスを返します。
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc は PayrollService の gRPC サービス定義です。
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PayrollServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddEmployee", PayrollServer.AddEmployee),
		unary("SetEmployeeAddress", PayrollServer.SetEmployeeAddress),
		unary("ChangeAddress", PayrollServer.ChangeAddress),
		unary("SetEmployeeSalary", PayrollServer.SetEmployeeSalary),
		unary("RemoveEmployee", PayrollServer.RemoveEmployee),
		unary("GetEmployee", PayrollServer.GetEmployee),
		unary("ListEmployees", PayrollServer.ListEmployees),
		unary("DetermineAllocation", PayrollServer.DetermineAllocation),
		unary("Payday", PayrollServer.Payday),
		unary("EscapeHatch", PayrollServer.EscapeHatch),
		unary("CalculatePayrollBurnrate", PayrollServer.CalculatePayrollBurnrate),
		unary("CalculatePayrollRunway", PayrollServer.CalculatePayrollRunway),
		unary("TransferOwnership", PayrollServer.TransferOwnership),
		unary("SetExchangeRate", PayrollServer.SetExchangeRate),
		unary("SetOracle", PayrollServer.SetOracle),
		unary("ListExchangeRates", PayrollServer.ListExchangeRates),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payroll/v1/payroll.proto",
}

// RegisterPayrollServer は srv を PayrollService として登録します。
func RegisterPayrollServer(s grpc.ServiceRegistrar, srv PayrollServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client は PayrollService を呼び出す薄いクライアントです。
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient は Client を生成します。
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call は method を in を引数に呼び出します。
func (c *Client) Call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = map[string]any{}
	}
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
