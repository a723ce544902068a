package handler

import (
	"context"
	"math/big"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	"google.golang.org/protobuf/types/known/structpb"
)

// PayrollUseCase は給与台帳の操作です。payroll.Controller が実装します。
type PayrollUseCase interface {
	AddEmployee(ctx context.Context, addr access.Address, yearlyUSDSalary *big.Int) (*ledger.Employee, error)
	SetEmployeeAddress(ctx context.Context, id ledger.ID, newAddr access.Address) error
	ChangeAddress(ctx context.Context, newAddr access.Address) error
	SetEmployeeSalary(ctx context.Context, id ledger.ID, yearlyUSDSalary *big.Int) (*ledger.Employee, error)
	RemoveEmployee(ctx context.Context, id ledger.ID) error
	DetermineAllocation(ctx context.Context, tokens []access.Address, basisPoints []uint32) (*ledger.Employee, error)
	Payday(ctx context.Context) (*payroll.Report, error)
	EscapeHatch(ctx context.Context, forced bool) (*payroll.Report, error)
	CalculatePayrollBurnrate(ctx context.Context) (*big.Int, error)
	CalculatePayrollRunway(ctx context.Context) (*payroll.Runway, error)
	TransferOwnership(ctx context.Context, newOwner access.Address) error
	Employee(id ledger.ID) (*ledger.Employee, error)
	EmployeeByAddress(addr access.Address) (*ledger.Employee, error)
	Employees() []*ledger.Employee
	NextEmployeeID() ledger.ID
	Owner() access.Address
}

// ExchangeUseCase はオラクルが管理するレート表の操作です。exchange.Oracle が実装します。
type ExchangeUseCase interface {
	SetExchangeRate(ctx context.Context, token access.Address, rate *big.Int) error
	SetOracle(ctx context.Context, oracle access.Address) error
	OracleAddress() access.Address
	RateOf(token access.Address) *big.Int
	AvailableTokens() []access.Address
}

// PayrollGrpcHandler は PayrollService の gRPC 実装です。
type PayrollGrpcHandler struct {
	svc   PayrollUseCase
	rates ExchangeUseCase
}

var _ PayrollServer = (*PayrollGrpcHandler)(nil)

// NewPayrollGrpcHandler は PayrollGrpcHandler を生成します。
func NewPayrollGrpcHandler(svc PayrollUseCase, rates ExchangeUseCase) *PayrollGrpcHandler {
	return &PayrollGrpcHandler{svc: svc, rates: rates}
}

func empty() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

func employeeResponse(e *ledger.Employee) (*structpb.Struct, error) {
	return newStruct(map[string]any{"employee": employeeToMap(e)})
}

// AddEmployee は従業員を登録します。
func (h *PayrollGrpcHandler) AddEmployee(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr, err := addressField(req, "address")
	if err != nil {
		return nil, err
	}
	salary, err := amountField(req, "yearly_usd_salary")
	if err != nil {
		return nil, err
	}

	created, err := h.svc.AddEmployee(ctx, addr, salary)
	if err != nil {
		return nil, toStatusError(err)
	}
	return employeeResponse(created)
}

// SetEmployeeAddress は管理者が従業員のアドレスを変更します。
func (h *PayrollGrpcHandler) SetEmployeeAddress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	addr, err := addressField(req, "address")
	if err != nil {
		return nil, err
	}

	if err := h.svc.SetEmployeeAddress(ctx, id, addr); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// ChangeAddress は従業員本人が自分のアドレスを変更します。
func (h *PayrollGrpcHandler) ChangeAddress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr, err := addressField(req, "address")
	if err != nil {
		return nil, err
	}

	if err := h.svc.ChangeAddress(ctx, addr); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// SetEmployeeSalary は年間給与を変更します。
func (h *PayrollGrpcHandler) SetEmployeeSalary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}
	salary, err := amountField(req, "yearly_usd_salary")
	if err != nil {
		return nil, err
	}

	updated, err := h.svc.SetEmployeeSalary(ctx, id, salary)
	if err != nil {
		return nil, toStatusError(err)
	}
	return employeeResponse(updated)
}

// RemoveEmployee は従業員を削除します。
func (h *PayrollGrpcHandler) RemoveEmployee(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := idField(req, "id")
	if err != nil {
		return nil, err
	}

	if err := h.svc.RemoveEmployee(ctx, id); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// GetEmployee は id または address で従業員を取得します。
func (h *PayrollGrpcHandler) GetEmployee(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		emp *ledger.Employee
		err error
	)
	if _, ok := field(req, "address"); ok {
		addr, ferr := addressField(req, "address")
		if ferr != nil {
			return nil, ferr
		}
		emp, err = h.svc.EmployeeByAddress(addr)
	} else {
		id, ferr := idField(req, "id")
		if ferr != nil {
			return nil, invalidArgument("id or address is required")
		}
		emp, err = h.svc.Employee(id)
	}
	if err != nil {
		return nil, toStatusError(err)
	}
	return employeeResponse(emp)
}

// ListEmployees は在籍中の従業員を ID 昇順で返します。
func (h *PayrollGrpcHandler) ListEmployees(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	employees := h.svc.Employees()
	items := make([]any, 0, len(employees))
	for _, e := range employees {
		items = append(items, employeeToMap(e))
	}
	return newStruct(map[string]any{
		"employees":        items,
		"employee_count":   len(employees),
		"next_employee_id": uint64(h.svc.NextEmployeeID()),
		"owner":            string(h.svc.Owner()),
	})
}

// DetermineAllocation は従業員本人が給与のトークン配分を決定します。
func (h *PayrollGrpcHandler) DetermineAllocation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tokens, err := addressListField(req, "tokens")
	if err != nil {
		return nil, err
	}
	bps, err := basisPointsField(req, "basis_points")
	if err != nil {
		return nil, err
	}

	updated, err := h.svc.DetermineAllocation(ctx, tokens, bps)
	if err != nil {
		return nil, toStatusError(err)
	}
	return employeeResponse(updated)
}

// Payday は従業員本人への月次支給を実行します。
func (h *PayrollGrpcHandler) Payday(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	report, err := h.svc.Payday(ctx)
	if err != nil {
		return nil, toStatusErrorWithReport(err, report)
	}
	return newStruct(map[string]any{"report": reportToMap(report)})
}

// EscapeHatch は支払い口座の全残高を管理者へ引き出します。
// 失敗時も実行済みの送金はステータスの詳細に支給レポートとして添付されます。
func (h *PayrollGrpcHandler) EscapeHatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	forced, err := boolField(req, "forced")
	if err != nil {
		return nil, err
	}

	report, err := h.svc.EscapeHatch(ctx, forced)
	if err != nil {
		return nil, toStatusErrorWithReport(err, report)
	}
	return newStruct(map[string]any{"report": reportToMap(report)})
}

// CalculatePayrollBurnrate は月額の給与コストを返します。
func (h *PayrollGrpcHandler) CalculatePayrollBurnrate(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	burnrate, err := h.svc.CalculatePayrollBurnrate(ctx)
	if err != nil {
		return nil, toStatusError(err)
	}
	return newStruct(map[string]any{"monthly_usd": amountString(burnrate)})
}

// CalculatePayrollRunway は支払い口座の残高で支給を続けられる日数を返します。
func (h *PayrollGrpcHandler) CalculatePayrollRunway(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	runway, err := h.svc.CalculatePayrollRunway(ctx)
	if err != nil {
		return nil, toStatusError(err)
	}
	return newStruct(map[string]any{"runway": runwayToMap(runway)})
}

// TransferOwnership は管理者を交代します。
func (h *PayrollGrpcHandler) TransferOwnership(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, err := addressField(req, "new_owner")
	if err != nil {
		return nil, err
	}

	if err := h.svc.TransferOwnership(ctx, owner); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// SetExchangeRate はオラクルがトークンのレートを設定します。
func (h *PayrollGrpcHandler) SetExchangeRate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token, err := addressField(req, "token")
	if err != nil {
		return nil, err
	}
	rate, err := amountField(req, "rate")
	if err != nil {
		return nil, err
	}

	if err := h.rates.SetExchangeRate(ctx, token, rate); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// SetOracle は管理者がオラクルを交代します。
func (h *PayrollGrpcHandler) SetOracle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	oracle, err := addressField(req, "oracle")
	if err != nil {
		return nil, err
	}

	if err := h.rates.SetOracle(ctx, oracle); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// ListExchangeRates はレート設定済みのトークンを設定順で返します。
func (h *PayrollGrpcHandler) ListExchangeRates(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tokens := h.rates.AvailableTokens()
	items := make([]any, 0, len(tokens))
	for _, t := range tokens {
		items = append(items, map[string]any{
			"token": string(t),
			"rate":  amountString(h.rates.RateOf(t)),
		})
	}
	return newStruct(map[string]any{
		"oracle": string(h.rates.OracleAddress()),
		"rates":  items,
	})
}
