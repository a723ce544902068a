package handler

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// 金額は 64 bit 浮動小数点に収まらないため 10 進文字列でやり取りします。

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func field(in *structpb.Struct, key string) (*structpb.Value, bool) {
	if in == nil {
		return nil, false
	}
	v, ok := in.GetFields()[key]
	if !ok {
		return nil, false
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return v, true
}

func stringField(in *structpb.Struct, key string) (string, error) {
	v, ok := field(in, key)
	if !ok {
		return "", invalidArgument("%s is required", key)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalidArgument("%s must be a string", key)
	}
	return s.StringValue, nil
}

func addressField(in *structpb.Struct, key string) (access.Address, error) {
	s, err := stringField(in, key)
	if err != nil {
		return "", err
	}
	addr, err := access.ParseAddress(s)
	if err != nil {
		return "", invalidArgument("%s: %v", key, err)
	}
	return addr, nil
}

func amountFromValue(key string, v *structpb.Value) (*big.Int, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, ok := new(big.Int).SetString(k.StringValue, 10)
		if !ok {
			return nil, invalidArgument("%s must be a base-10 integer", key)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return nil, invalidArgument("%s must be an integer; use a string for large amounts", key)
		}
		return big.NewInt(int64(f)), nil
	default:
		return nil, invalidArgument("%s must be a string or number", key)
	}
}

func amountField(in *structpb.Struct, key string) (*big.Int, error) {
	v, ok := field(in, key)
	if !ok {
		return nil, invalidArgument("%s is required", key)
	}
	return amountFromValue(key, v)
}

func uintFromValue(key string, v *structpb.Value, limit uint64) (uint64, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, invalidArgument("%s must be a number", key)
	}
	f := n.NumberValue
	if f < 0 || f != math.Trunc(f) || f > float64(limit) {
		return 0, invalidArgument("%s must be an integer between 0 and %d", key, limit)
	}
	return uint64(f), nil
}

func idField(in *structpb.Struct, key string) (ledger.ID, error) {
	v, ok := field(in, key)
	if !ok {
		return 0, invalidArgument("%s is required", key)
	}
	id, err := uintFromValue(key, v, 1<<53)
	if err != nil {
		return 0, err
	}
	return ledger.ID(id), nil
}

func boolField(in *structpb.Struct, key string) (bool, error) {
	v, ok := field(in, key)
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, invalidArgument("%s must be a bool", key)
	}
	return b.BoolValue, nil
}

func listField(in *structpb.Struct, key string) ([]*structpb.Value, error) {
	v, ok := field(in, key)
	if !ok {
		return nil, nil
	}
	l, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, invalidArgument("%s must be a list", key)
	}
	return l.ListValue.GetValues(), nil
}

func addressListField(in *structpb.Struct, key string) ([]access.Address, error) {
	values, err := listField(in, key)
	if err != nil {
		return nil, err
	}
	out := make([]access.Address, 0, len(values))
	for i, v := range values {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, invalidArgument("%s[%d] must be a string", key, i)
		}
		addr, err := access.ParseAddress(s.StringValue)
		if err != nil {
			return nil, invalidArgument("%s[%d]: %v", key, i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func basisPointsField(in *structpb.Struct, key string) ([]uint32, error) {
	values, err := listField(in, key)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(values))
	for i, v := range values {
		n, err := uintFromValue(fmt.Sprintf("%s[%d]", key, i), v, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(n))
	}
	return out, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func amountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func employeeToMap(e *ledger.Employee) map[string]any {
	allocated := make([]any, 0, len(e.AllocatedTokens))
	for _, a := range e.AllocatedTokens {
		allocated = append(allocated, map[string]any{
			"token":        string(a.Token),
			"basis_points": a.BasisPoints,
		})
	}
	pegged := make([]any, 0, len(e.PeggedTokens))
	for _, p := range e.PeggedTokens {
		pegged = append(pegged, map[string]any{
			"token": string(p.Token),
			"rate":  amountString(p.Rate),
		})
	}
	salary := make([]any, 0, len(e.SalaryTokens))
	for _, s := range e.SalaryTokens {
		salary = append(salary, map[string]any{
			"token":  string(s.Token),
			"amount": amountString(s.Amount),
		})
	}
	return map[string]any{
		"id":                   uint64(e.ID),
		"address":              string(e.Address),
		"yearly_usd_salary":    amountString(e.YearlyUSDSalary),
		"allocated_tokens":     allocated,
		"pegged_tokens":        pegged,
		"salary_tokens":        salary,
		"latest_allocation_at": formatTime(e.LatestAllocationAt),
		"latest_payday_at":     formatTime(e.LatestPaydayAt),
	}
}

func reportToMap(r *payroll.Report) map[string]any {
	entries := make([]any, 0, len(r.Entries))
	paid := 0
	for _, d := range r.Entries {
		if d.Succeeded {
			paid++
		}
		entries = append(entries, map[string]any{
			"employee_id": uint64(d.EmployeeID),
			"recipient":   string(d.Recipient),
			"token":       string(d.Token),
			"amount":      amountString(d.Amount),
			"succeeded":   d.Succeeded,
			"reason":      d.Reason,
		})
	}
	return map[string]any{
		"run_id":  r.RunID.String(),
		"kind":    string(r.Kind),
		"at":      formatTime(r.At),
		"paid":    paid,
		"skipped": len(r.Entries) - paid,
		"entries": entries,
	}
}

func runwayToMap(r *payroll.Runway) map[string]any {
	tokens := make([]any, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		tokens = append(tokens, map[string]any{
			"token":          string(t.Token),
			"balance":        amountString(t.Balance),
			"monthly_payout": amountString(t.MonthlyPayout),
			"days":           amountString(t.Days),
		})
	}
	return map[string]any{
		"days":          amountString(r.Days),
		"unconstrained": r.Unconstrained,
		"tokens":        tokens,
	}
}
