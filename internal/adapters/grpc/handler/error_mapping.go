package handler

import (
	"errors"

	"github.com/ogurasousui/codex-payroll-ledger/internal/core/access"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/allocation"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/exchange"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/ledger"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/payroll"
	"github.com/ogurasousui/codex-payroll-ledger/internal/core/token"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func toStatusError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payroll.ErrPersist):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, access.ErrNoPrincipal):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, access.ErrUnauthorized), errors.Is(err, exchange.ErrNotOracle):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, access.ErrInvalidAddress),
		errors.Is(err, ledger.ErrInvalidToken),
		errors.Is(err, ledger.ErrInvalidRate),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, payroll.ErrZeroSalary),
		errors.Is(err, allocation.ErrArityMismatch),
		errors.Is(err, allocation.ErrDuplicateToken),
		errors.Is(err, allocation.ErrDistributionNotComplete),
		errors.Is(err, exchange.ErrInvalidToken),
		errors.Is(err, exchange.ErrInvalidRate),
		errors.Is(err, exchange.ErrInvalidOracle),
		errors.Is(err, access.ErrInvalidOwner):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ledger.ErrUnknownEmployee), errors.Is(err, token.ErrUnknownAsset):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, allocation.ErrRateUnavailable),
		errors.Is(err, allocation.ErrReallocationNotDue),
		errors.Is(err, payroll.ErrPaydayNotDue):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, payroll.ErrEscapeAborted):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStatusErrorWithReport は err をステータスに変換し、実行済みの送金を含む report を詳細として添付します。
func toStatusErrorWithReport(err error, report *payroll.Report) error {
	st := status.Convert(toStatusError(err))
	if report == nil {
		return st.Err()
	}
	detail, derr := structpb.NewStruct(map[string]any{"report": reportToMap(report)})
	if derr != nil {
		return st.Err()
	}
	withReport, derr := st.WithDetails(detail)
	if derr != nil {
		return st.Err()
	}
	return withReport.Err()
}

// ReportFromError は Payday や EscapeHatch が失敗した際のステータスに添付された支給レポートを返します。
func ReportFromError(err error) (*structpb.Struct, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			if _, has := s.GetFields()["report"]; has {
				return s, true
			}
		}
	}
	return nil, false
}
