package payroll

import "errors"

var (
	// ErrZeroSalary は年間給与に 0 が指定された場合に返却されます。
	ErrZeroSalary = errors.New("payroll: zero salary")
	// ErrPaydayNotDue は前回の支給から支給周期が経過していない場合に返却されます。
	ErrPaydayNotDue = errors.New("payroll: payday not due")
	// ErrEscapeAborted は強制送金が失敗し緊急引き出しを中断した場合に返却されます。
	ErrEscapeAborted = errors.New("payroll: escape hatch aborted")
	// ErrPersist は台帳の永続化に失敗した場合に返却されます。
	ErrPersist = errors.New("payroll: persist ledger")
)
