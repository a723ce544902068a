package payroll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MetricDisbursementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payroll_disbursements_total",
			Help: "Total number of token transfer attempts by payday and escape hatch runs",
		},
		[]string{"kind", "status"},
	)

	MetricOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payroll_operations_total",
			Help: "Total number of payroll operations",
		},
		[]string{"operation", "status"},
	)

	MetricActiveEmployees = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payroll_active_employees",
			Help: "Number of active employees in the ledger",
		},
	)

	MetricMonthlyBurnrate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payroll_monthly_burnrate_usd",
			Help: "Monthly payroll cost in reference currency units, as float approximation",
		},
	)
)
