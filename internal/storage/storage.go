package storage

import "costbasis/internal/model"

// ReportSink receives finished cost reports.
type ReportSink interface {
	PutReports(reports []model.CostReport) error
}
