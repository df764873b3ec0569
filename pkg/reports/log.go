package reports

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/biller/pkg/billing"
)

// LogReporter writes a one-line summary of each run and a warning per errored invoice
type LogReporter struct {
	logger logrus.FieldLogger
}

// NewLogReporter creates a reporter logging to logger
func NewLogReporter(logger logrus.FieldLogger) *LogReporter {
	return &LogReporter{logger: logger}
}

// ReportRun implements billing.Reporter
func (r *LogReporter) ReportRun(_ context.Context, report *billing.RunReport) error {
	log := r.logger.WithFields(logrus.Fields{
		"run_id":  report.RunID,
		"trigger": report.Trigger,
	})

	for _, result := range report.Results {
		if result.Error != "" {
			log.WithFields(logrus.Fields{
				"invoice_id": result.InvoiceID,
				"error":      result.Error,
			}).Warn("Invoice errored during billing run")
		}
	}

	log.WithFields(logrus.Fields{
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"errored":   report.Errored,
		"elapsed":   report.Elapsed.String(),
	}).Info("Billing run report")
	return nil
}
