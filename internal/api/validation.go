package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/litigio/comunicasync/internal/domain"
)

func validateCreateSchedule(req CreateScheduleRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}

	mode := domain.SyncMode(req.Mode)
	switch mode {
	case domain.SyncModeByAttorneys, domain.SyncModeByParameters, domain.SyncModeManual:
	default:
		return fmt.Errorf("mode must be one of %q, %q, %q",
			domain.SyncModeByAttorneys, domain.SyncModeByParameters, domain.SyncModeManual)
	}

	if mode != domain.SyncModeManual {
		if req.CronExpression == "" {
			return fmt.Errorf("cron_expression is required")
		}
		if err := validateCron(req.CronExpression); err != nil {
			return fmt.Errorf("invalid cron_expression: %w", err)
		}
	}

	// An unknown timezone is accepted deliberately: the scheduler falls
	// back to the default zone rather than keeping the schedule dead.

	if mode == domain.SyncModeByAttorneys {
		if len(req.AttorneyIDs) == 0 {
			return fmt.Errorf("attorney_ids is required for mode %q", mode)
		}
		for _, raw := range req.AttorneyIDs {
			if _, err := uuid.Parse(raw); err != nil {
				return fmt.Errorf("invalid attorney id %q", raw)
			}
		}
	}

	if mode == domain.SyncModeByParameters && req.Params == nil {
		return fmt.Errorf("params is required for mode %q", mode)
	}
	if req.Params != nil {
		if err := validateParams(*req.Params); err != nil {
			return err
		}
	}

	if req.WebhookEndpointID != "" {
		if _, err := uuid.Parse(req.WebhookEndpointID); err != nil {
			return fmt.Errorf("invalid webhook_endpoint_id %q", req.WebhookEndpointID)
		}
	}

	return nil
}

func validateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}

func validateParams(p domain.QueryParams) error {
	if p.Medium != "" {
		m := domain.Medium(p.Medium)
		if m != domain.MediumEdital && m != domain.MediumGazette {
			return fmt.Errorf("params.medium must be %q or %q", domain.MediumEdital, domain.MediumGazette)
		}
	}
	for _, d := range []struct {
		name, value string
	}{{"params.date_from", p.DateFrom}, {"params.date_to", p.DateTo}} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d.value); err != nil {
			return fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", d.name, d.value)
		}
	}
	return nil
}
