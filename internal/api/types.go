package api

import (
	"time"

	"github.com/litigio/comunicasync/internal/cnj"
	"github.com/litigio/comunicasync/internal/domain"
)

type CreateScheduleRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Mode           string `json:"mode"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone,omitempty"`
	Active         *bool  `json:"active,omitempty"` // default true

	AttorneyIDs       []string            `json:"attorney_ids,omitempty"`
	Params            *domain.QueryParams `json:"params,omitempty"`
	WebhookEndpointID string              `json:"webhook_endpoint_id,omitempty"`
}

type ScheduleResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Mode           string `json:"mode"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	Active         bool   `json:"active"`

	AttorneyIDs       []string            `json:"attorney_ids,omitempty"`
	Params            *domain.QueryParams `json:"params,omitempty"`
	WebhookEndpointID string              `json:"webhook_endpoint_id,omitempty"`

	LastRunAt string `json:"last_run_at,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
	RunCount  int    `json:"run_count"`

	CreatedAt string `json:"created_at"`
}

type RunResponse struct {
	ID           string `json:"id"`
	ScheduleID   string `json:"schedule_id"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
	ResultCount  int    `json:"result_count"`
	WarningCount int    `json:"warning_count,omitempty"`
	Error        string `json:"error,omitempty"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type TriggerResponse struct {
	ScheduleID string `json:"schedule_id"`
	Queued     bool   `json:"queued"`
}

type CommunicationResponse struct {
	Hash                string   `json:"hash"`
	Tribunal            string   `json:"tribunal"`
	ProcessNumber       string   `json:"process_number"`
	CommunicationNumber int      `json:"communication_number,omitempty"`
	PartyNames          []string `json:"party_names,omitempty"`
	LawyerNames         []string `json:"lawyer_names,omitempty"`
	Text                string   `json:"text"`
	DisclosedOn         string   `json:"disclosed_on"`
	Medium              string   `json:"medium"`
}

type QueryCommunicationsResponse struct {
	Items      []CommunicationResponse `json:"items"`
	Pagination PaginationResponse      `json:"pagination"`
	RateLimit  RateLimitResponse       `json:"rate_limit"`
}

type PaginationResponse struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type RateLimitResponse struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"reset_at,omitempty"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func scheduleResponse(sched domain.SyncSchedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:             sched.ID.String(),
		Name:           sched.Name,
		Description:    sched.Description,
		Mode:           string(sched.Mode),
		CronExpression: sched.CronExpression,
		Timezone:       sched.Timezone,
		Active:         sched.Active,
		RunCount:       sched.RunCount,
		CreatedAt:      formatTime(sched.CreatedAt),
	}
	for _, id := range sched.AttorneyIDs {
		resp.AttorneyIDs = append(resp.AttorneyIDs, id.String())
	}
	if sched.Params != (domain.QueryParams{}) {
		p := sched.Params
		resp.Params = &p
	}
	if sched.WebhookEndpointID != nil {
		resp.WebhookEndpointID = sched.WebhookEndpointID.String()
	}
	if sched.LastRunAt != nil {
		resp.LastRunAt = formatTime(*sched.LastRunAt)
	}
	if sched.NextRunAt != nil {
		resp.NextRunAt = formatTime(*sched.NextRunAt)
	}
	return resp
}

func runResponse(run domain.SyncRun) RunResponse {
	resp := RunResponse{
		ID:           run.ID.String(),
		ScheduleID:   run.ScheduleID.String(),
		Status:       string(run.Status),
		StartedAt:    formatTime(run.StartedAt),
		ResultCount:  run.ResultCount,
		WarningCount: run.WarningCount,
		Error:        run.Error,
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = formatTime(*run.CompletedAt)
	}
	return resp
}

func queryResponse(res *cnj.QueryResult) QueryCommunicationsResponse {
	resp := QueryCommunicationsResponse{
		Items: make([]CommunicationResponse, 0, len(res.Items)),
		Pagination: PaginationResponse{
			Page:       res.Pagination.Page,
			PageSize:   res.Pagination.PageSize,
			Total:      res.Pagination.Total,
			TotalPages: res.Pagination.TotalPages,
		},
		RateLimit: RateLimitResponse{
			Limit:     res.RateLimit.Limit,
			Remaining: res.RateLimit.Remaining,
		},
	}
	if res.RateLimit.ResetAt != nil {
		resp.RateLimit.ResetAt = formatTime(*res.RateLimit.ResetAt)
	}
	for _, item := range res.Items {
		resp.Items = append(resp.Items, CommunicationResponse{
			Hash:                item.Hash,
			Tribunal:            item.Tribunal,
			ProcessNumber:       item.ProcessNumber,
			CommunicationNumber: item.CommunicationNumber,
			PartyNames:          item.PartyNames,
			LawyerNames:         item.LawyerNames,
			Text:                item.Text,
			DisclosedOn:         item.DisclosedOn.Format("2006-01-02"),
			Medium:              string(item.Medium),
		})
	}
	return resp
}
