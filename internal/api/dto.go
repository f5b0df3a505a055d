package api

import (
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/ruleservice"
	"github.com/starford/tgmonitor/internal/session"
)

// LoginRequest starts or advances the login sequence. Proof is empty on the
// first call, then the verification code, then the password if asked for.
type LoginRequest struct {
	Phone string `json:"phone" example:"+15551234567" validate:"required"`
	Proof string `json:"proof" example:"12345"`
}

// LoginResponse reports the session state after a login step.
type LoginResponse struct {
	State models.SessionState `json:"state" example:"awaiting_verification_code"`
}

// TargetRequest sets the destination chat.
type TargetRequest struct {
	ID int64 `json:"id" example:"-1001234567890" validate:"required"`
}

// StartResponse carries the start outcome.
type StartResponse struct {
	Outcome models.StartOutcome `json:"outcome" example:"started"`
}

// StatusResponse is the monitor snapshot.
type StatusResponse = session.Status

// DialogListResponse wraps the dialog listing.
type DialogListResponse struct {
	Dialogs []session.Dialog `json:"dialogs" validate:"required"`
}

// RuleListResponse wraps the rule listing.
type RuleListResponse struct {
	Rules []models.KeywordRule `json:"rules" validate:"required"`
}

// BatchCreateRequest adds several rules at once.
type BatchCreateRequest struct {
	Rules []models.KeywordRule `json:"rules" validate:"required"`
}

// BatchCreateResponse lists stored and skipped rules.
type BatchCreateResponse = ruleservice.BatchResult

// BatchDeleteRequest removes several rules at once.
type BatchDeleteRequest struct {
	IDs []int64 `json:"ids" validate:"required"`
}

// BatchDeleteResponse reports how many rules were removed.
type BatchDeleteResponse struct {
	Deleted int `json:"deleted" example:"2"`
}
