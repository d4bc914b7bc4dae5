package service

import "github.com/sakif/digest/internal/model"

// Status is the outcome tag every workflow result carries.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPending Status = "PENDING"
	StatusFailed  Status = "FAILED"
)

// Result is what a successful workflow step hands back to the handler.
// Failures are returned as *apperror.AppError instead and rendered with
// StatusFailed by the handler.
type Result struct {
	Status  Status
	Message string
	Account *model.PublicAccount

	// Principal is set when the handler must establish a session.
	Principal *model.Principal
}
