package service

import "errors"

// Rejection reasons for precondition violations. These are caller
// errors and are never retried; handlers map them to specific
// user-visible responses with errors.Is.
var (
	ErrNotFound             = errors.New("shipment not found")
	ErrAlreadyLocked        = errors.New("authorization window closed: package is out for delivery")
	ErrAlreadyProcessed     = errors.New("authorization already processed")
	ErrSignatureNotRequired = errors.New("shipment does not require a signature")
	ErrInvalidTransition    = errors.New("invalid carrier status transition")
	ErrRefundNotEligible    = errors.New("refund unavailable: authorization not completed")
	ErrRefundAlreadyOpen    = errors.New("refund already requested")
	ErrAlreadyAdjudicated   = errors.New("refund already adjudicated")
	ErrReasonRequired       = errors.New("reason is required")
)
