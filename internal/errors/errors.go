// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is returned when a campaign id has no row.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCampaignNotSendable is returned when a send is requested for a campaign
// that already left Draft/Scheduled.
type ErrCampaignNotSendable struct {
	CampaignID int
	Status     string
}

func (e *ErrCampaignNotSendable) Error() string {
	return fmt.Sprintf("campaign %d cannot be sent in status: %s", e.CampaignID, e.Status)
}

func NewCampaignNotSendable(id int, status string) error {
	return &ErrCampaignNotSendable{CampaignID: id, Status: status}
}

var ErrRecipientNotFound = errors.New("recipient not found")

func IsCampaignNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}

func IsCampaignNotSendable(err error) bool {
	var ns *ErrCampaignNotSendable
	return errors.As(err, &ns)
}

// ErrValidation is returned when request input is rejected before any write.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ErrValidation
	return errors.As(err, &v)
}
