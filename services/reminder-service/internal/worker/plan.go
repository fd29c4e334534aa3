package worker

import (
	"time"

	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	"github.com/md-rashed-zaman/medibook/services/reminder-service/internal/storage"
)

type action int

const (
	actionSend action = iota
	// actionSkip closes the job quietly; the reminder is no longer wanted.
	actionSkip
	// actionDrop fails the job for good; retrying cannot help.
	actionDrop
)

type plan struct {
	action  action
	reason  string
	message email.Message
}

// planDelivery decides what to do with a due reminder. The stored appointment
// time wins over the one captured in the job payload.
func planDelivery(job jobs.Job, state storage.AppointmentState, found bool, now time.Time) plan {
	if !found {
		return plan{action: actionSkip, reason: "appointment no longer exists"}
	}
	if state.Status == storage.AppointmentCancelled {
		return plan{action: actionSkip, reason: "appointment cancelled"}
	}
	if !state.Date.After(now) {
		return plan{action: actionSkip, reason: "appointment already started"}
	}

	details, err := email.DetailsFromFields(job.Payload)
	if err != nil {
		return plan{action: actionDrop, reason: "invalid reminder payload: " + err.Error()}
	}
	details.Date = state.Date
	if !email.ValidAddress(job.Recipient) {
		return plan{action: actionDrop, reason: "invalid recipient address"}
	}
	msg, err := email.Reminder(job.Recipient, details)
	if err != nil {
		return plan{action: actionDrop, reason: "render reminder: " + err.Error()}
	}
	return plan{action: actionSend, message: msg}
}
