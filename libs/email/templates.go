package email

import (
	"bytes"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"
	"time"
	_ "time/tzdata"
)

// Appointments are shown to patients in India Standard Time.
const displayZone = "Asia/Kolkata"

var displayLocation = mustLoadLocation(displayZone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Details is the data every appointment notification renders.
type Details struct {
	PatientName string
	DoctorName  string
	Specialty   string
	Location    string
	Date        time.Time
}

type view struct {
	Details
	Day        string
	Time       string
	Directions string
}

func newView(d Details) view {
	local := d.Date.In(displayLocation)
	return view{
		Details:    d,
		Day:        local.Format("Monday, January 2, 2006"),
		Time:       local.Format("3:04 PM") + " IST",
		Directions: DirectionsURL(d.Location),
	}
}

// DirectionsURL links to Google Maps directions to the clinic.
func DirectionsURL(location string) string {
	return "https://www.google.com/maps/dir/?api=1&destination=" + url.QueryEscape(location)
}

const (
	ConfirmationSubject = "Your Appointment Confirmation"
	ReminderSubject     = "Reminder: Your Appointment is in 1 Hour"
)

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h1 style="color: #2563eb;">Your Appointment is Confirmed!</h1>
  <p>Dear {{if .PatientName}}{{.PatientName}}{{else}}Patient{{end}},</p>
  <p>Your appointment has been successfully scheduled.</p>
  <table cellpadding="4">
    <tr><td><strong>Doctor</strong></td><td>{{.DoctorName}}{{if .Specialty}} ({{.Specialty}}){{end}}</td></tr>
    <tr><td><strong>Date</strong></td><td>{{.Day}}</td></tr>
    <tr><td><strong>Time</strong></td><td>{{.Time}}</td></tr>
    <tr><td><strong>Location</strong></td><td>{{.Location}}</td></tr>
  </table>
  <p><a href="{{.Directions}}">Get directions</a></p>
  <p>Please arrive 10 minutes before your scheduled time. You will receive a reminder 1 hour before your appointment.</p>
</body>
</html>
`))

var confirmationText = texttemplate.Must(texttemplate.New("confirmation").Parse(`Your Appointment is Confirmed!

Dear {{if .PatientName}}{{.PatientName}}{{else}}Patient{{end}},

Your appointment has been successfully scheduled.

Doctor: {{.DoctorName}}{{if .Specialty}} ({{.Specialty}}){{end}}
Date: {{.Day}}
Time: {{.Time}}
Location: {{.Location}}

Directions: {{.Directions}}

Please arrive 10 minutes before your scheduled time. You will receive a reminder 1 hour before your appointment.
`))

var reminderHTML = htmltemplate.Must(htmltemplate.New("reminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h1 style="color: #2563eb;">Your Appointment is in 1 Hour</h1>
  <p>Dear {{if .PatientName}}{{.PatientName}}{{else}}Patient{{end}},</p>
  <p>This is a reminder that your appointment with {{.DoctorName}} is today at {{.Time}}.</p>
  <table cellpadding="4">
    <tr><td><strong>Date</strong></td><td>{{.Day}}</td></tr>
    <tr><td><strong>Location</strong></td><td>{{.Location}}</td></tr>
  </table>
  <p><a href="{{.Directions}}">Get directions</a></p>
</body>
</html>
`))

var reminderText = texttemplate.Must(texttemplate.New("reminder").Parse(`Your Appointment is in 1 Hour

Dear {{if .PatientName}}{{.PatientName}}{{else}}Patient{{end}},

This is a reminder that your appointment with {{.DoctorName}} is today at {{.Time}}.

Date: {{.Day}}
Location: {{.Location}}

Directions: {{.Directions}}
`))

// Confirmation renders the booking confirmation for to.
func Confirmation(to string, d Details) (Message, error) {
	return render(to, ConfirmationSubject, d, confirmationText, confirmationHTML)
}

// Reminder renders the one-hour reminder for to.
func Reminder(to string, d Details) (Message, error) {
	return render(to, ReminderSubject, d, reminderText, reminderHTML)
}

func render(to, subject string, d Details, text *texttemplate.Template, html *htmltemplate.Template) (Message, error) {
	v := newView(d)
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, v); err != nil {
		return Message{}, err
	}
	if err := html.Execute(&htmlBuf, v); err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: subject, Text: textBuf.String(), HTML: htmlBuf.String()}, nil
}
