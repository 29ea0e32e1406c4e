package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// TicketAssignedData feeds the assignment notice.
type TicketAssignedData struct {
	AssigneeName   string
	TicketTitle    string
	Priority       string
	HelpfulNotes   string
	RelatedSkills  []string
	DashboardURL   string
	SupportAddress string
}

// WelcomeData feeds the registration email.
type WelcomeData struct {
	Name           string
	DashboardURL   string
	SupportAddress string
}

// TicketAssigned renders the message sent to a moderator who received a ticket.
func TicketAssigned(to string, data TicketAssignedData) (Message, error) {
	body, err := render("ticket_assigned.html", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "New Ticket Assigned: " + data.TicketTitle, HTML: body}, nil
}

// Welcome renders the message sent after a first login.
func Welcome(to string, data WelcomeData) (Message, error) {
	body, err := render("welcome.html", data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Welcome to AI Ticket Raiser", HTML: body}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", name, err)
	}
	return buf.String(), nil
}
