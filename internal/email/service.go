// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "Cadence"

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-cadence"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type verificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type inviteData struct {
	AppName     string
	ProjectName string
	InviteURL   string
	Role        string
}

type stageDoneData struct {
	AppName     string
	ProjectName string
	StageName   string
	ProjectURL  string
}

type approvalData struct {
	AppName     string
	ProjectName string
	StageName   string
	ProjectURL  string
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := verificationData{
		AppName:         appName,
		UserName:        userName,
		VerificationURL: verificationURL,
	}

	subject := "Verify your Cadence account"
	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendProjectInviteEmail invites a client to a project
func (s *Service) SendProjectInviteEmail(to, projectName, role, inviteURL string) error {
	data := inviteData{
		AppName:     appName,
		ProjectName: projectName,
		InviteURL:   inviteURL,
		Role:        role,
	}

	subject := fmt.Sprintf("You've been invited to %s on Cadence", projectName)
	html, err := renderTemplate(inviteEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendStageCompletedEmail notifies project members that a stage was completed
func (s *Service) SendStageCompletedEmail(to []string, projectName, stageName, projectURL string) error {
	data := stageDoneData{
		AppName:     appName,
		ProjectName: projectName,
		StageName:   stageName,
		ProjectURL:  projectURL,
	}

	subject := fmt.Sprintf("%s: %s is complete", projectName, stageName)
	html, err := renderTemplate(stageCompletedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render stage completed template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

// SendMaterialsRequestedEmail asks project members to provide materials
// for the current stage
func (s *Service) SendMaterialsRequestedEmail(to []string, projectName, stageName, projectURL string) error {
	data := stageDoneData{
		AppName:     appName,
		ProjectName: projectName,
		StageName:   stageName,
		ProjectURL:  projectURL,
	}

	subject := fmt.Sprintf("%s: materials needed for %s", projectName, stageName)
	html, err := renderTemplate(materialsRequestedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render materials template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

// SendApprovalRequestedEmail asks the client to review a stage's deliverables
func (s *Service) SendApprovalRequestedEmail(to []string, projectName, stageName, projectURL string) error {
	data := approvalData{
		AppName:     appName,
		ProjectName: projectName,
		StageName:   stageName,
		ProjectURL:  projectURL,
	}

	subject := fmt.Sprintf("%s: %s is ready for your review", projectName, stageName)
	html, err := renderTemplate(approvalRequestedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render approval template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyles = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #4338ca; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #4338ca; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #4338ca; }
`

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Thank you for signing up. Please verify your email address to activate your account.</p>

    <p>
        <a href="{{.VerificationURL}}" class="button">Verify Email Address</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>

    <p>This verification link will expire in 24 hours.</p>

    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const inviteEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Project invitation</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>You've been invited to {{.ProjectName}}</h2>

    <p>You've been given {{.Role}} access to follow the progress of {{.ProjectName}}.</p>

    <p>
        <a href="{{.InviteURL}}" class="button">Accept Invitation</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.InviteURL}}</p>

    <div class="footer">
        <p>If you weren't expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const stageCompletedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Stage completed</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.StageName}} is complete</h2>

    <p>The {{.StageName}} stage of {{.ProjectName}} has been marked complete. The next stage is now open for review.</p>

    <p>
        <a href="{{.ProjectURL}}" class="button">View Project</a>
    </p>
</body>
</html>`

const materialsRequestedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Materials needed</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Materials needed for {{.StageName}}</h2>

    <p>The team working on {{.ProjectName}} is waiting on materials from you to keep the {{.StageName}} stage moving.</p>

    <p>
        <a href="{{.ProjectURL}}" class="button">Provide Materials</a>
    </p>
</body>
</html>`

const approvalRequestedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Review requested</title>
    <style>` + emailStyles + `</style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.StageName}} is ready for your review</h2>

    <p>The deliverables for the {{.StageName}} stage of {{.ProjectName}} are waiting for your approval.</p>

    <p>
        <a href="{{.ProjectURL}}" class="button">Review Deliverables</a>
    </p>
</body>
</html>`
