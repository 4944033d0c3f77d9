package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/dropDatabas3/gatehouse/internal/identity"
)

var welcomeHTML = template.Must(template.New("welcome").Parse(`<!doctype html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Welcome, {{.Name}}</h2>
  <p>An account was created for you on {{.Site}} the first time you signed in.</p>
  <p>Your username is <strong>{{.Username}}</strong>. You will keep signing in
  through your identity provider; no password is set on this account.</p>
</body>
</html>`))

// WelcomeNotifier emails newly provisioned accounts. Implements
// identity.Notifier; accounts without an email address are skipped.
type WelcomeNotifier struct {
	sender *SMTPSender
	site   string
}

func NewWelcomeNotifier(sender *SMTPSender, site string) *WelcomeNotifier {
	if site == "" {
		site = "this site"
	}
	return &WelcomeNotifier{sender: sender, site: site}
}

func (n *WelcomeNotifier) Welcome(ctx context.Context, u *identity.User) error {
	if u.Email == "" {
		return nil
	}
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}

	var html bytes.Buffer
	if err := welcomeHTML.Execute(&html, map[string]string{
		"Name": name, "Site": n.site, "Username": u.Username,
	}); err != nil {
		return fmt.Errorf("rendering welcome email: %w", err)
	}
	text := fmt.Sprintf(
		"Welcome, %s\n\nAn account was created for you on %s the first time you signed in.\n"+
			"Your username is %s. You will keep signing in through your identity provider.\n",
		name, n.site, u.Username)

	return n.sender.Send(u.Email, "Welcome to "+n.site, html.String(), text)
}
