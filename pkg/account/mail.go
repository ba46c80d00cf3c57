package account

import (
	"bytes"
	"text/template"

	"accounts/pkg/mailer"
)

var confirmationBody = template.Must(template.New("confirmation").Parse(`Hello from {{.Site.Name}}!

You're receiving this email because user {{.Username}} has given your email address to register an account on {{.Site.Domain}}.

To confirm this is correct, go to {{.URL}}

Thank you for using {{.Site.Name}}!
{{.Site.Domain}}
`))

var resetBody = template.Must(template.New("reset").Parse(`Hello from {{.Site.Name}}!

You're receiving this e-mail because you or someone else has requested a password reset for your user account.
It can be safely ignored if you did not request a password reset. Click the link below to reset your password.

{{.URL}}

In case you forgot, your username is {{.Username}}.

Thank you for using {{.Site.Name}}!
{{.Site.Domain}}
`))

type mailData struct {
	Site     Site
	Username string
	URL      string
}

func render(site Site, subject string, body *template.Template, data mailData, to string) (mailer.Message, error) {
	var buf bytes.Buffer
	if err := body.Execute(&buf, data); err != nil {
		return mailer.Message{}, err
	}
	return mailer.Message{
		To:      []string{to},
		Subject: "[" + site.Name + "] " + subject,
		Body:    buf.String(),
	}, nil
}
