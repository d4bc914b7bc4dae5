// Package mail delivers verification links.
//
// Two senders exist: LogSender writes the message to the structured log for
// local development, SMTPSender delivers it through an SMTP relay.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// Verification is the content of a verification email.
type Verification struct {
	To   string
	Name string
	Link string
}

// Sender delivers verification emails.
type Sender interface {
	SendVerification(ctx context.Context, msg Verification) error
}

const verificationSubject = "Verify your email address"

var verificationBody = template.Must(template.New("verification").Parse(
	`Hi {{.Name}},

Thanks for signing up. Confirm your email address by opening the link below:

{{.Link}}

The link works once and expires after a few hours. If it expires, sign up again.

If you did not sign up, ignore this email.
`))

func renderVerification(msg Verification) (string, error) {
	var buf bytes.Buffer
	if err := verificationBody.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("mail: rendering verification body: %w", err)
	}
	return buf.String(), nil
}
