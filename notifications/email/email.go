package email

import (
	"fmt"
	"net/smtp"
)

// smtpServer stores the address of the SMTP server used to send emails.
var smtpServer string

// auth holds the authentication data needed to connect to the SMTP server.
// It is initialized by smtp.PlainAuth with the sender's email and password.
var auth smtp.Auth

// fromEmail stores the sender address used as the "From" of every
// notification email.
var fromEmail string

// InitEmailService initializes the email service by establishing an SMTP
// connection to the configured email server. It sets the SMTP server address
// and the sender's address, builds the PlainAuth credentials, and dials the
// server once to verify the connection is usable.
//
// Returns true on success, or false and the error encountered.
func InitEmailService(sender, password string) (bool, error) {
	smtpServer = "smtp.gmail.com:587"
	fromEmail = sender

	auth = smtp.PlainAuth(
		"",
		sender,
		password,
		"smtp.gmail.com",
	)

	c, err := smtp.Dial(smtpServer)
	if err != nil {
		return false, fmt.Errorf("cannot connect to the SMTP server: %v", err)
	}

	err = c.Close()
	if err != nil {
		return false, fmt.Errorf("cannot close the SMTP connection: %v", err)
	}

	return true, nil
}

// SendStreakBrokenEmail notifies a user that a habit's streak has been reset
// to zero by the daily maintenance pass.
func SendStreakBrokenEmail(to, habitName string, lostStreak int) error {
	subject := "Your streak needs attention"
	body := fmt.Sprintf(`
	<html>
		<body>
			<div style="max-width: 600px; margin: 0 auto; padding: 10px;">
				<h1>Hello,</h1>
				<p>Your <strong>%d-day</strong> streak on <strong>%s</strong> has been broken.</p>
				<p>Complete the habit today to start a new one.</p>
			</div>
		</body>
	</html>
	`, lostStreak, habitName)
	return send(to, subject, body)
}

// SendMilestoneEmail congratulates a user on reaching a streak milestone.
func SendMilestoneEmail(to, habitName string, streak int) error {
	subject := fmt.Sprintf("%d days and counting!", streak)
	body := fmt.Sprintf(`
	<html>
		<body>
			<div style="max-width: 600px; margin: 0 auto; padding: 10px;">
				<h1>Congratulations,</h1>
				<p>You have kept up <strong>%s</strong> for <strong>%d days</strong> in a row.</p>
				<p>Keep the momentum going.</p>
			</div>
		</body>
	</html>
	`, habitName, streak)
	return send(to, subject, body)
}

// send assembles the MIME headers and body and sends the message through the
// established SMTP server connection.
func send(to, subject, body string) error {
	headers := make(map[string]string)
	headers["From"] = fromEmail
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=\"UTF-8\""

	message := ""
	for k, v := range headers {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body

	err := smtp.SendMail(
		smtpServer,
		auth,
		fromEmail,
		[]string{to},
		[]byte(message),
	)

	if err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}

	return nil
}
