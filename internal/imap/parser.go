package imap

import (
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/vdavid/vcode/internal/models"
)

// ParseHeaders converts a header-only fetch result to a candidate.
func ParseHeaders(imapMsg *imap.Message, folderName string) (*models.Candidate, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	msg := &models.Candidate{
		ID:   models.MessageID{Folder: folderName, UID: imapMsg.Uid},
		Date: imapMsg.InternalDate,
	}

	if imapMsg.Envelope != nil {
		msg.Subject = imapMsg.Envelope.Subject
		msg.From = strings.Join(formatAddressList(imapMsg.Envelope.From), ", ")
		msg.To = strings.Join(formatAddressList(imapMsg.Envelope.To), ", ")
		if !imapMsg.Envelope.Date.IsZero() {
			msg.Date = imapMsg.Envelope.Date
		}
	}

	return msg, nil
}

// ParseFullMessage decodes a BODY.PEEK[] fetch result.
func ParseFullMessage(imapMsg *imap.Message, folderName string) (*models.Candidate, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}

	body := imapMsg.GetBody(fullBodySection)
	if body == nil {
		return nil, fmt.Errorf("message %d has no body", imapMsg.Uid)
	}

	msg, err := ParseMessage(body)
	if err != nil {
		return nil, err
	}

	msg.ID = models.MessageID{Folder: folderName, UID: imapMsg.Uid}
	if msg.Date.IsZero() {
		msg.Date = imapMsg.InternalDate
	}
	return msg, nil
}

// ParseMessage decodes a raw RFC 822 message with enmime.
func ParseMessage(r io.Reader) (*models.Candidate, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email body: %w", err)
	}

	msg := &models.Candidate{
		Subject:  envelope.GetHeader("Subject"),
		From:     envelope.GetHeader("From"),
		To:       envelope.GetHeader("To"),
		BodyText: envelope.Text,
		BodyHTML: envelope.HTML,
		Headers:  make(map[string][]string),
		HasBody:  true,
	}

	for _, key := range envelope.GetHeaderKeys() {
		msg.Headers[key] = envelope.GetHeaderValues(key)
	}

	if raw := envelope.GetHeader("Date"); raw != "" {
		// A broken Date header leaves the zero time; callers fall back to the internal date.
		if date, err := mail.ParseDate(raw); err == nil {
			msg.Date = date
		}
	}

	return msg, nil
}

// formatAddress formats an IMAP address to a string.
func formatAddress(address *imap.Address) string {
	if address == nil {
		return ""
	}

	if address.MailboxName == "" && address.HostName == "" {
		return ""
	}

	if address.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", address.PersonalName, address.MailboxName, address.HostName)
	}

	return fmt.Sprintf("%s@%s", address.MailboxName, address.HostName)
}

// formatAddressList formats a list of IMAP addresses.
func formatAddressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		formatted := formatAddress(address)
		if formatted != "" {
			result = append(result, formatted)
		}
	}
	return result
}
