package mailsink

import (
	"io"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

const maxMessageBytes = 10 * 1024 * 1024

// backend accepts every message for every recipient and hands it to deliver. Unlike a real
// mail server it never relays and never rejects a recipient.
type backend struct {
	deliver func(MailRecord)
	logger  zerolog.Logger
}

func newSMTPServer(b *backend, addr string) *gosmtp.Server {
	server := gosmtp.NewServer(b)
	server.Addr = addr
	server.Domain = "mailsink.test"
	server.AllowInsecureAuth = true
	server.MaxMessageBytes = maxMessageBytes
	server.MaxRecipients = 50
	return server
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	var peer string
	if nc := c.Conn(); nc != nil {
		peer = nc.RemoteAddr().String()
	}
	return &session{backend: b, peer: peer}, nil
}

type session struct {
	backend    *backend
	peer       string
	sender     string
	recipients []string
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	record := MailRecord{
		Peer:       s.peer,
		Sender:     s.sender,
		Recipients: append([]string(nil), s.recipients...),
		Data:       data,
	}
	s.backend.logger.Debug().
		Str("peer", record.Peer).
		Str("sender", record.Sender).
		Strs("recipients", record.Recipients).
		Int("size", len(data)).
		Msg("accepted message")
	s.backend.deliver(record)
	return nil
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	return nil
}
