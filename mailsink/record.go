package mailsink

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MailRecord is one message accepted by the sink.
type MailRecord struct {
	// Peer is the network address of the SMTP client that delivered the message.
	Peer string `json:"peer"`

	// Sender is the envelope sender (MAIL FROM).
	Sender string `json:"sender"`

	// Recipients are the envelope recipients (RCPT TO), in the order they were given.
	Recipients []string `json:"recipients"`

	// Data is the message content exactly as received in the DATA command, headers included.
	Data []byte `json:"data,omitempty"`
}

// ErrNoData means a record has no payload at all.
var ErrNoData = errors.New("mail record has no data")

// HasData reports whether the record carries a payload.
func (r MailRecord) HasData() bool {
	return len(r.Data) > 0
}

// Text returns the payload as a string.
func (r MailRecord) Text() string {
	return string(r.Data)
}

// JSON decodes the payload as JSON into target. Invitation mails sent by identity servers in
// test mode are plain JSON documents.
func (r MailRecord) JSON(target interface{}) error {
	if !r.HasData() {
		return ErrNoData
	}
	if err := json.Unmarshal(r.Data, target); err != nil {
		return fmt.Errorf("mail payload is not JSON: %w", err)
	}
	return nil
}

func (r MailRecord) String() string {
	return fmt.Sprintf("{peer: %s, sender: %q, recipients: %q, data: %q}", r.Peer, r.Sender, r.Recipients, r.Data)
}

// sequencedRecord is the form in which a record crosses the process boundary, one JSON
// document per line.
type sequencedRecord struct {
	Seq    uint64     `json:"seq"`
	Record MailRecord `json:"record"`
}
