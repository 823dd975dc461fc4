package mailsink

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrMailboxEmpty is returned by Pop when no record arrived within the timeout.
	ErrMailboxEmpty = errors.New("timed out waiting for mail")

	// ErrMailboxClosed is returned by Pop once the mailbox is closed and drained.
	ErrMailboxClosed = errors.New("mailbox is closed")
)

// Mailbox is an unbounded FIFO of mail records with a single consumer.
//
// Producers hand records over with a sequence number (1, 2, 3...) that reflects the order in
// which their SMTP transactions completed. Records that arrive ahead of their turn are held
// back until every earlier record has arrived, so the consumer always sees them in
// transaction order even though each SMTP connection is served by its own goroutine, and
// records from a child process pass through a pipe. A record that never arrives holds the
// later ones back for one Pop timeout at most.
type Mailbox struct {
	lastSeq  uint64
	maxSeq   uint64
	deferred []sequencedRecord
	ready    []MailRecord
	notify   chan struct{}
	closed   bool
	lock     sync.Mutex
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Push appends a record with the next sequence number. It never blocks.
func (m *Mailbox) Push(record MailRecord) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.acceptLocked(m.maxSeq+1, record)
}

// Accept adds a record that has the given sequence number. It never blocks.
func (m *Mailbox) Accept(seq uint64, record MailRecord) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.acceptLocked(seq, record)
}

func (m *Mailbox) acceptLocked(seq uint64, record MailRecord) {
	if m.closed {
		return
	}
	if seq > m.maxSeq {
		m.maxSeq = seq
	}
	if seq > m.lastSeq+1 {
		m.deferred = append(m.deferred, sequencedRecord{Seq: seq, Record: record})
		sort.Slice(m.deferred, func(i, j int) bool { return m.deferred[i].Seq < m.deferred[j].Seq })
		return
	}
	if seq == m.lastSeq+1 {
		m.lastSeq = seq
	}
	m.ready = append(m.ready, record)
	for len(m.deferred) > 0 && m.deferred[0].Seq == m.lastSeq+1 {
		m.ready = append(m.ready, m.deferred[0].Record)
		m.lastSeq++
		m.deferred = m.deferred[1:]
	}
	m.signal()
}

func (m *Mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest record, waiting up to timeout for one to arrive.
func (m *Mailbox) Pop(timeout time.Duration) (MailRecord, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.lock.Lock()
		if len(m.ready) > 0 {
			r := m.ready[0]
			m.ready = m.ready[1:]
			m.lock.Unlock()
			return r, nil
		}
		closed := m.closed
		m.lock.Unlock()
		if closed {
			return MailRecord{}, ErrMailboxClosed
		}

		select {
		case <-m.notify:
		case <-deadline.C:
			if m.skipGap() {
				continue
			}
			return MailRecord{}, ErrMailboxEmpty
		}
	}
}

// skipGap gives up on records that never arrived: if records are being held back when a Pop
// times out, the missing sequence numbers are skipped and the held records become ready.
func (m *Mailbox) skipGap() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(m.deferred) == 0 {
		return false
	}
	m.lastSeq = m.deferred[0].Seq - 1
	for len(m.deferred) > 0 && m.deferred[0].Seq == m.lastSeq+1 {
		m.ready = append(m.ready, m.deferred[0].Record)
		m.lastSeq++
		m.deferred = m.deferred[1:]
	}
	return true
}

// Len returns the number of records that can be popped right now.
func (m *Mailbox) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.ready)
}

// Drain removes and returns every record that is ready, without waiting.
func (m *Mailbox) Drain() []MailRecord {
	m.lock.Lock()
	defer m.lock.Unlock()
	ret := m.ready
	m.ready = nil
	return ret
}

// Deferred returns the records that are being held back waiting for an earlier one.
func (m *Mailbox) Deferred() []MailRecord {
	m.lock.Lock()
	defer m.lock.Unlock()
	ret := make([]MailRecord, 0, len(m.deferred))
	for _, d := range m.deferred {
		ret = append(ret, d.Record)
	}
	return ret
}

// Close stops the mailbox from accepting records. Records that are already ready can still
// be popped.
func (m *Mailbox) Close() {
	m.lock.Lock()
	m.closed = true
	m.lock.Unlock()
	m.signal()
}
