package modem

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/pdu"
)

// SMSStatus is the storage status of a message, as used by AT+CMGL in
// PDU mode.
type SMSStatus int

const (
	ReceivedUnread SMSStatus = iota
	ReceivedRead
	StoredUnsent
	StoredSent
	AllMessages
)

func (s SMSStatus) String() string {
	switch s {
	case ReceivedUnread:
		return "REC UNREAD"
	case ReceivedRead:
		return "REC READ"
	case StoredUnsent:
		return "STO UNSENT"
	case StoredSent:
		return "STO SENT"
	case AllMessages:
		return "ALL"
	}
	return fmt.Sprintf("SMSStatus(%d)", int(s))
}

// ParseSMSStatus accepts both the numeric and the text mode form.
func ParseSMSStatus(s string) (SMSStatus, error) {
	for st := ReceivedUnread; st <= AllMessages; st++ {
		if s == st.String() || s == strconv.Itoa(int(st)) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown message status %q", s)
}

// SMSReference is the message reference the network assigned to a
// submitted message.
type SMSReference int

// SMS represents a message stored on the modem.
type SMS struct {
	Index  int
	Status SMSStatus
	// Sender is the originator of a received message and the destination
	// of a stored outgoing one.
	Sender string
	// Timestamp is the service centre time of a received message; zero
	// for stored outgoing ones.
	Timestamp time.Time
	Text      string
}

// UnrecognizedSMS is a listed message that could not be decoded.
type UnrecognizedSMS struct {
	Metadata string
	PDU      string
	Err      error
}

// SMSReadResult holds every listed message, each either decoded in
// Records or kept raw in Unrecognized, in listing order.
type SMSReadResult struct {
	Records      []SMS
	Unrecognized []UnrecognizedSMS
}

var (
	cmgsPattern = regexp.MustCompile(`^\+CMGS:\s*(\d+)`)
	cmglPattern = regexp.MustCompile(`^\+CMGL:\s*(\d+),(\d+),(?:"[^"]*")?,(\d+)`)
	cmgrPattern = regexp.MustCompile(`^\+CMGR:\s*(\d+),(?:"[^"]*")?,(\d+)`)
)

// SendSMS sends a text message to the specified recipient in text mode.
//
// The recipient should be in international format (e.g., "+1234567890").
// Text that does not fit a single message fails with a *pdu.TooLongError.
//
// This method blocks until the message is accepted by the network or an error
// occurs. Network delivery (to the final recipient) happens asynchronously.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (SMSReference, error) {
	if _, err := pdu.EncodeText(message); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setFormat(ctx, FormatText); err != nil {
		return 0, fmt.Errorf("set SMS text mode: %w", err)
	}
	return m.submit(ctx, fmt.Sprintf(`AT+CMGS="%s"`, recipient), message)
}

// SendSMSPDU sends message to recipient as an SMS-SUBMIT PDU through
// smsc, or through the service centre stored on the SIM when smsc is
// empty.
func (m *Modem) SendSMSPDU(ctx context.Context, recipient, message, smsc string) (SMSReference, error) {
	body, length, err := pdu.EncodeSubmit(recipient, message, smsc)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setFormat(ctx, FormatPDU); err != nil {
		return 0, fmt.Errorf("set SMS PDU mode: %w", err)
	}
	return m.submit(ctx, fmt.Sprintf("AT+CMGS=%d", length), body)
}

// Send sends message in the message format of the modem profile.
func (m *Modem) Send(ctx context.Context, recipient, message string) (SMSReference, error) {
	if m.profile.MessageFormat == FormatPDU {
		return m.SendSMSPDU(ctx, recipient, message, "")
	}
	return m.SendSMS(ctx, recipient, message)
}

func (m *Modem) submit(ctx context.Context, cmd, body string) (SMSReference, error) {
	resp, err := m.exec(ctx, at.Request{Command: cmd, TwoPhase: true, Body: body})
	if err != nil {
		return 0, fmt.Errorf("SMS send failed: %w", err)
	}
	for _, line := range resp.Intermediates {
		if match := cmgsPattern.FindStringSubmatch(line); match != nil {
			ref, _ := strconv.Atoi(match[1])
			return SMSReference(ref), nil
		}
	}
	return 0, fmt.Errorf("%w: no message reference in %q", ErrMalformedResponse, resp.Intermediates)
}

// ListSMS lists the stored messages with the given status. Messages that
// cannot be decoded are returned in Unrecognized rather than failing the
// listing.
func (m *Modem) ListSMS(ctx context.Context, status SMSStatus) (SMSReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setFormat(ctx, FormatPDU); err != nil {
		return SMSReadResult{}, fmt.Errorf("set SMS PDU mode: %w", err)
	}
	// A full storage takes a while to list.
	resp, err := m.exec(ctx, at.Request{
		Command: fmt.Sprintf("AT+CMGL=%d", status),
		Timeout: 4 * m.config.ATTimeout,
	})
	if err != nil {
		return SMSReadResult{}, err
	}
	return ParseSMSList(resp.Intermediates)
}

// ParseSMSList decodes the metadata and PDU line pairs of an AT+CMGL
// listing in PDU mode.
func ParseSMSList(lines []string) (SMSReadResult, error) {
	if len(lines)%2 != 0 {
		return SMSReadResult{}, fmt.Errorf("%w: %d lines", ErrMalformedBatch, len(lines))
	}
	var result SMSReadResult
	for i := 0; i < len(lines); i += 2 {
		meta, data := lines[i], lines[i+1]
		sms, err := parseListed(meta, data)
		if err != nil {
			result.Unrecognized = append(result.Unrecognized, UnrecognizedSMS{Metadata: meta, PDU: data, Err: err})
			continue
		}
		result.Records = append(result.Records, sms)
	}
	return result, nil
}

func parseListed(meta, data string) (SMS, error) {
	match := cmglPattern.FindStringSubmatch(meta)
	if match == nil {
		return SMS{}, fmt.Errorf("%w: %q", ErrMalformedResponse, meta)
	}
	index, _ := strconv.Atoi(match[1])
	status, _ := strconv.Atoi(match[2])
	return decodeStored(index, SMSStatus(status), data)
}

// decodeStored decodes a stored PDU. Received messages are SMS-DELIVER,
// stored outgoing ones SMS-SUBMIT.
func decodeStored(index int, status SMSStatus, data string) (SMS, error) {
	sms := SMS{Index: index, Status: status}
	switch status {
	case StoredUnsent, StoredSent:
		s, err := pdu.DecodeSubmit(data)
		if err != nil {
			return SMS{}, err
		}
		sms.Sender = s.Destination.String()
		sms.Text = s.Text
	default:
		d, err := pdu.DecodeDeliver(data)
		if err != nil {
			return SMS{}, err
		}
		sms.Sender = d.Sender.String()
		sms.Timestamp = d.Timestamp
		sms.Text = d.Text
	}
	return sms, nil
}

// ReadSMS reads the message stored at index. ErrMessageNotFound is
// returned for an empty slot.
func (m *Modem) ReadSMS(ctx context.Context, index int) (SMS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setFormat(ctx, FormatPDU); err != nil {
		return SMS{}, fmt.Errorf("set SMS PDU mode: %w", err)
	}
	resp, err := m.command(ctx, fmt.Sprintf("AT+CMGR=%d", index))
	if err != nil {
		var atErr *at.Error
		if errors.As(err, &atErr) && atErr.Kind == at.KindCMS && atErr.Code == 321 {
			return SMS{}, fmt.Errorf("%w: index %d", ErrMessageNotFound, index)
		}
		return SMS{}, err
	}
	if len(resp.Intermediates) == 0 {
		return SMS{}, fmt.Errorf("%w: index %d", ErrMessageNotFound, index)
	}
	if len(resp.Intermediates) != 2 {
		return SMS{}, fmt.Errorf("%w: %q", ErrMalformedResponse, resp.Intermediates)
	}
	match := cmgrPattern.FindStringSubmatch(resp.Intermediates[0])
	if match == nil {
		return SMS{}, fmt.Errorf("%w: %q", ErrMalformedResponse, resp.Intermediates[0])
	}
	status, _ := strconv.Atoi(match[1])
	return decodeStored(index, SMSStatus(status), resp.Intermediates[1])
}

// DeleteSMS deletes the message stored at index.
func (m *Modem) DeleteSMS(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectOK(ctx, fmt.Sprintf("AT+CMGD=%d", index))
}

// DeleteReadSMS deletes every read message.
func (m *Modem) DeleteReadSMS(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectOK(ctx, "AT+CMGD=1,1")
}
