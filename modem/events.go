package modem

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/pdu"
)

// EventKind identifies the unsolicited notification an Event carries.
type EventKind int

const (
	EventIncomingCall EventKind = iota
	EventCallerID
	EventMissedCall
	EventNewMessage
	EventStatusReport
	EventUSSD
)

func (k EventKind) String() string {
	switch k {
	case EventIncomingCall:
		return "incoming_call"
	case EventCallerID:
		return "caller_id"
	case EventMissedCall:
		return "missed_call"
	case EventNewMessage:
		return "new_message"
	case EventStatusReport:
		return "status_report"
	case EventUSSD:
		return "ussd"
	}
	return "unknown"
}

// USSD session states reported in the first field of +CUSD.
const (
	USSDNoActionRequired = 0
	USSDActionRequired   = 1
	USSDTerminated       = 2
	USSDOtherClient      = 3
	USSDNotSupported     = 4
	USSDTimedOut         = 5
)

// USSDResponse is a network reply to a USSD request.
type USSDResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	// Raw is the message as the modem sent it, before any decoding.
	Raw string `json:"raw"`
	DCS int    `json:"dcs"`
}

// Event is a parsed unsolicited result code.
type Event struct {
	Kind EventKind
	Time time.Time
	// Number is set for CallerID and MissedCall.
	Number string
	// Storage and Index locate the message of NewMessage and StatusReport.
	Storage string
	Index   int
	USSD    *USSDResponse
	Raw     string
}

var (
	clipPattern   = regexp.MustCompile(`^\+CLIP:\s*"([^"]*)"`)
	storedPattern = regexp.MustCompile(`^\+C(?:MTI|DSI):\s*"(\w+)",(\d+)`)
	cusdPattern   = regexp.MustCompile(`^\+CUSD:\s*(\d)(?:,"((?s).*)",(\d+))?`)
	missedPattern = regexp.MustCompile(`^MISSED_CALL:\s*(\d{1,2}:\d{2}[AP]M)\s+(\S+)`)
)

const missedTimeForm = "3:04PM"

// ParseEvent turns an unsolicited line into an Event. now dates the
// event and completes the wall clock time of a missed call report.
func ParseEvent(line string, now time.Time) (Event, error) {
	ev := Event{Time: now, Raw: line}

	switch {
	case line == at.UrcCall, strings.HasPrefix(line, at.UrcCallType):
		ev.Kind = EventIncomingCall

	case strings.HasPrefix(line, at.UrcCallerID):
		m := clipPattern.FindStringSubmatch(line)
		if m == nil {
			return Event{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
		}
		ev.Kind = EventCallerID
		ev.Number = m[1]

	case strings.HasPrefix(line, at.UrcMissedCall):
		m := missedPattern.FindStringSubmatch(line)
		if m == nil {
			return Event{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
		}
		clock, err := time.Parse(missedTimeForm, m[1])
		if err != nil {
			return Event{}, fmt.Errorf("%w: %q: %w", ErrMalformedResponse, line, err)
		}
		ev.Kind = EventMissedCall
		ev.Number = m[2]
		ev.Time = time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())

	case strings.HasPrefix(line, at.UrcNewMsg), strings.HasPrefix(line, at.UrcMessageReport):
		m := storedPattern.FindStringSubmatch(line)
		if m == nil {
			return Event{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
		}
		ev.Kind = EventNewMessage
		if strings.HasPrefix(line, at.UrcMessageReport) {
			ev.Kind = EventStatusReport
		}
		ev.Storage = m[1]
		ev.Index, _ = strconv.Atoi(m[2])

	case strings.HasPrefix(line, at.UrcUSSD):
		m := cusdPattern.FindStringSubmatch(line)
		if m == nil {
			return Event{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
		}
		resp := &USSDResponse{Raw: m[2], Message: m[2]}
		resp.Status, _ = strconv.Atoi(m[1])
		if m[3] != "" {
			resp.DCS, _ = strconv.Atoi(m[3])
		}
		ev.Kind = EventUSSD
		ev.USSD = resp

	default:
		return Event{}, fmt.Errorf("unknown notification %q", line)
	}
	return ev, nil
}

// isUCS2 reports whether a cell broadcast data coding scheme selects
// UCS-2 text (general group with the UCS2 alphabet, or the language
// indicated variant).
func isUCS2(dcs int) bool {
	return dcs == 0x11 || (dcs&0xC0 == 0x40 && dcs&0x0C == 0x08)
}

// decodeUSSD replaces the raw message with its text when the profile or
// the reply's coding scheme says it is UCS-2 hex. Undecodable text is
// kept as is.
func (m *Modem) decodeUSSD(r *USSDResponse) {
	if r.Raw == "" {
		return
	}
	if m.profile.USSDEncoding != EncodingUCS2 && !isUCS2(r.DCS) {
		return
	}
	if text, err := pdu.RawDecode(r.Raw); err == nil {
		r.Message = text
	}
}

// Events returns parsed unsolicited notifications. The channel is
// closed once the modem stops.
func (m *Modem) Events() <-chan Event {
	return m.events
}

// dispatch parses notifications from the channel, hands USSD replies to
// a pending SendUSSD and publishes every event.
func (m *Modem) dispatch() {
	defer close(m.events)
	for {
		select {
		case line := <-m.channel.Notifications():
			ev, err := ParseEvent(line, m.config.Clock.Now())
			if err != nil {
				m.logger.Warn("unparsed notification", "line", line, "error", err)
				continue
			}
			if ev.Kind == EventUSSD {
				m.decodeUSSD(ev.USSD)
				m.deliverUSSD(*ev.USSD)
			}
			select {
			case m.events <- ev:
			default:
				m.logger.Warn("event dropped, buffer full", "kind", ev.Kind)
			}
		case <-m.channel.Done():
			return
		}
	}
}
