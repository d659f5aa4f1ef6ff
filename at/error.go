package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrTimeout is returned when an exchange does not reach a final
	// line before its deadline.
	ErrTimeout = errors.New("at: command timeout")

	// ErrClosed is returned for exchanges that cannot complete because
	// the channel loop has stopped.
	ErrClosed = errors.New("at: channel closed")

	// ErrLoopRunning is returned when Run is called more than once.
	ErrLoopRunning = errors.New("at: loop already running")

	// ErrNoPrompt is returned by a two-phase exchange when the modem
	// never asks for the body.
	ErrNoPrompt = errors.New("at: no input prompt")

	// ErrBodyTimeout is matched, together with ErrTimeout, when a
	// two-phase exchange times out after its body was written. The modem
	// may already have acted on the body.
	ErrBodyTimeout = errors.New("at: no final line after body")

	// ErrMalformedResponse is returned when a successful response lacks
	// the content the command is expected to produce.
	ErrMalformedResponse = errors.New("at: malformed response")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("at: response line too long")
)

// UnknownCode marks an Error whose final line carried no numeric code.
const UnknownCode = -1

// ErrorKind tells which family of final line produced an Error.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota // ERROR
	KindCME                      // +CME ERROR: equipment and network
	KindCMS                      // +CMS ERROR: message service
	KindCall                     // NO CARRIER, BUSY, NO ANSWER, NO DIALTONE
)

func (k ErrorKind) String() string {
	switch k {
	case KindCME:
		return "CME"
	case KindCMS:
		return "CMS"
	case KindCall:
		return "call"
	}
	return "generic"
}

// Error is a final error line reported by the modem.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindGeneric || e.Kind == KindCall:
		return "at: " + e.Message
	case e.Code == UnknownCode:
		return fmt.Sprintf("at: %s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("at: %s error %d: %s", e.Kind, e.Code, e.Message)
}

// ParseError builds an Error from a final error line. A numeric code is
// resolved against the known code tables; a textual one (AT+CMEE=2) is
// kept as the message with UnknownCode.
func ParseError(line string) *Error {
	var kind ErrorKind
	var rest string
	switch {
	case strings.HasPrefix(line, CmeError):
		kind, rest = KindCME, line[len(CmeError):]
	case strings.HasPrefix(line, CmsError):
		kind, rest = KindCMS, line[len(CmsError):]
	case line == ERROR:
		return &Error{Kind: KindGeneric, Code: UnknownCode, Message: line}
	default:
		return &Error{Kind: KindCall, Code: UnknownCode, Message: line}
	}

	rest = strings.TrimSpace(rest)
	code, err := strconv.Atoi(rest)
	if err != nil {
		return &Error{Kind: kind, Code: UnknownCode, Message: rest}
	}
	return &Error{Kind: kind, Code: code, Message: describe(kind, code)}
}

func describe(kind ErrorKind, code int) string {
	table := cmeMessages
	if kind == KindCMS {
		table = cmsMessages
	}
	if msg, ok := table[code]; ok {
		return msg
	}
	return "unknown error"
}

var cmeMessages = map[int]string{
	0:   "phone failure",
	3:   "operation not allowed",
	4:   "operation not supported",
	10:  "SIM not inserted",
	11:  "SIM PIN required",
	12:  "SIM PUK required",
	13:  "SIM failure",
	14:  "SIM busy",
	15:  "SIM wrong",
	16:  "incorrect password",
	17:  "SIM PIN2 required",
	18:  "SIM PUK2 required",
	20:  "memory full",
	21:  "invalid index",
	22:  "not found",
	23:  "memory failure",
	24:  "text string too long",
	25:  "invalid characters in text string",
	26:  "dial string too long",
	27:  "invalid characters in dial string",
	30:  "no network service",
	31:  "network timeout",
	32:  "network not allowed, emergency calls only",
	100: "unknown",
}

var cmsMessages = map[int]string{
	300: "ME failure",
	301: "SMS service of ME reserved",
	302: "operation not allowed",
	303: "operation not supported",
	304: "invalid PDU mode parameter",
	305: "invalid text mode parameter",
	310: "SIM not inserted",
	311: "SIM PIN required",
	313: "SIM failure",
	314: "SIM busy",
	315: "SIM wrong",
	320: "memory failure",
	321: "invalid memory index",
	322: "memory full",
	330: "SMSC address unknown",
	331: "no network service",
	332: "network timeout",
	500: "unknown error",
}
