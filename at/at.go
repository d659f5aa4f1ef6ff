package at

const (
	// Terminal Control
	CR     = "\r"
	CRLF   = "\r\n"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcCall          = "RING"
	UrcCallType      = "+CRING:"
	UrcCallerID      = "+CLIP:"
	UrcMissedCall    = "MISSED_CALL:"
	UrcNewMsg        = "+CMTI:"
	UrcMessageReport = "+CDSI:"
	UrcUSSD          = "+CUSD:"
)

// Commands issued by the modem setup sequence.
const (
	CmdAt          = "AT"
	CmdEchoOff     = "ATE0"
	CmdErrorCodes  = "AT+CMEE=1"
	CmdSimStatus   = "AT+CPIN?"
	CmdSetTextMode = "AT+CMGF=1"
	CmdSetPDUMode  = "AT+CMGF=0"

	SimReady = "READY"
	SimPin   = "SIM PIN"
)

type ResponseType int

const (
	TypeData   ResponseType = iota // Intermediate command output (+CSQ: ...)
	TypeFinal                      // OK
	TypeError                      // ERROR, +CME ERROR, +CMS ERROR, call failures
	TypeURC                        // Asynchronous notifications
	TypePrompt                     // SMS input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeFinal:
		return "final"
	case TypeError:
		return "error"
	case TypeURC:
		return "urc"
	case TypePrompt:
		return "prompt"
	}
	return "unknown"
}
