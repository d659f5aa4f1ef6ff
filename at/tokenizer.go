package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the SMS input prompt ("> ").
//
// With echo enabled a modem repeats the command followed by a bare CR
// before its CRLF framed response; the stray CR is trimmed from the
// token so the echo compares equal to the command.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match SMS Prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), bytes.TrimRight(data[0:i], CR), nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

var urcPrefixes = []string{
	UrcCallType,
	UrcCallerID,
	UrcMissedCall,
	UrcNewMsg,
	UrcMessageReport,
	UrcUSSD,
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK:
		return TypeFinal
	case ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeError
	case UrcCall:
		return TypeURC
	}

	// Prefix matches
	if strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError) {
		return TypeError
	}
	for _, prefix := range urcPrefixes {
		if strings.HasPrefix(line, prefix) {
			return TypeURC
		}
	}
	return TypeData
}
