package modem

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"i4.energy/across/atlink/pdu"
)

// Phone book storages.
const (
	StorageSIM       = "SM"
	StorageOwnNumber = "ON"
	StorageModem     = "ME"
	StorageFixedDial = "FD"
)

// PhoneBookContent is the occupancy of a phone book storage.
type PhoneBookContent struct {
	Storage  string
	Used     int
	Capacity int
}

// PhoneBookRecord is one phone book slot. An empty slot has only Index.
type PhoneBookRecord struct {
	Index  int
	Number string
	Title  string
}

var (
	cpbsPattern = regexp.MustCompile(`"(\w+)",(\d+),(\d+)`)
	cpbrPattern = regexp.MustCompile(`^\+CPBR:\s*(\d+),"([*#+\d]+)",\d+,(?:"(.*)")?`)
)

// ReadPhoneBook selects storage and reports how many of its slots are
// used.
func (m *Modem) ReadPhoneBook(ctx context.Context, storage string) (PhoneBookContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.expectOK(ctx, fmt.Sprintf(`AT+CPBS="%s"`, storage)); err != nil {
		return PhoneBookContent{}, fmt.Errorf("select phone book %s: %w", storage, err)
	}
	v, err := m.singleLine(ctx, "AT+CPBS?", "+CPBS:")
	if err != nil {
		return PhoneBookContent{}, err
	}
	match := cpbsPattern.FindStringSubmatch(v)
	if match == nil {
		return PhoneBookContent{}, fmt.Errorf("%w: +CPBS: %s", ErrMalformedResponse, v)
	}
	content := PhoneBookContent{Storage: match[1]}
	content.Used, _ = strconv.Atoi(match[2])
	content.Capacity, _ = strconv.Atoi(match[3])
	return content, nil
}

// ReadPhoneBookRecord reads the slot at index of the selected storage.
// Titles stored as UCS-2 hex are decoded; any other title is returned as
// stored.
func (m *Modem) ReadPhoneBookRecord(ctx context.Context, index int) (PhoneBookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.command(ctx, fmt.Sprintf("AT+CPBR=%d", index))
	if err != nil {
		return PhoneBookRecord{}, err
	}
	record := PhoneBookRecord{Index: index}
	for _, line := range resp.Intermediates {
		match := cpbrPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		record.Number = match[2]
		record.Title = match[3]
		if title, err := pdu.RawDecode(match[3]); err == nil {
			record.Title = title
		}
		break
	}
	return record, nil
}
