package modem

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MessageFormat selects the AT+CMGF mode used for SMS.
type MessageFormat string

const (
	FormatText MessageFormat = "text"
	FormatPDU  MessageFormat = "pdu"
)

// Encoding is how USSD codes are written on the wire.
type Encoding string

const (
	// EncodingGSM sends the code as typed.
	EncodingGSM Encoding = "gsm"
	// EncodingUCS2 sends the code as UCS-2 hex, for modems whose
	// character set is UCS2.
	EncodingUCS2 Encoding = "ucs2"
)

// Setting is one configuration command of a setup sequence. A failing
// optional setting is logged and skipped.
type Setting struct {
	Command  string `yaml:"command"`
	Optional bool   `yaml:"optional"`
}

// Profile lists the quirks of a modem model: the commands it needs
// before and after SIM unlock, its message format and its USSD coding.
type Profile struct {
	Name          string        `yaml:"name"`
	BeforePIN     []Setting     `yaml:"before_pin"`
	AfterPIN      []Setting     `yaml:"after_pin"`
	MessageFormat MessageFormat `yaml:"message_format"`
	USSDEncoding  Encoding      `yaml:"ussd_encoding"`
	USSDDCS       int           `yaml:"-"`
}

func (p Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile without a name")
	}
	switch p.MessageFormat {
	case FormatText, FormatPDU:
	default:
		return fmt.Errorf("profile %s: unknown message format %q", p.Name, p.MessageFormat)
	}
	switch p.USSDEncoding {
	case EncodingGSM, EncodingUCS2:
	default:
		return fmt.Errorf("profile %s: unknown USSD encoding %q", p.Name, p.USSDEncoding)
	}
	for _, s := range append(append([]Setting{}, p.BeforePIN...), p.AfterPIN...) {
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("profile %s: empty setting command", p.Name)
		}
	}
	return nil
}

// Built-in profiles.
var (
	Generic = Profile{
		Name:          "generic",
		MessageFormat: FormatText,
		USSDEncoding:  EncodingGSM,
		USSDDCS:       15,
	}

	SIM800 = Profile{
		Name: "sim800",
		AfterPIN: []Setting{
			{Command: `AT+CSCS="GSM"`},
			{Command: "AT+CLIP=1", Optional: true},
			{Command: "AT+CNMI=2,1,0,0,0", Optional: true},
		},
		MessageFormat: FormatText,
		USSDEncoding:  EncodingGSM,
		USSDDCS:       15,
	}

	SIM5320 = Profile{
		Name: "sim5320",
		AfterPIN: []Setting{
			{Command: `AT+CSCS="IRA"`},
			{Command: "AT+CNMI=2,1,0,0,0", Optional: true},
		},
		MessageFormat: FormatText,
		USSDEncoding:  EncodingGSM,
		USSDDCS:       15,
	}

	QuectelM26 = Profile{
		Name: "quectel-m26",
		BeforePIN: []Setting{
			{Command: "AT+QSIMSTAT=0", Optional: true},
		},
		AfterPIN: []Setting{
			{Command: `AT+CSCS="UCS2"`},
			{Command: "AT+CNMI=0,0,0,0,0", Optional: true},
		},
		MessageFormat: FormatPDU,
		USSDEncoding:  EncodingUCS2,
		USSDDCS:       0,
	}
)

var (
	profilesMu sync.RWMutex
	profiles   = map[string]Profile{
		Generic.Name:    Generic,
		SIM800.Name:     SIM800,
		SIM5320.Name:    SIM5320,
		QuectelM26.Name: QuectelM26,
	}
)

// LookupProfile returns the profile registered for model. Model names
// are case-insensitive.
func LookupProfile(model string) (Profile, error) {
	profilesMu.RLock()
	defer profilesMu.RUnlock()
	p, ok := profiles[strings.ToLower(model)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, model)
	}
	return p, nil
}

// Profiles returns the names of all registered profiles, sorted.
func Profiles() []string {
	profilesMu.RLock()
	defer profilesMu.RUnlock()
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterProfile adds or replaces a profile.
func RegisterProfile(p Profile) error {
	if err := p.validate(); err != nil {
		return err
	}
	profilesMu.Lock()
	defer profilesMu.Unlock()
	profiles[strings.ToLower(p.Name)] = p
	return nil
}

// profileEntry keeps an omitted ussd_dcs apart from an explicit 0.
type profileEntry struct {
	Profile `yaml:",inline"`
	USSDDCS *int `yaml:"ussd_dcs"`
}

type profileFile struct {
	Profiles []profileEntry `yaml:"profiles"`
}

// LoadProfiles reads a YAML document with a top-level "profiles" list
// and registers each entry. Omitted formats default to text and GSM, an
// omitted USSD coding scheme to 15.
func LoadProfiles(r io.Reader) ([]Profile, error) {
	var f profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	loaded := make([]Profile, 0, len(f.Profiles))
	for _, entry := range f.Profiles {
		p := entry.Profile
		if p.MessageFormat == "" {
			p.MessageFormat = FormatText
		}
		if p.USSDEncoding == "" {
			p.USSDEncoding = EncodingGSM
		}
		p.USSDDCS = 15
		if entry.USSDDCS != nil {
			p.USSDDCS = *entry.USSDDCS
		}
		if err := RegisterProfile(p); err != nil {
			return nil, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
