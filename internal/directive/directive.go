// Package directive pulls structured instructions out of an assistant's
// free-text reply. A reply may carry a PATIENT_CREATION object, a
// BOOKING_CONFIRMATION object, both, or neither.
package directive

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

const (
	MarkerPatientCreation = "PATIENT_CREATION:"
	MarkerBooking         = "BOOKING_CONFIRMATION:"
)

type Kind int

const (
	KindPatientCreation Kind = iota + 1
	KindBooking
)

func (k Kind) String() string {
	switch k {
	case KindPatientCreation:
		return "patient_creation"
	case KindBooking:
		return "booking"
	default:
		return "unknown"
	}
}

var (
	ErrNoObject         = fmt.Errorf("%w: no balanced JSON object after marker", apperr.ErrInvalid)
	ErrMissingField     = fmt.Errorf("%w: directive is missing a required field", apperr.ErrInvalid)
	ErrInvalidBirthDate = fmt.Errorf("%w: date_of_birth must be MM/DD/YYYY", apperr.ErrInvalid)
)

type PatientCreation struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DateOfBirth string `json:"date_of_birth"`
}

// BirthDate parses DateOfBirth as MM/DD/YYYY, accepting ISO dates too.
func (p PatientCreation) BirthDate() (*time.Time, error) {
	raw := strings.TrimSpace(p.DateOfBirth)
	for _, layout := range []string{"01/02/2006", "1/2/2006", slot.DateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidBirthDate, p.DateOfBirth)
}

type Booking struct {
	Dentist     string `json:"dentist"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone,omitempty"`
	Treatment   string `json:"treatment,omitempty"`
}

// Slot parses the booking's date and time.
func (b Booking) Slot() (time.Time, string, error) {
	date, err := slot.ParseDate(b.Date)
	if err != nil {
		return time.Time{}, "", err
	}
	start, err := slot.NormalizeTime(b.Time)
	if err != nil {
		return time.Time{}, "", err
	}
	return date, start, nil
}

// Problem records a marker that was present but did not yield a usable
// directive.
type Problem struct {
	Kind Kind
	Err  error
}

func (p Problem) Error() string { return p.Kind.String() + ": " + p.Err.Error() }

func (p Problem) Unwrap() error { return p.Err }

// Result holds whatever could be extracted.
type Result struct {
	Patient  *PatientCreation
	Booking  *Booking
	Problems []Problem
}

func (r Result) Empty() bool {
	return r.Patient == nil && r.Booking == nil
}

func Extract(text string) Result {
	var res Result

	if raw, ok, err := objectAfter(text, MarkerPatientCreation); ok {
		if err == nil {
			res.Patient, err = DecodePatient(raw)
		}
		if err != nil {
			res.Problems = append(res.Problems, Problem{Kind: KindPatientCreation, Err: err})
		}
	}

	if raw, ok, err := objectAfter(text, MarkerBooking); ok {
		if err == nil {
			res.Booking, err = DecodeBooking(raw)
		}
		if err != nil {
			res.Problems = append(res.Problems, Problem{Kind: KindBooking, Err: err})
		}
	}

	return res
}

func DecodePatient(raw []byte) (*PatientCreation, error) {
	fields, err := requiredStrings(raw, "name", "email", "phone", "date_of_birth")
	if err != nil {
		return nil, err
	}
	return &PatientCreation{
		Name:        fields["name"],
		Email:       fields["email"],
		Phone:       fields["phone"],
		DateOfBirth: fields["date_of_birth"],
	}, nil
}

func DecodeBooking(raw []byte) (*Booking, error) {
	fields, err := requiredStrings(raw, "dentist", "date", "time", "patient_name")
	if err != nil {
		return nil, err
	}
	b := &Booking{
		Dentist:     fields["dentist"],
		Date:        fields["date"],
		Time:        fields["time"],
		PatientName: fields["patient_name"],
	}
	var opt struct {
		Phone     any `json:"phone"`
		Treatment any `json:"treatment"`
	}
	_ = json.Unmarshal(raw, &opt)
	if s, ok := opt.Phone.(string); ok {
		b.Phone = strings.TrimSpace(s)
	}
	if s, ok := opt.Treatment.(string); ok {
		b.Treatment = strings.TrimSpace(s)
	}
	return b, nil
}

// requiredStrings decodes raw as an object and returns the named keys,
// each of which must be a non-empty string.
func requiredStrings(raw []byte, keys ...string) (map[string]string, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		s, ok := obj[k].(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w %q", ErrMissingField, k)
		}
		out[k] = s
	}
	return out, nil
}

// objectAfter finds marker in text and returns the balanced {...} span
// that starts at the first brace after it. found is false when the marker
// is absent.
func objectAfter(text, marker string) (raw []byte, found bool, err error) {
	i := strings.Index(text, marker)
	if i < 0 {
		return nil, false, nil
	}
	rest := text[i+len(marker):]
	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return nil, true, ErrNoObject
	}

	depth := 0
	inString, escaped := false, false
	for j := start; j < len(rest); j++ {
		c := rest[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(rest[start : j+1]), true, nil
			}
		}
	}
	return nil, true, ErrNoObject
}
