// Package txtrecord builds and parses DNS-SD TXT record data: a sequence of
// length-prefixed strings of at most 255 bytes each.
package txtrecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// MaxStringLength is the longest single TXT string.
const MaxStringLength = 255

var ErrStringTooLong = errors.New("txt string exceeds 255 bytes")

// Record is one TXT string, typically "key=value".
type Record []byte

// String renders r with non-printable bytes as \xHH.
func (r Record) String() string {
	var b strings.Builder
	for _, c := range r {
		if IsPrintable(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "\\x%02X", c)
		}
	}
	return b.String()
}

// KeyValue splits r at the first '='. A record without '=' is a bare key.
func (r Record) KeyValue() (key string, value []byte, hasValue bool) {
	s := string(r)
	if i := strings.IndexByte(s, '='); i >= 0 {
		return s[:i], r[i+1:], true
	}
	return s, nil, false
}

// IsPrintable reports whether c is in the printable ASCII range.
func IsPrintable(c byte) bool {
	return c >= 0x20 && c <= 0x7E
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ParseArg converts a command-line TXT string into a record. "\xHH" is a hex
// byte and "\c" is c taken literally; a trailing backslash is kept as is.
// Output stops at MaxStringLength bytes.
func ParseArg(s string) Record {
	out := make(Record, 0, len(s))
	for i := 0; i < len(s) && len(out) < MaxStringLength; {
		switch {
		case s[i] != '\\' || i+1 == len(s):
			out = append(out, s[i])
			i++
		case s[i+1] == 'x' && i+4 <= len(s) && isHexDigit(s[i+2]) && isHexDigit(s[i+3]):
			v, _ := strconv.ParseUint(s[i+2:i+4], 16, 8)
			out = append(out, byte(v))
			i += 4
		default:
			out = append(out, s[i+1])
			i += 2
		}
	}
	return out
}

// FromArgs parses command-line TXT strings and packs them.
func FromArgs(args []string) ([]byte, error) {
	records := make([]Record, 0, len(args))
	for _, a := range args {
		records = append(records, ParseArg(a))
	}
	return Pack(records)
}

// rdataOffset is where rdata starts in a packed RR whose owner is the root.
const rdataOffset = 1 + 2 + 2 + 4 + 2

// Pack encodes records as TXT rdata.
func Pack(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	size := rdataOffset
	txt := &dns.TXT{
		Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: make([]string, 0, len(records)),
	}
	for _, r := range records {
		if len(r) > MaxStringLength {
			return nil, fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(r))
		}
		txt.Txt = append(txt.Txt, escape(r))
		size += 1 + len(r)
	}

	buf := make([]byte, size+16)
	end, err := dns.PackRR(txt, buf, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("pack txt record: %w", err)
	}
	rdlen := int(binary.BigEndian.Uint16(buf[rdataOffset-2 : rdataOffset]))
	if rdataOffset+rdlen != end {
		return nil, fmt.Errorf("pack txt record: rdata length %d does not match %d packed bytes", rdlen, end-rdataOffset)
	}
	return buf[rdataOffset:end], nil
}

// Unpack splits TXT rdata into records. Empty rdata yields no records.
func Unpack(rdata []byte) ([]Record, error) {
	if len(rdata) == 0 {
		return nil, nil
	}
	if len(rdata) > 0xFFFF {
		return nil, errors.New("txt rdata exceeds 65535 bytes")
	}

	msg := make([]byte, rdataOffset, rdataOffset+len(rdata))
	binary.BigEndian.PutUint16(msg[1:3], dns.TypeTXT)
	binary.BigEndian.PutUint16(msg[3:5], dns.ClassINET)
	binary.BigEndian.PutUint16(msg[9:11], uint16(len(rdata)))
	msg = append(msg, rdata...)

	rr, _, err := dns.UnpackRR(msg, 0)
	if err != nil {
		return nil, fmt.Errorf("unpack txt record: %w", err)
	}
	txt, ok := rr.(*dns.TXT)
	if !ok {
		return nil, fmt.Errorf("unpack txt record: unexpected %T", rr)
	}

	records := make([]Record, 0, len(txt.Txt))
	for _, s := range txt.Txt {
		records = append(records, unescape(s))
	}
	return records, nil
}

// escape renders raw bytes in the zone-file form the dns package packs.
func escape(r Record) string {
	var b strings.Builder
	for _, c := range r {
		switch {
		case c == '\\' || c == '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case IsPrintable(c):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\%03d", c)
		}
	}
	return b.String()
}

// unescape reverses the zone-file escaping of an unpacked TXT string.
func unescape(s string) Record {
	out := make(Record, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			out = append(out, s[i])
			continue
		}
		if i+3 < len(s) && isDigit(s[i+1]) && isDigit(s[i+2]) && isDigit(s[i+3]) {
			v, _ := strconv.Atoi(s[i+1 : i+4])
			out = append(out, byte(v))
			i += 3
			continue
		}
		out = append(out, s[i+1])
		i++
	}
	return out
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
