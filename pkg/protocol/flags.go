package protocol

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// ServiceFlags is the flag word carried in request and reply payloads.
type ServiceFlags uint32

const (
	FlagMoreComing             ServiceFlags = 0x1
	FlagAdd                    ServiceFlags = 0x2
	FlagDefault                ServiceFlags = 0x4
	FlagNoAutoRename           ServiceFlags = 0x8
	FlagShared                 ServiceFlags = 0x10
	FlagUnique                 ServiceFlags = 0x20
	FlagBrowseDomains          ServiceFlags = 0x40
	FlagRegistrationDomains    ServiceFlags = 0x80
	FlagLongLivedQuery         ServiceFlags = 0x100
	FlagAllowRemoteQuery       ServiceFlags = 0x200
	FlagForceMulticast         ServiceFlags = 0x400
	FlagKnownUnique            ServiceFlags = 0x800
	FlagReturnIntermediates    ServiceFlags = 0x1000
	FlagNonBrowsable           ServiceFlags = 0x2000
	FlagShareConnection        ServiceFlags = 0x4000
	FlagSuppressUnusable       ServiceFlags = 0x8000
	FlagTimeout                ServiceFlags = 0x10000
	FlagIncludeP2P             ServiceFlags = 0x20000
	FlagWakeOnResolve          ServiceFlags = 0x40000
	FlagBackgroundTrafficClass ServiceFlags = 0x80000
	FlagIncludeAWDL            ServiceFlags = 0x100000
	FlagValidate               ServiceFlags = 0x200000
	FlagUnicastResponse        ServiceFlags = 0x400000
	FlagValidateOptional       ServiceFlags = 0x800000
	FlagWakeOnlyService        ServiceFlags = 0x1000000
	FlagThresholdOne           ServiceFlags = 0x2000000
	FlagThresholdFinder        ServiceFlags = 0x4000000
	FlagDenyCellular           ServiceFlags = 0x8000000
	FlagServiceIndex           ServiceFlags = 0x10000000
	FlagDenyExpensive          ServiceFlags = 0x20000000
	FlagPathEvaluationDone     ServiceFlags = 0x40000000
)

var serviceFlagNames = []struct {
	flag ServiceFlags
	name string
}{
	{FlagMoreComing, "MoreComing"},
	{FlagAdd, "Add"},
	{FlagDefault, "Default"},
	{FlagNoAutoRename, "NoAutoRename"},
	{FlagShared, "Shared"},
	{FlagUnique, "Unique"},
	{FlagBrowseDomains, "BrowseDomains"},
	{FlagRegistrationDomains, "RegistrationDomains"},
	{FlagLongLivedQuery, "LongLivedQuery"},
	{FlagAllowRemoteQuery, "AllowRemoteQuery"},
	{FlagForceMulticast, "ForceMulticast"},
	{FlagKnownUnique, "KnownUnique"},
	{FlagReturnIntermediates, "ReturnIntermediates"},
	{FlagNonBrowsable, "NonBrowsable"},
	{FlagShareConnection, "ShareConnection"},
	{FlagSuppressUnusable, "SuppressUnusable"},
	{FlagTimeout, "Timeout"},
	{FlagIncludeP2P, "IncludeP2P"},
	{FlagWakeOnResolve, "WakeOnResolve"},
	{FlagBackgroundTrafficClass, "BackgroundTrafficClass"},
	{FlagIncludeAWDL, "IncludeAWDL"},
	{FlagValidate, "Validate"},
	{FlagUnicastResponse, "UnicastResponse"},
	{FlagValidateOptional, "ValidateOptional"},
	{FlagWakeOnlyService, "WakeOnlyService"},
	{FlagThresholdOne, "ThresholdOne"},
	{FlagThresholdFinder, "ThresholdFinder"},
	{FlagDenyCellular, "DenyCellular"},
	{FlagServiceIndex, "ServiceIndex"},
	{FlagDenyExpensive, "DenyExpensive"},
	{FlagPathEvaluationDone, "PathEvaluationDone"},
}

// Has reports whether every bit of flag is set in f.
func (f ServiceFlags) Has(flag ServiceFlags) bool {
	return f&flag == flag
}

func (f ServiceFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	rest := f
	for _, n := range serviceFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ProtocolFlags selects address families and transports for address lookups.
type ProtocolFlags uint32

const (
	ProtocolIPv4   ProtocolFlags = 0x01
	ProtocolIPv6   ProtocolFlags = 0x02
	ProtocolIPv4v6 ProtocolFlags = ProtocolIPv4 | ProtocolIPv6
	ProtocolUDP    ProtocolFlags = 0x10
	ProtocolTCP    ProtocolFlags = 0x20
)

// HasAddressFamily reports whether at least one of the IPv4 or IPv6 bits is set.
func (p ProtocolFlags) HasAddressFamily() bool {
	return p&ProtocolIPv4v6 != 0
}

func (p ProtocolFlags) String() string {
	switch p & ProtocolIPv4v6 {
	case ProtocolIPv4:
		return "v4"
	case ProtocolIPv6:
		return "v6"
	case ProtocolIPv4v6:
		return "v4v6"
	default:
		return fmt.Sprintf("ProtocolFlags(0x%x)", uint32(p))
	}
}

// RecordType is a DNS resource record type as carried in address info replies.
type RecordType uint16

const (
	RecordA     RecordType = RecordType(dns.TypeA)
	RecordNS    RecordType = RecordType(dns.TypeNS)
	RecordCNAME RecordType = RecordType(dns.TypeCNAME)
	RecordSOA   RecordType = RecordType(dns.TypeSOA)
	RecordPTR   RecordType = RecordType(dns.TypePTR)
	RecordHINFO RecordType = RecordType(dns.TypeHINFO)
	RecordMX    RecordType = RecordType(dns.TypeMX)
	RecordTXT   RecordType = RecordType(dns.TypeTXT)
	RecordAAAA  RecordType = RecordType(dns.TypeAAAA)
	RecordSRV   RecordType = RecordType(dns.TypeSRV)
	RecordOPT   RecordType = RecordType(dns.TypeOPT)
	RecordNSEC  RecordType = RecordType(dns.TypeNSEC)
	RecordAny   RecordType = RecordType(dns.TypeANY)
)

// String returns the mnemonic used in zone files, e.g. "AAAA".
func (t RecordType) String() string {
	if name, ok := dns.TypeToString[uint16(t)]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// RecordClassIN is the Internet class.
const RecordClassIN uint16 = dns.ClassINET
