// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package apdu

import "fmt"

// Status is the two-byte status word (SW1-SW2) trailing every response.
//
// Most words are static codes, but ISO 7816-4 reserves three dynamic
// ranges: 61XX (XX response bytes still available), 6CXX (wrong Le, the
// correct value is XX), and 63CX (a counter, e.g. remaining PIN retries,
// in the low nibble).
type Status uint16

// Static status words defined by ISO 7816-4.
const (
	SWSuccess Status = 0x9000

	SWWrongLength                Status = 0x6700
	SWSecurityStatusNotSatisfied Status = 0x6982
	SWAuthMethodBlocked          Status = 0x6983
	SWDataNotUsable              Status = 0x6984
	SWConditionsNotSatisfied     Status = 0x6985
	SWIncorrectData              Status = 0x6A80
	SWFuncNotSupported           Status = 0x6A81
	SWFileNotFound               Status = 0x6A82
	SWNotEnoughMemory            Status = 0x6A84
	SWIncorrectP1P2              Status = 0x6A86
	SWReferenceNotFound          Status = 0x6A88
	SWWrongP1P2                  Status = 0x6B00
	SWInsNotSupported            Status = 0x6D00
	SWClaNotSupported            Status = 0x6E00
	SWUnspecifiedError           Status = 0x6F00
)

// SW1 returns the high status byte.
func (s Status) SW1() byte { return byte(s >> 8) }

// SW2 returns the low status byte.
func (s Status) SW2() byte { return byte(s) }

// OK reports plain success (9000).
func (s Status) OK() bool { return s == SWSuccess }

// MoreData reports the 61XX form and how many response bytes the card
// still holds; 0x00 means at least 256.
func (s Status) MoreData() (int, bool) {
	if s.SW1() != 0x61 {
		return 0, false
	}
	n := int(s.SW2())
	if n == 0 {
		n = MaxShortResponse
	}
	return n, true
}

// CorrectedLength reports the 6CXX form: the command must be reissued
// with Ne set to the returned value.
func (s Status) CorrectedLength() (int, bool) {
	if s.SW1() != 0x6C {
		return 0, false
	}
	return int(s.SW2()), true
}

// RetryCount reports a verification counter carried in the status word.
// The standard form is 63CX with the count in the low nibble; some older
// cards answer 630X without the marker nibble, which is accepted too.
func (s Status) RetryCount() (int, bool) {
	if s.SW1() != 0x63 {
		return 0, false
	}
	switch s.SW2() & 0xF0 {
	case 0xC0, 0x00:
		return int(s.SW2() & 0x0F), true
	}
	return 0, false
}

func (s Status) String() string {
	if n, ok := s.MoreData(); ok {
		return fmt.Sprintf("SW=%04X (%d more response bytes available)", uint16(s), n)
	}
	if n, ok := s.CorrectedLength(); ok {
		return fmt.Sprintf("SW=%04X (wrong length, expected Ne %d)", uint16(s), n)
	}
	if n, ok := s.RetryCount(); ok {
		return fmt.Sprintf("SW=%04X (verification failed, %d retries remaining)", uint16(s), n)
	}
	if desc := s.describe(); desc != "" {
		return fmt.Sprintf("SW=%04X (%s)", uint16(s), desc)
	}
	return fmt.Sprintf("SW=%04X", uint16(s))
}

func (s Status) describe() string {
	switch s {
	case SWSuccess:
		return "success"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityStatusNotSatisfied:
		return "security status not satisfied"
	case SWAuthMethodBlocked:
		return "authentication method blocked"
	case SWDataNotUsable:
		return "referenced data not usable"
	case SWConditionsNotSatisfied:
		return "conditions of use not satisfied"
	case SWIncorrectData:
		return "incorrect command data"
	case SWFuncNotSupported:
		return "function not supported"
	case SWFileNotFound:
		return "file or application not found"
	case SWNotEnoughMemory:
		return "not enough memory space"
	case SWIncorrectP1P2:
		return "incorrect P1 or P2"
	case SWReferenceNotFound:
		return "referenced data not found"
	case SWWrongP1P2:
		return "wrong P1 or P2"
	case SWInsNotSupported:
		return "instruction not supported"
	case SWClaNotSupported:
		return "class not supported"
	case SWUnspecifiedError:
		return "unspecified error"
	}
	return ""
}
