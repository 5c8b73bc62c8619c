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

// Package piv implements the host side of a PIV-class identity applet:
// session management, PIN and PUK verification with retry and blocking
// semantics, mutual management key authentication, typed card data
// objects, and the PIN-only management key modes.
//
// A Session owns one exclusive conversation with one applet instance.
// Calls are synchronous and the Session performs no internal locking;
// concurrent use of one Session requires external mutual exclusion.
// Authentication state lives in the Session and is never persisted;
// persisted mode bookkeeping (never raw secrets) lives in the
// administrative data object on the card.
package piv

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-smartcard/pkg/apdu"
	"github.com/jeremyhahn/go-smartcard/pkg/kdf"
)

// AID is the PIV application identifier, right-truncated.
var AID = []byte{0xA0, 0x00, 0x00, 0x03, 0x08}

// Factory reference data.
const (
	DefaultPIN = "123456"
	DefaultPUK = "12345678"
)

// DefaultRetries is the factory retry maximum assumed for PIN and PUK
// until the card reports otherwise.
const DefaultRetries = 3

// Applet instructions. The 0xF7-0xFF range is vendor-assigned.
const (
	insVerify              = 0x20
	insChangeReference     = 0x24
	insResetRetry          = 0x2C
	insGenerateAsymmetric  = 0x47
	insGeneralAuthenticate = 0x87
	insSelect              = 0xA4
	insGetData             = 0xCB
	insPutData             = 0xDB

	insSetManagementKey = 0xFF
	insImportKey        = 0xFE
	insGetVersion       = 0xFD
	insSetPINRetries    = 0xFA
	insAttest           = 0xF9
	insGetSerial        = 0xF8
	insMetadata         = 0xF7
)

// Dynamic authentication template tags (GENERAL AUTHENTICATE).
const (
	tagDynAuth   = 0x7C
	tagWitness   = 0x80
	tagChallenge = 0x81
	tagResponse  = 0x82
)

// Data addressing tags.
const (
	tagObjectID  = 0x5C
	tagContainer = 0x53
)

// Version is an applet firmware version.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is the given version or newer.
func (v Version) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// retryState is the session's view of one retry counter. Counts change
// only on card reports, never by local prediction.
type retryState struct {
	count   int
	max     int
	known   bool
	blocked bool
}

func newRetryState() retryState {
	return retryState{count: DefaultRetries, max: DefaultRetries}
}

// sync records a card-reported remaining count.
func (r *retryState) sync(count int) {
	r.count = count
	r.known = true
	if count == 0 {
		r.blocked = true
	}
}

// fresh marks the counter replenished to its maximum.
func (r *retryState) fresh() {
	r.count = r.max
	r.known = true
	r.blocked = false
}

// Session is one authenticated conversation with a PIV applet.
type Session struct {
	client *apdu.Client

	// Rand supplies challenges, salts and generated keys. Defaults to
	// crypto/rand.
	Rand io.Reader

	// KDF derives PIN-based management keys. Defaults to the
	// interoperable PBKDF2 scheme.
	KDF kdf.Deriver

	version   Version
	serial    uint32
	hasSerial bool

	pinVerified      bool
	keyAuthenticated bool
	mgmtKeyAlg       Algorithm
	pin              retryState
	puk              retryState

	now func() time.Time
}

// NewSession selects the PIV application over the given connection and
// reads the applet version. When the transmitter also implements
// interface{ MaxData() int }, command chaining uses that frame limit.
func NewSession(tx apdu.Transmitter) (*Session, error) {
	client := apdu.NewClient(tx)
	if sizer, ok := tx.(interface{ MaxData() int }); ok {
		client.MaxData = sizer.MaxData()
	}

	s := &Session{
		client: client,
		Rand:   rand.Reader,
		KDF:    kdf.NewPBKDF2(),
		pin:    newRetryState(),
		puk:    newRetryState(),
		now:    time.Now,
	}

	if err := s.selectApplication(); err != nil {
		return nil, err
	}
	if err := s.readVersion(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close drops the session's authentication state. The connection itself
// belongs to the caller and stays open.
func (s *Session) Close() error {
	s.pinVerified = false
	s.keyAuthenticated = false
	return nil
}

// Version returns the applet firmware version read at session start.
func (s *Session) Version() Version {
	return s.version
}

// Serial returns the card serial number, read on first use.
func (s *Session) Serial() (uint32, error) {
	if s.hasSerial {
		return s.serial, nil
	}
	resp, err := s.send(apdu.Command{Ins: insGetSerial, Ne: 4})
	if err != nil {
		return 0, err
	}
	if !resp.Status().OK() {
		return 0, fmt.Errorf("piv: get serial: %w", &apdu.StatusError{Status: resp.Status()})
	}
	if len(resp.Data) != 4 {
		return 0, fmt.Errorf("%w: serial is %d bytes", ErrUnexpectedResponse, len(resp.Data))
	}
	s.serial = binary.BigEndian.Uint32(resp.Data)
	s.hasSerial = true
	return s.serial, nil
}

// PINVerified reports whether this session holds a verified PIN.
func (s *Session) PINVerified() bool {
	return s.pinVerified
}

// ManagementKeyAuthenticated reports whether this session holds an
// authenticated management key.
func (s *Session) ManagementKeyAuthenticated() bool {
	return s.keyAuthenticated
}

func (s *Session) selectApplication() error {
	resp, err := s.send(apdu.Command{
		Ins:  insSelect,
		P1:   0x04,
		Data: AID,
		Ne:   256,
	})
	if err != nil {
		return err
	}
	switch sw := resp.Status(); {
	case sw.OK():
		return nil
	case sw == apdu.SWFileNotFound:
		return fmt.Errorf("piv: applet not present: %w", &apdu.StatusError{Status: sw})
	default:
		return fmt.Errorf("piv: select: %w", &apdu.StatusError{Status: sw})
	}
}

func (s *Session) readVersion() error {
	resp, err := s.send(apdu.Command{Ins: insGetVersion, Ne: 3})
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return fmt.Errorf("piv: get version: %w", &apdu.StatusError{Status: resp.Status()})
	}
	if len(resp.Data) != 3 {
		return fmt.Errorf("%w: version is %d bytes", ErrUnexpectedResponse, len(resp.Data))
	}
	s.version = Version{
		Major: int(resp.Data[0]),
		Minor: int(resp.Data[1]),
		Patch: int(resp.Data[2]),
	}
	return nil
}

// send performs one logical exchange. Transport failures surface
// wrapped and are never retried here.
func (s *Session) send(cmd apdu.Command) (apdu.Response, error) {
	resp, err := s.client.Send(cmd)
	if err != nil {
		var statusErr *apdu.StatusError
		if errors.As(err, &statusErr) {
			return resp, err
		}
		return resp, fmt.Errorf("piv: transport: %w", err)
	}
	return resp, nil
}
