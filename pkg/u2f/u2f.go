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

// Package u2f drives the U2F (CTAP1) applet that ships alongside the
// identity applet, speaking the raw message format over the shared
// command framing. Registration and authentication return the parsed
// envelopes; signature verification against a relying party's stored
// state is the caller's business.
package u2f

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-smartcard/pkg/apdu"
)

// AID selects the U2F applet.
var AID = []byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01}

const (
	insSelect       = 0xA4
	insRegister     = 0x01
	insAuthenticate = 0x02
	insVersion      = 0x03

	// registerReserved opens every registration response.
	registerReserved = 0x05

	// publicKeyLength is the uncompressed P-256 point width.
	publicKeyLength = 65
)

// AuthMode is the control byte of an authentication request.
type AuthMode byte

const (
	// AuthEnforcePresence signs after a user-presence test.
	AuthEnforcePresence AuthMode = 0x03

	// AuthCheckOnly asks whether the key handle belongs to this token
	// without signing. A valid handle answers ErrConditionsNotSatisfied,
	// an unknown one ErrWrongData.
	AuthCheckOnly AuthMode = 0x07

	// AuthNoPresence signs without requiring a user-presence test.
	AuthNoPresence AuthMode = 0x08
)

// Valid reports whether m is a defined control value.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthEnforcePresence, AuthCheckOnly, AuthNoPresence:
		return true
	}
	return false
}

// Registration is a parsed registration response envelope.
type Registration struct {
	// PublicKey is the new credential's public key, an uncompressed
	// P-256 point.
	PublicKey []byte

	// KeyHandle identifies the credential in later authentications.
	KeyHandle []byte

	// Certificate is the token's attestation certificate.
	Certificate *x509.Certificate

	// Signature is the attestation signature over the registration
	// data, ASN.1-encoded ECDSA.
	Signature []byte
}

// Assertion is a parsed authentication response.
type Assertion struct {
	// UserPresent reports whether the token performed a user-presence
	// test for this signature.
	UserPresent bool

	// Counter is the token's signature counter.
	Counter uint32

	// Signature is the assertion signature, ASN.1-encoded ECDSA.
	Signature []byte
}

// Session is one conversation with a U2F applet.
type Session struct {
	client *apdu.Client
}

// NewSession selects the U2F application over the given connection.
// When the transmitter also implements interface{ MaxData() int },
// command chaining uses that frame limit.
func NewSession(tx apdu.Transmitter) (*Session, error) {
	client := apdu.NewClient(tx)
	if sizer, ok := tx.(interface{ MaxData() int }); ok {
		client.MaxData = sizer.MaxData()
	}

	s := &Session{client: client}
	resp, err := s.send(apdu.Command{
		Ins:  insSelect,
		P1:   0x04,
		Data: AID,
		Ne:   apdu.MaxShortResponse,
	})
	if err != nil {
		return nil, err
	}
	switch sw := resp.Status(); {
	case sw.OK():
		return s, nil
	case sw == apdu.SWFileNotFound:
		return nil, fmt.Errorf("u2f: applet not present: %w", &apdu.StatusError{Status: sw})
	default:
		return nil, fmt.Errorf("u2f: select: %w", &apdu.StatusError{Status: sw})
	}
}

// Version reads the protocol version string, "U2F_V2" for every token
// in this family.
func (s *Session) Version() (string, error) {
	resp, err := s.send(apdu.Command{Ins: insVersion, Ne: apdu.MaxShortResponse})
	if err != nil {
		return "", err
	}
	if !resp.Status().OK() {
		return "", fmt.Errorf("u2f: get version: %w", &apdu.StatusError{Status: resp.Status()})
	}
	return string(resp.Data), nil
}

// Register enrolls a new credential for the given challenge and
// application parameters. The token typically wants a user-presence
// test first; ErrConditionsNotSatisfied means try again after touch.
func (s *Session) Register(challenge, application [32]byte) (*Registration, error) {
	data := make([]byte, 0, len(challenge)+len(application))
	data = append(data, challenge[:]...)
	data = append(data, application[:]...)

	resp, err := s.send(apdu.Command{
		Ins:  insRegister,
		P1:   byte(AuthEnforcePresence),
		Data: data,
		Ne:   apdu.MaxShortResponse,
	})
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp.Status(), "register"); err != nil {
		return nil, err
	}
	return parseRegistration(resp.Data)
}

// Authenticate requests a signature (or a key handle check, per mode)
// over the given challenge and application parameters.
func (s *Session) Authenticate(mode AuthMode, challenge, application [32]byte, keyHandle []byte) (*Assertion, error) {
	if !mode.Valid() {
		return nil, ErrInvalidAuthMode
	}
	if len(keyHandle) == 0 || len(keyHandle) > 0xFF {
		return nil, ErrInvalidKeyHandle
	}

	data := make([]byte, 0, len(challenge)+len(application)+1+len(keyHandle))
	data = append(data, challenge[:]...)
	data = append(data, application[:]...)
	data = append(data, byte(len(keyHandle)))
	data = append(data, keyHandle...)

	resp, err := s.send(apdu.Command{
		Ins:  insAuthenticate,
		P1:   byte(mode),
		Data: data,
		Ne:   apdu.MaxShortResponse,
	})
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp.Status(), "authenticate"); err != nil {
		return nil, err
	}
	return parseAssertion(resp.Data)
}

// statusErr maps the raw message status words to their sentinels.
func statusErr(sw apdu.Status, op string) error {
	switch {
	case sw.OK():
		return nil
	case sw == apdu.SWConditionsNotSatisfied:
		return ErrConditionsNotSatisfied
	case sw == apdu.SWIncorrectData:
		return ErrWrongData
	default:
		return fmt.Errorf("u2f: %s: %w", op, &apdu.StatusError{Status: sw})
	}
}

func parseRegistration(data []byte) (*Registration, error) {
	if len(data) < 1+publicKeyLength+1 {
		return nil, fmt.Errorf("%w: registration envelope is %d bytes", ErrUnexpectedResponse, len(data))
	}
	if data[0] != registerReserved {
		return nil, fmt.Errorf("%w: registration opens with %02X", ErrUnexpectedResponse, data[0])
	}
	reg := &Registration{
		PublicKey: append([]byte(nil), data[1:1+publicKeyLength]...),
	}
	rest := data[1+publicKeyLength:]

	khLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < khLen {
		return nil, fmt.Errorf("%w: key handle truncated", ErrUnexpectedResponse)
	}
	reg.KeyHandle = append([]byte(nil), rest[:khLen]...)
	rest = rest[khLen:]

	// The certificate's own DER length marks where the signature
	// starts.
	var certRaw asn1.RawValue
	sig, err := asn1.Unmarshal(rest, &certRaw)
	if err != nil {
		return nil, fmt.Errorf("u2f: attestation certificate framing: %w", err)
	}
	cert, err := x509.ParseCertificate(certRaw.FullBytes)
	if err != nil {
		return nil, fmt.Errorf("u2f: attestation certificate: %w", err)
	}
	reg.Certificate = cert

	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: registration carries no signature", ErrUnexpectedResponse)
	}
	reg.Signature = append([]byte(nil), sig...)
	return reg, nil
}

func parseAssertion(data []byte) (*Assertion, error) {
	if len(data) < 1+4+1 {
		return nil, fmt.Errorf("%w: assertion is %d bytes", ErrUnexpectedResponse, len(data))
	}
	return &Assertion{
		UserPresent: data[0]&0x01 != 0,
		Counter:     binary.BigEndian.Uint32(data[1:5]),
		Signature:   append([]byte(nil), data[5:]...),
	}, nil
}

func (s *Session) send(cmd apdu.Command) (apdu.Response, error) {
	resp, err := s.client.Send(cmd)
	if err != nil {
		var statusErr *apdu.StatusError
		if errors.As(err, &statusErr) {
			return resp, err
		}
		return resp, fmt.Errorf("u2f: transport: %w", err)
	}
	return resp, nil
}
