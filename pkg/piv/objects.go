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

package piv

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-smartcard/internal/secret"
	"github.com/jeremyhahn/go-smartcard/pkg/tlv"
)

// ObjectID is a card data object address. Addresses are card-assigned;
// only the fixed set below is accepted, and validation happens before
// any transport I/O.
type ObjectID uint32

// Card data object addresses.
const (
	ObjectCardholderID ObjectID = 0x5FC102
	ObjectCapability   ObjectID = 0x5FC107
	ObjectPINProtected ObjectID = 0x5FC109
	ObjectKeyHistory   ObjectID = 0x5FC10C
	ObjectAdminData    ObjectID = 0x5FFF00
)

// Valid reports whether id is one of the known object addresses.
func (id ObjectID) Valid() bool {
	switch id {
	case ObjectCardholderID, ObjectCapability, ObjectPINProtected,
		ObjectKeyHistory, ObjectAdminData:
		return true
	}
	return false
}

// Bytes returns the minimal big-endian encoding used in address lists.
func (id ObjectID) Bytes() []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		return []byte{byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	}
}

func (id ObjectID) String() string {
	return fmt.Sprintf("0x%X", uint32(id))
}

// DataObject is a typed card data object. Every object serializes
// under the 0x53 container tag; an instance whose fields are all at
// their defaults encodes as an empty container, which is how stored
// content is cleared. The set of implementations is closed.
type DataObject interface {
	// ID returns the card address the object lives at.
	ID() ObjectID

	// IsEmpty reports whether the object carries no content. Reading
	// an address with nothing stored yields an empty object.
	IsEmpty() bool

	// Encode serializes the object to its stored container form.
	Encode() ([]byte, error)

	decode(data []byte) error
}

// DecodeObject parses the stored encoding of the object at id into its
// typed form. Unknown addresses fail with ErrInvalidTag before the
// data is examined. No data, or a bare empty container, decodes to an
// empty object.
func DecodeObject(id ObjectID, data []byte) (DataObject, error) {
	obj, err := newObject(id)
	if err != nil {
		return nil, err
	}
	if err := obj.decode(data); err != nil {
		return nil, err
	}
	return obj, nil
}

func newObject(id ObjectID) (DataObject, error) {
	switch id {
	case ObjectCardholderID:
		return &CardholderID{}, nil
	case ObjectCapability:
		return &Capability{}, nil
	case ObjectPINProtected:
		return &PINProtectedData{}, nil
	case ObjectKeyHistory:
		return &KeyHistory{}, nil
	case ObjectAdminData:
		return &AdminData{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidTag, id)
}

// decodeContainer unwraps the 0x53 container and returns its children.
// Absent data and an empty container both yield no children.
func decodeContainer(data []byte) (tlv.TagValues, error) {
	if len(data) == 0 {
		return nil, nil
	}
	outer, err := tlv.DecodeSingle(data)
	if err != nil {
		return nil, err
	}
	if outer.Tag != tagContainer {
		return nil, fmt.Errorf("%w: expected data container, got %s", ErrUnexpectedResponse, outer.Tag)
	}
	if len(outer.Value) == 0 {
		return nil, nil
	}
	return outer.Nested()
}

func encodeContainer(children ...tlv.TagValue) ([]byte, error) {
	return tlv.Encode(tlv.New(tagContainer, children...))
}

// defaultFASCN is the card identifier published for issuers without a
// federal agency code, making the cardholder object self-describing as
// non-federal.
var defaultFASCN = []byte{
	0xd4, 0xe7, 0x39, 0xda, 0x73, 0x9c, 0xed, 0x39, 0xce, 0x73,
	0x9d, 0x83, 0x68, 0x58, 0x21, 0x08, 0x42, 0x10, 0x84, 0x21,
	0xc8, 0x42, 0x10, 0xc3, 0xeb,
}

// DefaultExpiration is the far-future expiration date stamped into
// generated cardholder objects, YYYYMMDD.
const DefaultExpiration = "20300101"

// Cardholder object child tags.
const (
	tagCardholderFASCN      = 0x30
	tagCardholderGUID       = 0x34
	tagCardholderExpiration = 0x35
	tagCardholderSignature  = 0x3E
	tagCardholderErrorCode  = 0xFE
)

// CardholderID is the cardholder unique identifier object: the
// GUID-like identity bytes hosts use to recognize a card.
type CardholderID struct {
	// FASCN is the agency smart credential number, opaque here.
	FASCN []byte

	// GUID is the card's global identifier.
	GUID uuid.UUID

	// Expiration is the ASCII YYYYMMDD expiration date.
	Expiration string
}

var _ DataObject = (*CardholderID)(nil)

// NewCardholderID builds a populated cardholder object with the
// non-federal issuer identifier, a random GUID and the default
// expiration. A nil reader uses crypto/rand.
func NewCardholderID(random io.Reader) (*CardholderID, error) {
	if random == nil {
		random = rand.Reader
	}
	guid, err := uuid.NewRandomFromReader(random)
	if err != nil {
		return nil, fmt.Errorf("piv: generating GUID: %w", err)
	}
	c := &CardholderID{
		FASCN:      make([]byte, len(defaultFASCN)),
		GUID:       guid,
		Expiration: DefaultExpiration,
	}
	copy(c.FASCN, defaultFASCN)
	return c, nil
}

func (c *CardholderID) ID() ObjectID { return ObjectCardholderID }

func (c *CardholderID) IsEmpty() bool {
	return len(c.FASCN) == 0 && c.GUID == uuid.Nil && c.Expiration == ""
}

func (c *CardholderID) Encode() ([]byte, error) {
	if c.IsEmpty() {
		return encodeContainer()
	}
	children := make(tlv.TagValues, 0, 5)
	if len(c.FASCN) > 0 {
		children = append(children, tlv.NewValue(tagCardholderFASCN, c.FASCN))
	}
	if c.GUID != uuid.Nil {
		children = append(children, tlv.NewValue(tagCardholderGUID, c.GUID[:]))
	}
	if c.Expiration != "" {
		children = append(children, tlv.NewValue(tagCardholderExpiration, []byte(c.Expiration)))
	}
	children = append(children,
		tlv.New(tagCardholderSignature),
		tlv.New(tagCardholderErrorCode))
	return encodeContainer(children...)
}

func (c *CardholderID) decode(data []byte) error {
	*c = CardholderID{}
	children, err := decodeContainer(data)
	if err != nil {
		return err
	}
	if v, ok := children.GetValue(tagCardholderFASCN); ok && len(v) > 0 {
		c.FASCN = append([]byte(nil), v...)
	}
	if v, ok := children.GetValue(tagCardholderGUID); ok && len(v) > 0 {
		guid, err := uuid.FromBytes(v)
		if err != nil {
			return fmt.Errorf("%w: GUID is %d bytes", ErrUnexpectedResponse, len(v))
		}
		c.GUID = guid
	}
	if v, ok := children.GetValue(tagCardholderExpiration); ok {
		c.Expiration = string(v)
	}
	return nil
}

// Capability object layout.
const (
	tagCapabilityID = 0xF0

	// CardIDLength is the width of the unique portion of the card
	// identifier.
	CardIDLength = 14
)

// capabilityIDPrefix introduces the card identifier value: an issuer
// identification followed by a manufacturer ID and a card type.
var capabilityIDPrefix = []byte{0xA0, 0x00, 0x00, 0x01, 0x16, 0xFF, 0x02}

// capabilityTrailer is the fixed tail of a populated capability
// container: version fields, grammar and redirection placeholders, and
// the trailing error-detection code.
var capabilityTrailer = []tlv.TagValue{
	tlv.NewValue(0xF1, []byte{0x21}),
	tlv.NewValue(0xF2, []byte{0x21}),
	tlv.New(0xF3),
	tlv.NewValue(0xF4, []byte{0x00}),
	tlv.NewValue(0xF5, []byte{0x10}),
	tlv.New(0xF6),
	tlv.New(0xF7),
	tlv.New(0xFA),
	tlv.New(0xFB),
	tlv.New(0xFC),
	tlv.New(0xFD),
	tlv.New(0xFE),
}

// Capability is the card capability container. The only variable
// content is the unique card identifier; the rest of the container is
// a fixed template.
type Capability struct {
	// CardID is the unique portion of the card identifier,
	// CardIDLength bytes when set.
	CardID []byte
}

var _ DataObject = (*Capability)(nil)

// NewCapability builds a capability container with a random card
// identifier. A nil reader uses crypto/rand.
func NewCapability(random io.Reader) (*Capability, error) {
	if random == nil {
		random = rand.Reader
	}
	id := make([]byte, CardIDLength)
	if _, err := io.ReadFull(random, id); err != nil {
		return nil, fmt.Errorf("piv: generating card id: %w", err)
	}
	return &Capability{CardID: id}, nil
}

func (c *Capability) ID() ObjectID { return ObjectCapability }

func (c *Capability) IsEmpty() bool { return len(c.CardID) == 0 }

func (c *Capability) Encode() ([]byte, error) {
	if c.IsEmpty() {
		return encodeContainer()
	}
	if len(c.CardID) != CardIDLength {
		return nil, ErrInvalidCardID
	}
	value := make([]byte, 0, len(capabilityIDPrefix)+CardIDLength)
	value = append(value, capabilityIDPrefix...)
	value = append(value, c.CardID...)

	children := make(tlv.TagValues, 0, 1+len(capabilityTrailer))
	children = append(children, tlv.NewValue(tagCapabilityID, value))
	children = append(children, capabilityTrailer...)
	return encodeContainer(children...)
}

func (c *Capability) decode(data []byte) error {
	*c = Capability{}
	children, err := decodeContainer(data)
	if err != nil {
		return err
	}
	v, ok := children.GetValue(tagCapabilityID)
	if !ok || len(v) == 0 {
		return nil
	}
	if len(v) != len(capabilityIDPrefix)+CardIDLength {
		return fmt.Errorf("%w: card identifier is %d bytes", ErrUnexpectedResponse, len(v))
	}
	c.CardID = append([]byte(nil), v[len(capabilityIDPrefix):]...)
	return nil
}

// Administrative data object layout.
const (
	tagAdminWrapper   = 0x80
	tagAdminFlags     = 0x81
	tagAdminSalt      = 0x82
	tagAdminTimestamp = 0x83

	adminFlagPUKBlocked   = 0x01
	adminFlagKeyProtected = 0x02

	// SaltLength is the stored derived-key salt width.
	SaltLength = 16
)

// AdminData is the administrative bookkeeping object. It records which
// PIN-only constructions are present on the card; it never holds key
// material itself, only the salt a derived key is reproduced from.
type AdminData struct {
	// PUKBlocked records that the PUK was deliberately exhausted when
	// a PIN-only mode was enabled.
	PUKBlocked bool

	// KeyProtected records that a copy of the management key is stored
	// in the PIN-protected object.
	KeyProtected bool

	// Salt is the derived-key salt, SaltLength bytes when present.
	Salt []byte

	// Updated is the time the PIN or its bookkeeping last changed.
	// Stored with second precision in four bytes.
	Updated time.Time
}

var _ DataObject = (*AdminData)(nil)

func (a *AdminData) ID() ObjectID { return ObjectAdminData }

func (a *AdminData) IsEmpty() bool {
	return !a.PUKBlocked && !a.KeyProtected && len(a.Salt) == 0 && a.Updated.IsZero()
}

func (a *AdminData) flags() byte {
	var f byte
	if a.PUKBlocked {
		f |= adminFlagPUKBlocked
	}
	if a.KeyProtected {
		f |= adminFlagKeyProtected
	}
	return f
}

func (a *AdminData) Encode() ([]byte, error) {
	if a.IsEmpty() {
		return encodeContainer()
	}
	if len(a.Salt) != 0 && len(a.Salt) != SaltLength {
		return nil, ErrInvalidSaltLength
	}
	children := make(tlv.TagValues, 0, 3)
	if f := a.flags(); f != 0 {
		children = append(children, tlv.NewValue(tagAdminFlags, []byte{f}))
	}
	if len(a.Salt) > 0 {
		children = append(children, tlv.NewValue(tagAdminSalt, a.Salt))
	}
	if !a.Updated.IsZero() {
		ts := a.Updated.Unix()
		if ts < 0 || ts > 0xFFFFFFFF {
			return nil, ErrInvalidTimestamp
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(ts))
		children = append(children, tlv.NewValue(tagAdminTimestamp, buf))
	}
	return encodeContainer(tlv.New(tagAdminWrapper, children...))
}

func (a *AdminData) decode(data []byte) error {
	*a = AdminData{}
	children, err := decodeContainer(data)
	if err != nil {
		return err
	}
	wrapper, ok := children.Get(tagAdminWrapper)
	if !ok || len(wrapper.Value) == 0 {
		return nil
	}
	inner, err := wrapper.Nested()
	if err != nil {
		return err
	}
	if v, ok := inner.GetValue(tagAdminFlags); ok {
		if len(v) != 1 {
			return fmt.Errorf("%w: flags field is %d bytes", ErrUnexpectedResponse, len(v))
		}
		a.PUKBlocked = v[0]&adminFlagPUKBlocked != 0
		a.KeyProtected = v[0]&adminFlagKeyProtected != 0
	}
	if v, ok := inner.GetValue(tagAdminSalt); ok {
		if len(v) != SaltLength {
			return ErrInvalidSaltLength
		}
		a.Salt = append([]byte(nil), v...)
	}
	if v, ok := inner.GetValue(tagAdminTimestamp); ok {
		if len(v) != 4 {
			return ErrInvalidTimestamp
		}
		if ts := binary.LittleEndian.Uint32(v); ts != 0 {
			a.Updated = time.Unix(int64(ts), 0).UTC()
		}
	}
	return nil
}

// Key history object layout.
const (
	tagHistoryOnCard    = 0xC1
	tagHistoryOffCard   = 0xC2
	tagHistoryURL       = 0xF3
	tagHistoryErrorCode = 0xFE
)

// KeyHistory records how many retired key certificates exist and where
// the off-card ones live.
type KeyHistory struct {
	// OnCardCerts counts retired certificates stored on the card.
	OnCardCerts int

	// OffCardCerts counts retired certificates held off-card.
	OffCardCerts int

	// OffCardURL locates the off-card certificate store.
	OffCardURL string
}

var _ DataObject = (*KeyHistory)(nil)

func (k *KeyHistory) ID() ObjectID { return ObjectKeyHistory }

func (k *KeyHistory) IsEmpty() bool {
	return k.OnCardCerts == 0 && k.OffCardCerts == 0 && k.OffCardURL == ""
}

func (k *KeyHistory) Encode() ([]byte, error) {
	if k.IsEmpty() {
		return encodeContainer()
	}
	if k.OnCardCerts < 0 || k.OnCardCerts > 0xFF || k.OffCardCerts < 0 || k.OffCardCerts > 0xFF {
		return nil, ErrInvalidCertCount
	}
	children := make(tlv.TagValues, 0, 4)
	children = append(children,
		tlv.NewValue(tagHistoryOnCard, []byte{byte(k.OnCardCerts)}),
		tlv.NewValue(tagHistoryOffCard, []byte{byte(k.OffCardCerts)}))
	if k.OffCardURL != "" {
		children = append(children, tlv.NewValue(tagHistoryURL, []byte(k.OffCardURL)))
	}
	children = append(children, tlv.New(tagHistoryErrorCode))
	return encodeContainer(children...)
}

func (k *KeyHistory) decode(data []byte) error {
	*k = KeyHistory{}
	children, err := decodeContainer(data)
	if err != nil {
		return err
	}
	if v, ok := children.GetValue(tagHistoryOnCard); ok {
		if len(v) != 1 {
			return fmt.Errorf("%w: on-card count is %d bytes", ErrUnexpectedResponse, len(v))
		}
		k.OnCardCerts = int(v[0])
	}
	if v, ok := children.GetValue(tagHistoryOffCard); ok {
		if len(v) != 1 {
			return fmt.Errorf("%w: off-card count is %d bytes", ErrUnexpectedResponse, len(v))
		}
		k.OffCardCerts = int(v[0])
	}
	if v, ok := children.GetValue(tagHistoryURL); ok {
		k.OffCardURL = string(v)
	}
	return nil
}

// PIN-protected object layout.
const (
	tagProtectedWrapper = 0x88
	tagProtectedKey     = 0x89
)

// PINProtectedData is the PIN-gated secret container. It stores a copy
// of the management key for retrieval after PIN verification; the card
// enforces the PIN gate on reads of its address.
type PINProtectedData struct {
	// ManagementKey is the stored key, 16, 24 or 32 bytes when set.
	ManagementKey []byte
}

var _ DataObject = (*PINProtectedData)(nil)

func (p *PINProtectedData) ID() ObjectID { return ObjectPINProtected }

func (p *PINProtectedData) IsEmpty() bool { return len(p.ManagementKey) == 0 }

// Zero wipes the stored key copy.
func (p *PINProtectedData) Zero() {
	secret.Wipe(p.ManagementKey)
	p.ManagementKey = nil
}

func validKeyLength(n int) bool {
	return n == 16 || n == 24 || n == 32
}

func (p *PINProtectedData) Encode() ([]byte, error) {
	if p.IsEmpty() {
		return encodeContainer()
	}
	if !validKeyLength(len(p.ManagementKey)) {
		return nil, ErrInvalidKeyLength
	}
	return encodeContainer(
		tlv.New(tagProtectedWrapper,
			tlv.NewValue(tagProtectedKey, p.ManagementKey)))
}

func (p *PINProtectedData) decode(data []byte) error {
	*p = PINProtectedData{}
	children, err := decodeContainer(data)
	if err != nil {
		return err
	}
	wrapper, ok := children.Get(tagProtectedWrapper)
	if !ok || len(wrapper.Value) == 0 {
		return nil
	}
	inner, err := wrapper.Nested()
	if err != nil {
		return err
	}
	v, ok := inner.GetValue(tagProtectedKey)
	if !ok || len(v) == 0 {
		return nil
	}
	if !validKeyLength(len(v)) {
		return ErrInvalidKeyLength
	}
	p.ManagementKey = append([]byte(nil), v...)
	return nil
}
