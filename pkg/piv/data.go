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
	"fmt"

	"github.com/jeremyhahn/go-smartcard/internal/secret"
	"github.com/jeremyhahn/go-smartcard/pkg/apdu"
	"github.com/jeremyhahn/go-smartcard/pkg/tlv"
)

// GetObject reads and decodes the data object stored at id. An address
// with nothing stored yields the typed empty object. The PIN-protected
// address is gated on a verified PIN; the check runs locally before
// any I/O, mirroring what the card would enforce.
func (s *Session) GetObject(id ObjectID) (DataObject, error) {
	obj, err := newObject(id)
	if err != nil {
		return nil, err
	}
	if id == ObjectPINProtected && !s.pinVerified {
		return nil, ErrNotAuthenticated
	}
	raw, found, err := s.getObjectBytes(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return obj, nil
	}
	if err := obj.decode(raw); err != nil {
		return nil, err
	}
	return obj, nil
}

// PutObject writes a data object to its card address. Requires an
// authenticated management key. Writing an empty object clears the
// stored content.
func (s *Session) PutObject(obj DataObject) error {
	if !s.keyAuthenticated {
		return ErrNotAuthenticated
	}
	encoded, err := obj.Encode()
	if err != nil {
		return err
	}
	// The encoding can carry the wrapped management key.
	defer secret.Wipe(encoded)
	return s.putObjectBytes(obj.ID(), encoded)
}

// DeleteObject clears the object stored at id by writing the empty
// container over it. Reading the address back reports an empty object.
func (s *Session) DeleteObject(id ObjectID) error {
	obj, err := newObject(id)
	if err != nil {
		return err
	}
	return s.PutObject(obj)
}

func (s *Session) getObjectBytes(id ObjectID) (data []byte, found bool, err error) {
	addr, err := tlv.Encode(tlv.NewValue(tagObjectID, id.Bytes()))
	if err != nil {
		return nil, false, err
	}
	resp, err := s.send(apdu.Command{
		Ins:  insGetData,
		P1:   0x3F,
		P2:   0xFF,
		Data: addr,
		Ne:   apdu.MaxShortResponse,
	})
	if err != nil {
		return nil, false, err
	}
	switch sw := resp.Status(); {
	case sw.OK():
		return resp.Data, true, nil
	case sw == apdu.SWFileNotFound:
		return nil, false, nil
	case sw == apdu.SWSecurityStatusNotSatisfied:
		return nil, false, ErrNotAuthenticated
	default:
		return nil, false, fmt.Errorf("piv: get data %s: %w", id, &apdu.StatusError{Status: sw})
	}
}

func (s *Session) putObjectBytes(id ObjectID, encoded []byte) error {
	addr, err := tlv.Encode(tlv.NewValue(tagObjectID, id.Bytes()))
	if err != nil {
		return err
	}
	data := make([]byte, 0, len(addr)+len(encoded))
	defer secret.Wipe(data)
	data = append(data, addr...)
	data = append(data, encoded...)

	resp, err := s.send(apdu.Command{Ins: insPutData, P1: 0x3F, P2: 0xFF, Data: data})
	if err != nil {
		return err
	}
	switch sw := resp.Status(); {
	case sw.OK():
		return nil
	case sw == apdu.SWSecurityStatusNotSatisfied:
		return ErrNotAuthenticated
	default:
		return fmt.Errorf("piv: put data %s: %w", id, &apdu.StatusError{Status: sw})
	}
}

func (s *Session) getAdminData() (*AdminData, error) {
	obj, err := s.GetObject(ObjectAdminData)
	if err != nil {
		return nil, err
	}
	return obj.(*AdminData), nil
}

func (s *Session) putAdminData(a *AdminData) error {
	return s.PutObject(a)
}

func (s *Session) getPINProtectedData() (*PINProtectedData, error) {
	obj, err := s.GetObject(ObjectPINProtected)
	if err != nil {
		return nil, err
	}
	return obj.(*PINProtectedData), nil
}
