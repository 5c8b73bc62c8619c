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

// Package pcsc connects sessions to physical cards through the platform
// PC/SC stack. A Card satisfies apdu.Transmitter, so it plugs directly
// into piv.NewSession and u2f.NewSession; the Watcher reports reader
// arrivals and removals for daemon use.
package pcsc

import (
	"fmt"
	"strings"

	"github.com/ebfe/scard"

	"github.com/jeremyhahn/go-smartcard/pkg/apdu"
)

// Card is an exclusive conversation with a card in one reader. It holds
// a PC/SC transaction for its whole lifetime so other processes cannot
// interleave commands mid-session.
type Card struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
	closed bool
}

var _ apdu.Transmitter = (*Card)(nil)

// Readers lists the names of the attached smart card readers. A host
// with no readers yields an empty list, not an error.
func Readers() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err == scard.ErrNoReadersAvailable {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	return readers, nil
}

// Connect opens a conversation with the card in the named reader. An
// empty name picks the first attached reader; otherwise the first
// exact match wins, then the first reader whose name starts with the
// given prefix.
func Connect(reader string) (*Card, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil && err != scard.ErrNoReadersAvailable {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	name, err := matchReader(readers, reader)
	if err != nil {
		ctx.Release()
		return nil, err
	}

	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("pcsc: connect %q: %w", name, err)
	}
	if err := card.BeginTransaction(); err != nil {
		card.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, fmt.Errorf("pcsc: begin transaction: %w", err)
	}

	return &Card{ctx: ctx, card: card, reader: name}, nil
}

// matchReader resolves a requested reader name against the attached
// set: exact match first, then the first name carrying it as a prefix.
func matchReader(readers []string, want string) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReaders
	}
	if want == "" {
		return readers[0], nil
	}
	for _, r := range readers {
		if r == want {
			return r, nil
		}
	}
	for _, r := range readers {
		if strings.HasPrefix(r, want) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrReaderNotFound, want)
}

// Reader returns the resolved name of the reader this card sits in.
func (c *Card) Reader() string {
	return c.reader
}

// MaxData reports the largest command data field this transport can
// carry in one frame. PC/SC readers speak the short form.
func (c *Card) MaxData() int {
	return apdu.MaxShortData
}

// Transmit sends one raw command and returns the raw response,
// including the trailing status word. Transport failures are wrapped
// and never retried here.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	resp, err := c.card.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("pcsc: transmit: %w", err)
	}
	return resp, nil
}

// Close ends the transaction, disconnects from the reader, and releases
// the context. The card is left in the reader for the next caller.
func (c *Card) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var first error
	if err := c.card.EndTransaction(scard.LeaveCard); err != nil {
		first = fmt.Errorf("pcsc: end transaction: %w", err)
	}
	if err := c.card.Disconnect(scard.LeaveCard); err != nil && first == nil {
		first = fmt.Errorf("pcsc: disconnect: %w", err)
	}
	if err := c.ctx.Release(); err != nil && first == nil {
		first = fmt.Errorf("pcsc: release context: %w", err)
	}
	return first
}
