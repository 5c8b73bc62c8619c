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

// Transmitter is the raw card connection: one command in, one response
// out. Implementations sit on PC/SC, CCID, or an in-memory card.
type Transmitter interface {
	Transmit(command []byte) ([]byte, error)
}

// Client drives logical exchanges over a Transmitter. It splits oversized
// payloads into a command chain, retrieves held-back response bytes via
// GET RESPONSE, and reissues commands the card rejects with a corrected
// expected length. Callers receive a single assembled Response whose
// status word still carries the card's semantic verdict (counters,
// blocking, not-found); interpreting those is the caller's job.
type Client struct {
	tx Transmitter

	// MaxData caps the data field per transmitted command. Commands with
	// larger payloads are chained. Defaults to the short-form limit,
	// which every card in the applet family accepts.
	MaxData int
}

// NewClient returns a Client over the given connection.
func NewClient(tx Transmitter) *Client {
	return &Client{tx: tx, MaxData: MaxShortData}
}

// Send performs one logical exchange: chain fragments out, then drain the
// 61XX continuation loop. A non-success status on a non-final fragment
// aborts the chain with a StatusError; the final status is returned to
// the caller undisturbed.
func (c *Client) Send(cmd Command) (Response, error) {
	maxData := c.MaxData
	if maxData <= 0 {
		maxData = MaxShortData
	}
	fragments, err := Chain(cmd, maxData)
	if err != nil {
		return Response{}, err
	}

	var resp Response
	for i, frag := range fragments {
		resp, err = c.exchange(frag)
		if err != nil {
			return Response{}, err
		}
		if i < len(fragments)-1 && !resp.Status().OK() {
			return Response{}, fmt.Errorf("apdu: chain fragment %d of %d rejected: %w",
				i+1, len(fragments), &StatusError{Status: resp.Status()})
		}
	}

	data := append([]byte(nil), resp.Data...)
	for {
		n, ok := resp.Status().MoreData()
		if !ok {
			break
		}
		getResponse := Command{
			Cla: cmd.Cla &^ ClaChain,
			Ins: InsGetResponse,
			Ne:  n,
		}
		resp, err = c.exchange(getResponse)
		if err != nil {
			return Response{}, err
		}
		data = append(data, resp.Data...)
	}

	resp.Data = data
	return resp, nil
}

// exchange transmits one command and applies the 6CXX length correction,
// once. A card that answers the corrected command with another 6CXX is
// misbehaving and gets its status returned as-is.
func (c *Client) exchange(cmd Command) (Response, error) {
	resp, err := c.transmit(cmd)
	if err != nil {
		return Response{}, err
	}
	if n, ok := resp.Status().CorrectedLength(); ok {
		cmd.Ne = n
		return c.transmit(cmd)
	}
	return resp, nil
}

func (c *Client) transmit(cmd Command) (Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return Response{}, err
	}
	rawResp, err := c.tx.Transmit(raw)
	// The frame may carry reference data (PINs, keys); wipe our copy as
	// soon as the transport hands it back.
	for i := range raw {
		raw[i] = 0
	}
	if err != nil {
		return Response{}, fmt.Errorf("apdu: transmit: %w", err)
	}
	return ParseResponse(rawResp)
}
