// SPDX-License-Identifier: MIT

package mixer

import (
	"context"
	"fmt"
	"net"
	"time"
)

const telnetTimeout = 2 * time.Second

// Telnet drives the liquidsoap command console.
type Telnet struct {
	addr     string
	harborID string
}

// NewTelnet returns a console client for the mixer at addr, addressing the
// harbor input registered under harborID.
func NewTelnet(addr, harborID string) *Telnet {
	return &Telnet{addr: addr, harborID: harborID}
}

// Kick forcibly disconnects the current harbor source. The mixer then fires
// its on_disconnect callback, which drives the normal end-of-session path.
func (t *Telnet) Kick(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, telnetTimeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial mixer console %s: %w", t.addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s.stop\nquit\n", t.harborID); err != nil {
		return fmt.Errorf("write mixer command: %w", err)
	}
	return nil
}
