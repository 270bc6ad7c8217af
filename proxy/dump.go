package proxy

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// Dump writes a diagnostic snapshot of the proxy followed by each provider's
// own dump. Provider dump failures are logged and skipped; only errors
// writing to w are returned.
func (p *Proxy) Dump(w io.Writer) error {
	now := time.Now()
	wl := p.sup.Stats()
	backlog := p.writer.Stats()
	static, dynamic := p.catalog.counts()

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "===sensormux proxy===")
	fmt.Fprintln(&buf, "Internal values:")
	fmt.Fprintf(&buf, "  State: %s\n", p.State())
	fmt.Fprintf(&buf, "  Workers running: %t\n", wl.Running && backlog.Running)
	fmt.Fprintf(&buf, "  Operation mode: %s\n", p.OperationMode())
	fmt.Fprintf(&buf, "  Wake-lock hold started: %d ms ago\n", now.Sub(wl.HoldStart).Milliseconds())
	fmt.Fprintf(&buf, "  Wake-lock last reset: %d ms ago\n", now.Sub(wl.ResetAt).Milliseconds())
	fmt.Fprintf(&buf, "  Wake-lock ref count: %d\n", wl.RefCount)
	fmt.Fprintf(&buf, "  Events in pending backlog: %d\n", backlog.Queued)
	fmt.Fprintf(&buf, "  Most events seen in pending backlog: %d\n", backlog.HighWater)
	if backlog.Batches > 0 {
		fmt.Fprintf(&buf, "  Events in front pending batch: %d\n", backlog.FrontSize)
	}
	fmt.Fprintf(&buf, "  Static sensors: %d\n", static)
	fmt.Fprintf(&buf, "  Dynamic sensors: %d\n", dynamic)

	history := p.sup.History()
	fmt.Fprintf(&buf, "Wake-lock history (%d):\n", len(history))
	for _, t := range history {
		fmt.Fprintf(&buf, "  %d ms ago: %s refs=%d\n", now.Sub(t.At).Milliseconds(), t.Kind, t.RefCount)
	}

	fmt.Fprintf(&buf, "Providers (%d):\n", len(p.providers))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	for _, e := range p.providers {
		if _, err := fmt.Fprintf(w, "  Name: %s\n  Debug dump:\n", e.callback.name); err != nil {
			return err
		}
		if err := e.provider.Debug(w); err != nil {
			p.logger.WithError(err).WithField("provider", e.callback.name).Warn("Provider dump failed")
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
