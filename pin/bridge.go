package pin

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Bridge drives GPIO pins through a microcontroller attached over a serial
// line. Each request is a single line answered by "ok" or "err <reason>":
//
//	H <pin>
//	L <pin>
//	P <pin> <period µs> <width µs>
type Bridge struct {
	mu     sync.Mutex
	w      io.Writer
	rdr    *bufio.Reader
	closer io.Closer
	logger *zap.Logger
}

func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}

func OpenBridge(port string, baud int, logger *zap.Logger) (*Bridge, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	err = p.SetReadTimeout(time.Duration(500) * time.Millisecond)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	b := NewBridge(p, logger)
	b.closer = p
	return b, nil
}

func NewBridge(rw io.ReadWriter, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		w:      rw,
		rdr:    bufio.NewReader(rw),
		logger: logger,
	}
}

func (b *Bridge) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

func (b *Bridge) do(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := io.WriteString(b.w, line+"\n"); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrHardware, line, err)
	}
	resp, err := b.rdr.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: read reply to %q: %v", ErrHardware, line, err)
	}
	resp = strings.TrimSpace(resp)
	b.logger.Debug("bridge reply", zap.String("request", line), zap.String("reply", resp))
	switch {
	case resp == "ok":
		return nil
	case strings.HasPrefix(resp, "err"):
		return fmt.Errorf("%w: %s", ErrHardware, strings.TrimSpace(strings.TrimPrefix(resp, "err")))
	}
	return fmt.Errorf("%w: unexpected reply %q", ErrHardware, resp)
}

// Out returns the bridge output for the given pin number.
func (b *Bridge) Out(number int) *BridgePin {
	return &BridgePin{bridge: b, number: number}
}

type BridgePin struct {
	bridge *Bridge
	number int
}

var _ Out = (*BridgePin)(nil)
var _ Pwm = (*BridgePin)(nil)

func (p *BridgePin) SetHigh() error {
	return p.bridge.do(fmt.Sprintf("H %d", p.number))
}

func (p *BridgePin) SetLow() error {
	return p.bridge.do(fmt.Sprintf("L %d", p.number))
}

func (p *BridgePin) SetPwm(period, width time.Duration) error {
	return p.bridge.do(fmt.Sprintf("P %d %d %d", p.number, period.Microseconds(), width.Microseconds()))
}
