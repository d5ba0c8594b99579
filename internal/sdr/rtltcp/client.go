package rtltcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/geeknik/rtl-sdr-analyzer/internal/sdr"
	"github.com/geeknik/rtl-sdr-analyzer/internal/spectrum"
)

const (
	// DefaultReceiveBuffer is the socket receive buffer requested on connect.
	DefaultReceiveBuffer = 1 << 20

	// readBlocks is how many blocks worth of bytes a single read may drain.
	readBlocks = 64

	// pollTimeout bounds a receive on connections without descriptor access.
	pollTimeout = time.Millisecond
)

// errWouldBlock reports that a receive found no buffered data.
var errWouldBlock = errors.New("receive would block")

// Config holds the connection and tuning parameters of the client.
type Config struct {
	Host string
	Port int

	sdr.Params
}

// Addr returns the host:port of the server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration before any connection attempt.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("missing rtl_tcp host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid rtl_tcp port: %d", c.Port)
	}
	return c.Params.Validate()
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(c *Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "rtltcp"))
	}
}

// WithDialer replaces the function used to open the connection
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) func(c *Client) {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithReceiveBuffer sets the socket receive buffer size requested on connect
func WithReceiveBuffer(size int) func(c *Client) {
	return func(c *Client) {
		c.receiveBuffer = size
	}
}

// Client is an rtl_tcp client that configures the dongle and turns the raw
// sample stream into blocks of FFTSize complex samples.
//
// Reads never block: ReadSamples drains whatever the kernel has buffered and
// returns nil when nothing arrived since the last call.
type Client struct {
	cfg  Config
	axis spectrum.FrequencyAxis

	receiveBuffer int
	dial          func(ctx context.Context, network, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
	buf  []byte

	// Per connection stream state.
	headerChecked bool
	info          DongleInfo
	hasInfo       bool
	carry         byte
	hasCarry      bool
	peerClosed    bool

	logger *slog.Logger
}

// New creates a disconnected client for the given configuration.
func New(cfg Config, options ...func(c *Client)) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var d net.Dialer
	c := Client{
		cfg:           cfg,
		axis:          cfg.FrequencyAxis(),
		receiveBuffer: DefaultReceiveBuffer,
		dial:          d.DialContext,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// FrequencyAxis returns a copy of the frequencies, in MHz, of the bins of a
// spectrum computed from this client's blocks.
func (c *Client) FrequencyAxis() spectrum.FrequencyAxis {
	return c.axis.Clone()
}

// Info returns the dongle header sent by the server, if one was received.
func (c *Client) Info() (DongleInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.info, c.hasInfo
}

// Connect dials the server and sends the configuration sequence. Failing to
// connect yields a *ConnectionError, failing to configure a
// *ConfigurationError. In both cases the socket is closed before returning.
func (c *Client) Connect(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	addr := c.cfg.Addr()
	c.logger.Info("connecting to rtl_tcp server", slog.String("addr", addr))

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return &ConnectionError{Addr: addr, Err: err}
	}

	c.conn = conn
	defer func() {
		if err != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
	}()

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err = tcp.SetReadBuffer(c.receiveBuffer); err != nil {
			return &ConnectionError{Addr: addr, Err: fmt.Errorf("setting receive buffer: %w", err)}
		}
	}

	if err = c.configure(); err != nil {
		return &ConfigurationError{Err: err}
	}

	c.buf = make([]byte, c.cfg.FFTSize*2*readBlocks+1)
	c.headerChecked = false
	c.hasInfo = false
	c.hasCarry = false
	c.peerClosed = false

	c.logger.Info("connected to rtl_tcp server",
		slog.String("addr", addr),
		slog.String("frequency", humanize.SIWithDigits(c.cfg.CenterFreq, 3, "Hz")),
		slog.String("sampleRate", humanize.SIWithDigits(c.cfg.SampleRate, 3, "S/s")),
		slog.Int("fftSize", c.cfg.FFTSize),
	)

	return nil
}

// configure sends the tuning sequence. The order is fixed: frequency and
// sample rate must be set before the server starts sampling.
func (c *Client) configure() error {
	commands := []struct {
		cmd   Command
		value uint32
	}{
		{SetCenterFreq, uint32(c.cfg.CenterFreq)},
		{SetSampleRate, uint32(c.cfg.SampleRate)},
		{SetGainMode, 0}, // automatic gain
		{connectAGCMode, 0},
		{connectDirectSampling, 1},
	}

	for _, command := range commands {
		if err := c.send(command.cmd, command.value); err != nil {
			return err
		}
	}
	return nil
}

// send writes one command frame. The caller must hold c.mu.
func (c *Client) send(cmd Command, value uint32) error {
	if c.conn == nil {
		return &CommandSendError{Command: cmd, Value: value, Err: ErrNotConnected}
	}

	if _, err := c.conn.Write(encodeCommand(cmd, value)); err != nil {
		return &CommandSendError{Command: cmd, Value: value, Err: err}
	}

	c.logger.Debug("command sent", slog.String("command", cmd.String()), slog.Uint64("value", uint64(value)))
	return nil
}

// SendCommand writes a raw command to the server. Failures are returned as
// *CommandSendError.
func (c *Client) SendCommand(cmd Command, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.send(cmd, value)
}

// SetCenterFreq tunes the dongle to freq Hz.
func (c *Client) SetCenterFreq(freq uint32) error {
	return c.SendCommand(SetCenterFreq, freq)
}

// SetSampleRate sets the sample rate in Hz.
func (c *Client) SetSampleRate(rate uint32) error {
	return c.SendCommand(SetSampleRate, rate)
}

// SetGainMode selects manual gain when manual is true, automatic otherwise.
func (c *Client) SetGainMode(manual bool) error {
	return c.SendCommand(SetGainMode, boolValue(manual))
}

// SetGain sets the tuner gain in tenths of dB (197 means 19.7 dB). It only
// takes effect in manual gain mode.
func (c *Client) SetGain(tenthsDB uint32) error {
	return c.SendCommand(SetGain, tenthsDB)
}

// SetAGCMode enables or disables the RTL2832 digital AGC.
func (c *Client) SetAGCMode(enabled bool) error {
	return c.SendCommand(SetAGCMode, boolValue(enabled))
}

// SetDirectSampling sets direct sampling mode: 0 disabled, 1 I branch,
// 2 Q branch.
func (c *Client) SetDirectSampling(mode uint32) error {
	return c.SendCommand(SetDirectSampling, mode)
}

// SetFreqCorrection sets the oscillator correction in ppm.
func (c *Client) SetFreqCorrection(ppm int32) error {
	return c.SendCommand(SetFreqCorrection, uint32(ppm))
}

func boolValue(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// ReadSamples performs one non-blocking receive and returns a block of
// exactly FFTSize samples. Short reads are zero padded and long reads are
// truncated to the earliest samples.
//
// A nil block with a nil error means there was no data: nothing buffered,
// the peer closed the stream, or a receive error that was logged. Only a
// closed client returns an error.
func (c *Client) ReadSamples() ([]complex128, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	off := 0
	if c.hasCarry {
		c.buf[0] = c.carry
		off = 1
	}

	n, err := c.recv(c.buf[off : len(c.buf)-1+off])
	if err != nil {
		if !errors.Is(err, errWouldBlock) {
			c.logger.Error("recoverable receive error", slog.String("error", err.Error()))
		}
		return nil, nil
	}
	if n == 0 {
		if !c.peerClosed {
			c.logger.Warn("rtl_tcp server closed the stream")
			c.peerClosed = true
		}
		return nil, nil
	}

	data := c.buf[:off+n]
	c.hasCarry = false

	if !c.headerChecked {
		c.headerChecked = true
		if info, ok := parseDongleInfo(data); ok {
			c.info, c.hasInfo = info, true
			data = data[dongleInfoSize:]
			c.logger.Info("dongle detected",
				slog.String("tuner", info.Tuner.String()),
				slog.Uint64("gains", uint64(info.GainCount)),
			)
		}
	}

	// Keep I/Q pairs aligned across reads.
	if len(data)%2 == 1 {
		c.carry, c.hasCarry = data[len(data)-1], true
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, nil
	}

	return decodeIQ(data, c.cfg.FFTSize), nil
}

// pollRead bounds a blocking read with a short deadline.
func pollRead(conn net.Conn, p []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return 0, err
	}

	n, err := conn.Read(p)
	switch {
	case n > 0:
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0, errWouldBlock
	case errors.Is(err, io.EOF):
		return 0, nil
	}
	return n, err
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}

	c.logger.Info("disconnected from rtl_tcp server")
	return nil
}
