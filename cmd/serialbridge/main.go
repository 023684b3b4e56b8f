package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Station-Manager/serialbridge"
)

const (
	exitOK       = 0
	exitUsage    = 1
	exitNotFound = 2
	exitOpen     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "JSON config file (flags override it)")
	ports := flag.String("ports", "", "comma-separated candidate ports in priority order, e.g. COM12,/dev/ttyUSB0")
	baud := flag.Int("baud", 0, "baud rate (default 9600)")
	dataBits := flag.Int("databits", 0, "data bits (default 8)")
	parity := flag.String("parity", "", "parity: none, odd, even, mark, space (or N,O,E,M,S)")
	stopBits := flag.String("stopbits", "", "stop bits: 1, 1.5 or 2")
	openTimeout := flag.Duration("open-timeout", 0, "how long to wait for the port to open (default 2s)")
	driver := flag.String("driver", "", "serial backend: bugst or tarm")
	list := flag.Bool("list", false, "list available serial ports as JSON and exit")
	logLevel := flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	metricsEvery := flag.Duration("metrics", 0, "print a metrics snapshot at this interval (0 disables)")

	flag.Parse()

	if *list {
		return listPorts()
	}

	cfg := serialbridge.DefaultConfig()
	if *configPath != "" {
		loaded, err := serialbridge.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return exitUsage
		}
		cfg = loaded
	}

	if err := applyFlags(&cfg, *ports, *baud, *dataBits, *parity, *stopBits, *openTimeout, *driver, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		return exitUsage
	}
	if err := serialbridge.ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitUsage
	}

	logger, logCloser, err := serialbridge.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitUsage
	}
	defer func() { _ = logCloser.Close() }()

	id, err := serialbridge.FindPort(cfg.CandidatePorts)
	if err != nil {
		logger.Error().Err(err).Strs("candidates", cfg.CandidatePorts).Msg("find port")
		if errors.Is(err, serialbridge.ErrPortNotFound) {
			return exitNotFound
		}
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := serialbridge.Open(ctx, id, cfg, serialbridge.WithLogger(&logger))
	if err != nil {
		logger.Error().Err(err).Msg("open")
		var openErr *serialbridge.OpenError
		if errors.As(err, &openErr) {
			return exitOpen
		}
		return exitUsage
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error().Err(err).Msg("close")
		}
	}()

	display := serialbridge.NewChannelSink(256)
	sub, err := session.Attach(serialbridge.ConsumerFor(display))
	if err != nil {
		logger.Error().Err(err).Msg("attach")
		return exitOpen
	}
	defer sub.Detach()

	fmt.Fprintf(os.Stderr, "listening on %s (%s); type hex bytes to send, Ctrl+C to quit\n", id, cfg.Line)

	go sendFromStdin(ctx, session, logger)

	if *metricsEvery > 0 {
		broadcaster := serialbridge.NewMetricsBroadcaster(16, *metricsEvery)
		broadcaster.Start(session.MetricsSnapshot)
		defer broadcaster.Stop()
		go printMetrics(ctx, broadcaster.Channel())
	}

	for {
		select {
		case <-ctx.Done():
			if n := display.Dropped(); n > 0 {
				logger.Warn().Uint64("dropped", n).Msg("display fell behind")
			}
			return exitOK
		case c := <-display.C():
			fmt.Printf("%s #%d [%d] %s\n", c.Received.Format(time.TimeOnly), c.Seq, c.Len(), spacedHex(c.Data))
		}
	}
}

func applyFlags(cfg *serialbridge.Config, ports string, baud, dataBits int, parity, stopBits string,
	openTimeout time.Duration, driver, logLevel string) error {
	if ports != "" {
		cfg.CandidatePorts = nil
		for _, p := range strings.Split(ports, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.CandidatePorts = append(cfg.CandidatePorts, p)
			}
		}
	}
	if baud != 0 {
		cfg.Line.BaudRate = serialbridge.BaudRate(baud)
	}
	if dataBits != 0 {
		cfg.Line.DataBits = serialbridge.DataBits(dataBits)
	}
	if parity != "" {
		p, err := serialbridge.ParseParity(parity)
		if err != nil {
			return err
		}
		cfg.Line.Parity = p
	}
	if stopBits != "" {
		sb, err := serialbridge.ParseStopBits(stopBits)
		if err != nil {
			return err
		}
		cfg.Line.StopBits = sb
	}
	if openTimeout != 0 {
		cfg.OpenTimeout = openTimeout
	}
	if driver != "" {
		cfg.Driver = serialbridge.Driver(driver)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return nil
}

func listPorts() int {
	ids, err := serialbridge.AvailablePorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return exitUsage
	}
	out, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return exitUsage
	}
	fmt.Println(string(out))
	return exitOK
}

// sendFromStdin reads lines of hex ("41 42", "0x41", "4142") and sends each
// byte. A failed byte is reported and the rest of the line is still sent.
func sendFromStdin(ctx context.Context, session *serialbridge.Session, logger zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data, err := parseHexLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		for _, b := range data {
			if err := session.Send(b); err != nil {
				logger.Warn().Err(err).Str("byte", fmt.Sprintf("0x%02x", b)).Msg("send")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("stdin")
	}
}

func parseHexLine(line string) ([]byte, error) {
	var out []byte
	for _, field := range strings.Fields(line) {
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		if len(field)%2 == 1 {
			field = "0" + field
		}
		b, err := hex.DecodeString(field)
		if err != nil {
			return nil, fmt.Errorf("not hex: %q", field)
		}
		out = append(out, b...)
	}
	return out, nil
}

func spacedHex(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", v)
	}
	return sb.String()
}

func printMetrics(ctx context.Context, ch <-chan serialbridge.MetricsSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			out, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintln(os.Stderr, string(out))
		}
	}
}
