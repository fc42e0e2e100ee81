package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/soypat/mt79"
	mqtt "github.com/soypat/natiu-mqtt"
)

var (
	apAddr  = [6]byte{0x02, 0, 0, 0, 0, 0x01}
	staAddr = [6]byte{0x02, 0, 0, 0, 0, 0x02}
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "mtreplay - Replay a descriptor trace through the device core and print its statistics.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	input := flag.String("f", "trace.txt", "Input trace. One entry per line: 'rx <hex>', 'tx <hex>', 'state <hex>', 'flush' or 'sleep <duration>'.")
	level := flag.Int("level", int(slog.LevelInfo), "Log level. Use -5 for trace output of the device.")
	broker := flag.String("mqtt", "", "MQTT broker address to publish the statistics snapshot to, i.e: 'localhost:1883'.")
	topic := flag.String("topic", "mt79/snapshot", "MQTT topic of the statistics snapshot.")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(*level)}))
	fp, err := os.Open(*input)
	if err != nil {
		log.Fatal(err)
	}
	defer fp.Close()

	r, err := newReplayer(logger)
	if err != nil {
		log.Fatal(err)
	}
	defer r.dev.Close()
	start := time.Now()
	if err := r.run(fp); err != nil {
		log.Fatal(err)
	}
	completed, received := r.stack.counts()
	logger.Info("replay:done", slog.Duration("elapsed", time.Since(start)), slog.Int("completed", completed), slog.Int("received", received))

	snap, err := json.MarshalIndent(r.dev.Snapshot(), "", "\t")
	if err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(append(snap, '\n'))
	if *broker != "" {
		if err := publish(logger, *broker, *topic, snap); err != nil {
			log.Fatal(err)
		}
	}
}

// replayer drives a Device with loopback hardware from a trace.
type replayer struct {
	dev   *mt79.Device
	reg   *mt79.Registry
	hw    *loopbackHW
	stack *logStack
	vif   *mt79.Vif
	wcid  *mt79.WCID
	// sent counts admitted frames.
	sent int
}

func newReplayer(logger *slog.Logger) (*replayer, error) {
	cfg := mt79.DefaultConfig()
	cfg.Logger = logger
	r := &replayer{
		reg:   mt79.NewRegistry(288),
		hw:    &loopbackHW{},
		stack: &logStack{logger: logger},
	}
	dev, err := mt79.New(cfg, r.reg, &loopbackMCU{logger: logger}, r.hw, r.stack)
	if err != nil {
		return nil, err
	}
	r.dev = dev
	r.vif = mt79.NewVif(apAddr, mt79.VifAP, false)
	err = r.vif.AddLink(mt79.VifLink{LinkID: 0, Band: 0, OMACIdx: 0, Addr: apAddr, BSSID: apAddr})
	if err != nil {
		return nil, err
	}
	r.reg.AddVif(r.vif)
	sta, err := r.reg.AddStation(r.vif, staAddr, false, true, mt79.StationLink{LinkID: 0, Band: 0, Addr: staAddr, HT: true, HE: true})
	if err != nil {
		return nil, err
	}
	r.wcid = r.reg.PeerLink(sta, 0)
	if err := dev.Start(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("replay:ready", slog.Int("wcid", int(r.wcid.Idx)), slog.String("sta", net.HardwareAddr(staAddr[:]).String()))
	return r, nil
}

func (r *replayer) run(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		e, err := parseEntry(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := r.apply(e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return r.flush()
}

func (r *replayer) apply(e entry) error {
	switch e.kind {
	case kindNone:
	case kindRx:
		r.dev.OnDescriptorReady(e.data)
	case kindTx:
		err := r.dev.Transmit(&mt79.Packet{Data: e.data, WCID: r.wcid, Vif: r.vif})
		if err != nil {
			return err
		}
		r.sent++
	case kindState:
		r.dev.HandleMCUState(e.state)
	case kindFlush:
		return r.flush()
	case kindSleep:
		time.Sleep(e.sleep)
	}
	return nil
}

// flush waits for admitted frames to be submitted or dropped and frees every
// submitted frame with a successful TX-free notification.
func (r *replayer) flush() error {
	deadline := time.Now().Add(5 * time.Second)
	for r.hw.submitted()+r.stack.dropped() < r.sent {
		if time.Since(deadline) >= 0 {
			return errFlushTimeout
		}
		time.Sleep(time.Millisecond)
	}
	for _, buf := range r.hw.drain() {
		r.dev.OnDescriptorReady(buf)
	}
	return nil
}

// publish sends the snapshot to an MQTT broker.
func publish(logger *slog.Logger, addr, topic string, payload []byte) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 4096)},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte("mtreplay"))
	logger.Info("mqtt:start-connecting", slog.String("broker", addr))
	if err := client.StartConnect(conn, &varconn); err != nil {
		return err
	}
	for !client.IsConnected() {
		if err := client.HandleNext(); err != nil {
			return err
		}
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	err = client.PublishPayload(flags, mqtt.VariablesPublish{TopicName: []byte(topic), PacketIdentifier: 1}, payload)
	if err != nil {
		return err
	}
	logger.Info("mqtt:published", slog.String("topic", topic), slog.Int("len", len(payload)))
	return nil
}
