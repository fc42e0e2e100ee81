package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/soypat/mt79/connac"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// Optional flags.
var (
	timingsOutput string
)

// TapCtl configures how descriptors captured on the debug SPI tap are
// decoded. Every SPI transaction carries one descriptor buffer.
type TapCtl struct {
	// Bus ordering.
	Order binary.ByteOrder
	// Interpret bytes as words.
	WordInterpreter binary.ByteOrder
	// Types lists the packet types printed. Empty prints every type.
	Types      map[connac.PacketType]bool
	OmitFrames bool
	HexDump    bool
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "mtanalyze - Process Binary Saleae digital data files of co-processor descriptor traffic.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdio := flag.String("f-sd", "digital_1.bin", "Input filename: SPI SDO data.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI CLK data.")
	output := flag.String("o", "descriptors.txt", "Output filename of decoded descriptors.")
	flag.StringVar(&timingsOutput, "o-time", "", "Output timing data to a file corresponding to output descriptors line-by-line.")
	flagOrder := flag.String("order", "le", "Bus byte order. Accepts 'be' or 'le'.")
	flagInterpretWords := flag.String("interpret-words", "", "Interpret byte data as uint32 words in this order. Defaults to -order.")
	flagTypes := flag.String("types", "", "Comma separated packet types to print, i.e: 'normal,txrx-notify'. Empty prints all.")
	omitFrames := flag.Bool("omit-frames", false, "Do not decode 802.11 headers of received frames.")
	hexDump := flag.Bool("hex-dump", false, "Append a hex dump of every descriptor.")
	flag.Parse()
	if *flagInterpretWords == "" {
		*flagInterpretWords = *flagOrder
	}
	getOrder := func(s string) binary.ByteOrder {
		switch s {
		case "be":
			return binary.BigEndian
		case "le":
			return binary.LittleEndian
		}
		log.Fatal("invalid ordering ", s)
		return nil
	}
	types, err := parseTypes(*flagTypes)
	if err != nil {
		log.Fatal(err)
	}
	tap := TapCtl{
		Order:           getOrder(*flagOrder),
		WordInterpreter: getOrder(*flagInterpretWords),
		Types:           types,
		OmitFrames:      *omitFrames,
		HexDump:         *hexDump,
	}
	start := time.Now()
	if err := tap.run(*sdio, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func parseTypes(s string) (map[connac.PacketType]bool, error) {
	if s == "" {
		return nil, nil
	}
	types := make(map[connac.PacketType]bool)
outer:
	for _, name := range strings.Split(s, ",") {
		for typ := connac.PacketType(0); typ <= 0xf; typ++ {
			if typ.String() == name {
				types[typ] = true
				continue outer
			}
		}
		return nil, fmt.Errorf("unknown packet type %q", name)
	}
	return types, nil
}

func (tap *TapCtl) run(sdio, enable, clk, output string) error {
	descs, err := tap.processSpiFiles(sdio, clk, enable)
	if err != nil {
		return err
	}
	fp, err := os.Create(output)
	if err != nil {
		return err
	}
	defer fp.Close()

	var timings *os.File
	if timingsOutput != "" {
		log.Println("creating timings file", timingsOutput)
		timings, err = os.Create(timingsOutput)
		if err != nil {
			return err
		}
		defer timings.Close()
	}
	var counts [16]int
	for _, desc := range descs {
		_, typ, err := connac.DecodeRxHeader(desc.Data)
		if err == nil {
			typ = connac.EffectiveType(connac.Word(desc.Data, 0))
			counts[typ&0xf]++
		}
		if tap.Types != nil && (err != nil || !tap.Types[typ]) {
			continue
		}
		if err := tap.describe(fp, desc.Data); err != nil {
			return err
		}
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\tlen=%d\n", desc.Start, len(desc.Data))
		}
	}
	for typ, n := range counts {
		if n > 0 {
			slog.Info("summary", slog.String("type", connac.PacketType(typ).String()), slog.Int("count", n))
		}
	}
	return nil
}

func (tap *TapCtl) processSpiFiles(fsdio, fclk, fenable string) ([]tapdesc, error) {
	sdio, err := opendigital(fsdio)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdio, sdio)
	return tap.process(txs), nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, err
	}
	return df, nil
}

type tapdesc struct {
	Data  []byte
	Start float64
}

func (tap *TapCtl) process(txs []analyzers.TxSPI) (descs []tapdesc) {
	for _, tx := range txs {
		if len(tx.SDO) < connac.WordSize {
			continue
		}
		data := append([]byte(nil), tx.SDO...)
		tap.interpretBytes(data)
		descs = append(descs, tapdesc{Data: data, Start: tx.StartTime()})
	}
	return descs
}

var interpretOnce sync.Once

// interpretBytes reorders the bytes of every whole word of data from the bus
// order into little endian words, the descriptor layout.
func (tap *TapCtl) interpretBytes(data []byte) {
	if tap.WordInterpreter == tap.Order {
		return // Idempotent transformation.
	}
	interpretOnce.Do(func() {
		log.Println("interpreting bytes as words in", tap.WordInterpreter.String(), "order")
	})
	for len(data) >= 4 {
		word := tap.Order.Uint32(data[:4])
		tap.WordInterpreter.PutUint32(data[:4], word)
		data = data[4:]
	}
}

var errShortDesc = errors.New("descriptor shorter than declared length")

// describe writes one line decoding the descriptor in buf.
func (tap *TapCtl) describe(w io.Writer, buf []byte) error {
	length, _, err := connac.DecodeRxHeader(buf)
	if err != nil {
		_, err = fmt.Fprintf(w, "invalid len=%d %v\n", len(buf), err)
		return err
	}
	if int(length) > len(buf) {
		_, err = fmt.Fprintf(w, "invalid len=%d declared=%d %v\n", len(buf), length, errShortDesc)
		return err
	}
	buf = buf[:length]
	typ := connac.EffectiveType(connac.Word(buf, 0))
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-12s len=%4d", typ.String(), length)
	switch typ {
	case connac.PktTypeNormal:
		describeRx(&sb, buf, !tap.OmitFrames)
	case connac.PktTypeTxRxNotify:
		describeTxFree(&sb, buf)
	case connac.PktTypeTXS:
		describeTXS(&sb, buf)
	}
	if tap.HexDump {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSuffix(hexdump(buf), "\n"))
	}
	sb.WriteByte('\n')
	_, err = io.WriteString(w, sb.String())
	return err
}

func describeRx(sb *strings.Builder, buf []byte, frames bool) {
	d, err := connac.DecodeRxDesc(buf)
	if err != nil {
		fmt.Fprintf(sb, " err=%v", err)
		return
	}
	fmt.Fprintf(sb, " wcid=%d band=%d groups=%#x hdrtrans=%v", d.WlanIdx(), d.Band(), d.W[1]&(connac.RXD1Group1|connac.RXD1Group2|connac.RXD1Group3|connac.RXD1Group4|connac.RXD1Group5), d.HdrTrans())
	if d.HasGroup(connac.RXD1Group3) {
		fmt.Fprintf(sb, " rssi=%d", connac.RSSI(d.RCPI(0)))
	}
	start := d.PayloadOffset + d.HdrPad()
	if !frames || d.HdrTrans() || start >= len(buf) {
		return
	}
	frame := buf[start:]
	// The decoder expects a trailing FCS.
	withFCS := append(frame[:len(frame):len(frame)], 0, 0, 0, 0)
	var dot11 layers.Dot11
	if err := dot11.DecodeFromBytes(withFCS, gopacket.NilDecodeFeedback); err != nil {
		fmt.Fprintf(sb, " dot11-err=%v", err)
		return
	}
	fmt.Fprintf(sb, " %v a1=%v a2=%v seq=%d", dot11.Type, dot11.Address1, dot11.Address2, dot11.SequenceNumber)
}

func describeTxFree(sb *strings.Builder, buf []byte) {
	h, err := connac.DecodeTxFreeHeader(buf)
	if err != nil {
		fmt.Fprintf(sb, " err=%v", err)
		return
	}
	fmt.Fprintf(sb, " ver=%d total=%d", h.Version, h.Total)
	var tokens []uint16
	for i := connac.TxFreeEntryWords; i < len(buf)/connac.WordSize; i++ {
		e := connac.TxFreeInfo(connac.Word(buf, i))
		switch {
		case e.IsPair():
			fmt.Fprintf(sb, " wcid=%d", e.WlanID())
		case e.IsHeader():
			fmt.Fprintf(sb, " stat=%d cnt=%d", e.Stat(), e.Count())
		default:
			for k := 0; k < 2; k++ {
				if tok, ok := e.Token(k); ok {
					tokens = append(tokens, tok)
				}
			}
		}
	}
	fmt.Fprintf(sb, " tokens=%v", tokens)
}

func describeTXS(sb *strings.Builder, buf []byte) {
	var s connac.TXS
	it := connac.NewTxStatusIter(buf)
	for it.Next(&s) {
		fmt.Fprintf(sb, " [fmt=%d wcid=%d band=%d pid=%d acked=%v rate=%v/%d]", s.Format(), s.WCID(), s.Band(), s.PID(), s.Acked(), s.Rate().Mode(), s.Rate().Index())
	}
}

func hexdump(b []byte) string {
	var sb strings.Builder
	for i := 0; i < len(b); i += 16 {
		end := min(i+16, len(b))
		fmt.Fprintf(&sb, "\t%04x  % x\n", i, b[i:end])
	}
	return sb.String()
}
