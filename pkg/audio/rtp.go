package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// RTP payload types used by RTPPlayer.
const (
	PayloadTypeMPA uint8 = 14 // MPEG audio, RFC 2250
	PayloadTypePCM uint8 = 96 // dynamic, L16 big-endian at the file's rate
)

const (
	mpaClockRate  = 90000
	mpaBitrate    = 128000
	pcmFrame      = 20 * time.Millisecond
	maxRTPPayload = 1200
)

// RTPPlayer streams audio files as RTP over UDP in real time. MP3 files go
// out as MPEG audio; WAV files as 16-bit linear PCM.
type RTPPlayer struct {
	addr   string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	ssrc uint32
	seq  uint16
	ts   uint32

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRTPPlayer creates a player sending to addr (host:port).
func NewRTPPlayer(addr string, logger *slog.Logger) *RTPPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPPlayer{
		addr:   addr,
		logger: logger.With("component", "audio.rtp"),
		ssrc:   rand.Uint32(),
		seq:    uint16(rand.Uint32()),
		sleep:  sleepCtx,
	}
}

// Play streams the file at path and returns when the last packet is sent.
func (p *RTPPlayer) Play(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("audio: read %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := net.Dial("udp", p.addr)
		if err != nil {
			return fmt.Errorf("audio: dial %s: %w", p.addr, err)
		}
		p.conn = conn
	}

	var sent int
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		sent, err = p.streamWAV(ctx, data)
	} else {
		sent, err = p.streamMPA(ctx, data)
	}
	if err != nil {
		return err
	}
	p.logger.Debug("streamed", "file", path, "packets", sent)
	return nil
}

// Close releases the UDP socket.
func (p *RTPPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *RTPPlayer) streamWAV(ctx context.Context, data []byte) (int, error) {
	w, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	if w.BitsPerSample != 16 || w.Channels < 1 {
		return 0, fmt.Errorf("%w: %d-bit %d-channel audio", ErrNotWAV, w.BitsPerSample, w.Channels)
	}

	frameSamples := w.SampleRate * int(pcmFrame/time.Millisecond) / 1000
	frameBytes := frameSamples * w.Channels * 2
	sent := 0
	for off := 0; off < len(w.Data); off += frameBytes {
		end := min(off+frameBytes, len(w.Data))
		payload := make([]byte, end-off)
		// L16 on the wire is big-endian.
		for i := 0; i+1 < len(payload); i += 2 {
			payload[i], payload[i+1] = w.Data[off+i+1], w.Data[off+i]
		}
		if err := p.send(PayloadTypePCM, payload, sent == 0); err != nil {
			return sent, err
		}
		sent++
		p.ts += uint32(len(payload) / (2 * w.Channels))
		if err := p.sleep(ctx, pcmFrame); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (p *RTPPlayer) streamMPA(ctx context.Context, data []byte) (int, error) {
	chunk := maxRTPPayload - 4
	sent := 0
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		payload := make([]byte, 4+end-off)
		payload[2] = byte(off >> 8)
		payload[3] = byte(off)
		copy(payload[4:], data[off:end])
		if err := p.send(PayloadTypeMPA, payload, sent == 0); err != nil {
			return sent, err
		}
		sent++
		d := time.Duration(end-off) * 8 * time.Second / mpaBitrate
		p.ts += uint32(d * mpaClockRate / time.Second)
		if err := p.sleep(ctx, d); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (p *RTPPlayer) send(pt uint8, payload []byte, marker bool) error {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: p.seq,
			Timestamp:      p.ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("audio: marshal rtp: %w", err)
	}
	if _, err := p.conn.Write(buf); err != nil {
		return fmt.Errorf("audio: send rtp: %w", err)
	}
	p.seq++
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
