// Command relayprobe streams a PCM WAV file to the relay in real time and
// prints every transcript event it receives.
package main

import (
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain"
	"github.com/jdsouz07/lecture-ai/internal/audio"
	relayws "github.com/jdsouz07/lecture-ai/internal/websocket"
)

func main() {
	audioFile := flag.String("audio", "sample_audio.wav", "Path to a 16-bit PCM WAV file")
	relayURL := flag.String("relay", "ws://localhost:8080/ws", "Relay WebSocket endpoint")
	slice := flag.Duration("slice", 250*time.Millisecond, "Audio sent per frame")
	linger := flag.Duration("linger", 5*time.Second, "How long to wait for trailing transcripts")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		logger.Fatal("Failed to read audio file", zap.String("path", *audioFile), zap.Error(err))
	}
	pcm, format, err := audio.DecodePCM(data)
	if err != nil {
		logger.Fatal("Not a usable WAV file", zap.Error(err))
	}
	logger.Info("Loaded audio",
		zap.String("path", *audioFile),
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels),
		zap.Int("bytes", len(pcm)))

	u, err := url.Parse(*relayURL)
	if err != nil {
		logger.Fatal("Invalid relay URL", zap.Error(err))
	}
	q := u.Query()
	q.Set("encoding", format.Encoding)
	q.Set("sample_rate", strconv.Itoa(format.SampleRate))
	q.Set("channels", strconv.Itoa(format.Channels))
	u.RawQuery = q.Encode()

	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			logger.Fatal("Relay rejected the connection", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		logger.Fatal("Failed to connect", zap.Error(err))
	}
	defer c.Close()
	logger.Info("Connected", zap.String("url", u.String()))

	done := make(chan struct{})
	go readEvents(c, logger, done)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	frameSize := format.BytesFor(*slice)
	if frameSize <= 0 {
		logger.Fatal("Slice is shorter than one sample frame", zap.Duration("slice", *slice))
	}
	ticker := time.NewTicker(*slice)
	defer ticker.Stop()

	sent := 0
stream:
	for offset := 0; offset < len(pcm); offset += frameSize {
		end := offset + frameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := c.WriteMessage(websocket.BinaryMessage, pcm[offset:end]); err != nil {
			logger.Error("Failed to send frame", zap.Int("frame", sent), zap.Error(err))
			break
		}
		sent++

		select {
		case <-ticker.C:
		case <-done:
			break stream
		case <-interrupt:
			break stream
		}
	}
	logger.Info("Finished streaming", zap.Int("frames", sent))

	// Closing our side lets the relay finalize the link and flush what it has.
	select {
	case <-done:
		return
	case <-time.After(*linger):
	}
	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		logger.Warn("write close", zap.Error(err))
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

func readEvents(c *websocket.Conn, logger *zap.Logger, done chan struct{}) {
	defer close(done)
	validator := relayws.NewMessageValidator()

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("Relay closed the connection", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := validator.ValidateMessage(message)
		if err != nil {
			logger.Debug("Ignoring message", zap.ByteString("raw", message), zap.Error(err))
			continue
		}
		switch m := msg.(type) {
		case *domain.TranscriptEvent:
			logger.Info("Transcript", zap.String("text", m.Text))
		case *relayws.ErrorMessage:
			logger.Error("Relay error", zap.String("code", m.Code), zap.String("message", m.Message))
		}
	}
}
