package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/jdsouz07/lecture-ai/domain/entities"
)

// Microphone captures PCM16 from the default input device through miniaudio.
type Microphone struct {
	logger *zap.Logger

	mu      sync.Mutex
	format  entities.AudioFormat
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	slicer  *slicer
	out     chan entities.AudioFragment
	started bool
	dropped int
}

// NewMicrophone creates a microphone device. Nothing is acquired until Open.
func NewMicrophone(logger *zap.Logger) *Microphone {
	return &Microphone{logger: logger}
}

// Open initializes miniaudio and the capture device. Failures here mean the
// microphone is missing or access was denied.
func (m *Microphone) Open(format entities.AudioFormat) error {
	if err := format.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return ErrAlreadyOpen
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onRecvFrames,
	})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	m.format = format
	return nil
}

// Format returns the format the device was opened with.
func (m *Microphone) Format() entities.AudioFormat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// Start begins capture; fragments of one slice each arrive on the channel.
func (m *Microphone) Start(slice time.Duration) (<-chan entities.AudioFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil, ErrNotOpen
	}
	if m.started {
		return nil, ErrStarted
	}

	m.slicer = newSlicer(m.format, slice)
	m.out = make(chan entities.AudioFragment, 64)
	if err := m.device.Start(); err != nil {
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	m.started = true

	m.logger.Info("Microphone capture started",
		zap.Int("sampleRate", m.format.SampleRate),
		zap.Int("channels", m.format.Channels),
		zap.Duration("slice", slice))
	return m.out, nil
}

// onRecvFrames runs on the miniaudio thread and must not block.
func (m *Microphone) onRecvFrames(_, input []byte, _ uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}

	for _, frag := range m.slicer.push(input) {
		select {
		case m.out <- frag:
		default:
			m.dropped++
		}
	}
}

// Close stops capture, emits the partial tail and releases the device.
func (m *Microphone) Close() error {
	m.mu.Lock()
	device, ctx := m.device, m.ctx
	started := m.started
	m.mu.Unlock()

	if device == nil {
		return nil
	}

	var stopErr error
	if started {
		// Stop blocks until the callback has returned for the last time.
		stopErr = device.Stop()
	}

	m.mu.Lock()
	if started {
		m.started = false
		if frag, ok := m.slicer.drain(); ok {
			select {
			case m.out <- frag:
			default:
				m.dropped++
			}
		}
		close(m.out)
		if m.dropped > 0 {
			m.logger.Warn("Capture fragments dropped", zap.Int("count", m.dropped))
		}
	}
	m.device = nil
	m.ctx = nil
	m.mu.Unlock()

	device.Uninit()
	ctx.Uninit()
	ctx.Free()

	if stopErr != nil {
		return fmt.Errorf("stop capture device: %w", stopErr)
	}
	return nil
}
