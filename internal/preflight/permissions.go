package preflight

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"lipstalk/internal/config"
	"lipstalk/internal/services"
)

// defaultSoundGlob matches ALSA PCM device nodes.
const defaultSoundGlob = "/dev/snd/pcmC*"

// DevicePermissions checks camera and microphone access before a recording.
type DevicePermissions struct {
	VideoDevice string
	// AudioDevice is a device path, or an ALSA name checked through SoundGlob.
	AudioDevice string
	SoundGlob   string
}

// NewDevicePermissions reads device settings from cfg.
func NewDevicePermissions(cfg *config.Config) DevicePermissions {
	p := DevicePermissions{
		VideoDevice: cfg.Recording.VideoDevice,
		SoundGlob:   defaultSoundGlob,
	}
	if strings.TrimSpace(cfg.Recording.AudioFormat) != "" {
		p.AudioDevice = cfg.Recording.AudioDevice
	}
	return p
}

// Check returns an error tagged services.ErrPermissionDenied when the camera
// or microphone cannot be opened.
func (p DevicePermissions) Check(ctx context.Context) error {
	if err := deviceAccess(p.VideoDevice); err != nil {
		return services.Wrap(services.ErrPermissionDenied, "preflight", "camera", "", err)
	}
	if err := p.checkAudio(); err != nil {
		return services.Wrap(services.ErrPermissionDenied, "preflight", "microphone", "", err)
	}
	return nil
}

// Results reports the device checks for display.
func (p DevicePermissions) Results() []Result {
	results := []Result{CheckDeviceAccess("Camera", p.VideoDevice)}
	if strings.TrimSpace(p.AudioDevice) == "" {
		return results
	}
	if err := p.checkAudio(); err != nil {
		results = append(results, Result{Name: "Microphone", Detail: err.Error()})
	} else {
		results = append(results, Result{Name: "Microphone", Passed: true, Detail: fmt.Sprintf("%s (accessible)", p.AudioDevice)})
	}
	return results
}

func (p DevicePermissions) checkAudio() error {
	audio := strings.TrimSpace(p.AudioDevice)
	if audio == "" {
		return nil
	}
	if strings.HasPrefix(audio, "/") {
		return deviceAccess(audio)
	}
	pattern := p.SoundGlob
	if pattern == "" {
		pattern = defaultSoundGlob
	}
	nodes, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("list sound devices: %w", err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no sound devices match %s", pattern)
	}
	var lastErr error
	for _, node := range nodes {
		if lastErr = deviceAccess(node); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
