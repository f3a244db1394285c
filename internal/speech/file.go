package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khoanguyen-dev/mai/internal/protocol"
)

// FileSynthesizer renders each message through an HTTP TTS endpoint into a
// file, runs an external lipsync command over it, and attaches the audio
// as base64 plus the parsed cue JSON.
type FileSynthesizer struct {
	cfg    Config
	client *http.Client
}

func NewFileSynthesizer(cfg Config) *FileSynthesizer {
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	return &FileSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *FileSynthesizer) Attach(ctx context.Context, messages []protocol.Message, prefix string) []protocol.Message {
	out := make([]protocol.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Text == "" {
			continue
		}
		base := filepath.Join(s.cfg.OutputDir, "msg_"+uuid.NewString())
		keep := false
		if prefix != "" {
			base = filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%s_%d", prefix, i))
			keep = true
		}
		if err := s.attachOne(ctx, &out[i], base, keep); err != nil {
			log.Printf("speech attach failed for message %d, keeping text only: %v", i, err)
		}
	}
	return out
}

func (s *FileSynthesizer) attachOne(ctx context.Context, msg *protocol.Message, base string, keep bool) error {
	audioPath := base + ".mp3"
	cuePath := base + ".json"
	if !keep {
		defer os.Remove(audioPath)
	}

	// Named files (intro lines) are rendered once and served from disk on
	// later turns, including any cue transcript produced alongside.
	if keep {
		if raw, err := os.ReadFile(audioPath); err == nil {
			msg.Audio = base64.StdEncoding.EncodeToString(raw)
			if cues, err := os.ReadFile(cuePath); err == nil && json.Valid(cues) {
				msg.Lipsync = json.RawMessage(cues)
			}
			return nil
		}
	}

	if err := s.synthesize(ctx, msg.Text, audioPath); err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	raw, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	msg.Audio = base64.StdEncoding.EncodeToString(raw)

	cues, err := s.lipsync(ctx, audioPath, cuePath, keep)
	if err != nil {
		// Audio without mouth cues still beats silence.
		log.Printf("lipsync failed, attaching audio without cues: %v", err)
		return nil
	}
	msg.Lipsync = cues
	return nil
}

func (s *FileSynthesizer) synthesize(ctx context.Context, text, outPath string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TTSURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tts returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// lipsync runs the configured command with the audio and cue paths
// substituted for {in} and {out}, then parses the produced JSON.
func (s *FileSynthesizer) lipsync(ctx context.Context, audioPath, cuePath string, keep bool) (json.RawMessage, error) {
	if s.cfg.LipSyncCmd == "" {
		return nil, fmt.Errorf("no lipsync command configured")
	}
	if !keep {
		defer os.Remove(cuePath)
	}

	parts := strings.Fields(s.cfg.LipSyncCmd)
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		p = strings.ReplaceAll(p, "{in}", audioPath)
		p = strings.ReplaceAll(p, "{out}", cuePath)
		args = append(args, p)
	}

	cmd := exec.CommandContext(ctx, parts[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("lipsync command: %w: %s", err, strings.TrimSpace(string(out)))
	}

	raw, err := os.ReadFile(cuePath)
	if err != nil {
		return nil, fmt.Errorf("read cues: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("lipsync output is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
