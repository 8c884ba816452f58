package publisher

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"sjsage522/gridharvester/logger"
	apperrors "sjsage522/gridharvester/pkg/errors"
)

// FilePublisher appends messages as JSON lines to a file
type FilePublisher struct {
	mu   sync.Mutex
	file  *os.File
	w     *bufio.Writer
	lines int
	log   *logger.Logger
}

var _ Publisher = (*FilePublisher)(nil)

type fileEntry struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

// NewFilePublisher opens path for appending, creating it when missing
func NewFilePublisher(path string) (*FilePublisher, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperrors.NewPublisher("open", "failed to open "+path, err)
	}
	return &FilePublisher{
		file: f,
		w:    bufio.NewWriter(f),
		log:  logger.ForPublisher().WithStr("file", path),
	}, nil
}

// Publish writes one line holding key and the JSON message
func (p *FilePublisher) Publish(key string, message []byte) error {
	if !json.Valid(message) {
		return apperrors.NewPublisher("write", "message is not valid JSON", nil)
	}
	line, err := json.Marshal(fileEntry{Key: key, Record: message})
	if err != nil {
		return apperrors.NewPublisher("write", "failed to encode line", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(append(line, '\n')); err != nil {
		return apperrors.NewPublisher("write", "failed to write line", err)
	}
	p.lines++
	return nil
}

// TrimStreams flushes buffered lines; files are never truncated
func (p *FilePublisher) TrimStreams() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		p.log.Error().Err(err).Msg("Failed to flush output")
		return apperrors.NewPublisher("flush", "failed to flush output", err)
	}
	return nil
}

// Close flushes and closes the file
func (p *FilePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		p.file.Close()
		return err
	}
	if err := p.file.Close(); err != nil {
		return err
	}
	p.log.Info().Int("lines", p.lines).Msg("Output file closed")
	return nil
}
