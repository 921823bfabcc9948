package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
)

// ErrEmbeddingUnavailable is returned when the provider fails or its output cannot be used.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Client is the provider call the service wraps. llm.Provider satisfies it.
type Client interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

// Service turns text into fixed-length vectors.
type Service struct {
	client     Client
	model      string
	dimensions int
	logger     *log.Logger
}

func NewService(client Client, cfg config.EmbeddingConfig, logger *log.Logger) *Service {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBEDDING] ", log.LstdFlags)
	}
	return &Service{client: client, model: cfg.Model, dimensions: cfg.Dimensions, logger: logger}
}

// Dimensions reports the configured vector length.
func (s *Service) Dimensions() int { return s.dimensions }

// Model reports the configured embedding model.
func (s *Service) Model() string { return s.model }

// Embed returns the vector for text. Callers should treat failures as non-fatal.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one provider call; the result is ordered like texts.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no input", ErrEmbeddingUnavailable)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, s.fail(fmt.Errorf("%w: input %d is empty", ErrEmbeddingUnavailable, i))
		}
	}
	if s.client == nil {
		return nil, s.fail(fmt.Errorf("%w: no client", ErrEmbeddingUnavailable))
	}
	vecs, err := s.client.Embed(ctx, s.model, texts)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err))
	}
	if len(vecs) != len(texts) {
		return nil, s.fail(fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingUnavailable, len(texts), len(vecs)))
	}
	for i, v := range vecs {
		if len(v) != s.dimensions {
			return nil, s.fail(fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingUnavailable, i, len(v), s.dimensions))
		}
	}
	return vecs, nil
}

func (s *Service) fail(err error) error {
	telemetry.EmbeddingFailures.WithLabelValues(s.model).Inc()
	s.logger.Printf("embed failed: %v", err)
	return err
}
