package embed

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	openaiembedding "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/photosift/photosift/internal/common"
	"github.com/photosift/photosift/internal/config"
)

// Client calls an OpenAI-compatible embeddings endpoint serving a joint
// image/text model such as CLIP. Images are sent inline as base64 data URIs.
type Client struct {
	emb    embedding.Embedder
	model  string
	logger *slog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (*Client, error) {
	ec := &openaiembedding.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.Dimensions > 0 {
		dims := cfg.Dimensions
		ec.Dimensions = &dims
	}
	emb, err := openaiembedding.NewEmbedder(ctx, ec)
	if err != nil {
		return nil, common.ProviderUnavailable("create embedder", err)
	}
	return NewClientWithEmbedder(emb, cfg.Model, logger), nil
}

// NewClientWithEmbedder wraps an existing embedder.
func NewClientWithEmbedder(emb embedding.Embedder, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{emb: emb, model: model, logger: logger}
}

func (c *Client) EncodeImage(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NotFound(fmt.Sprintf("image %s not found", path))
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	uri := "data:" + mimeType(path) + ";base64," + base64.StdEncoding.EncodeToString(data)
	return c.embed(ctx, uri)
}

func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text)
}

func (c *Client) Available() bool { return c.emb != nil }

func (c *Client) Model() string { return c.model }

func (c *Client) embed(ctx context.Context, input string) ([]float32, error) {
	vectors, err := c.emb.EmbedStrings(ctx, []string{input})
	if err != nil {
		c.logger.Debug("embedding request failed", "model", c.model, "error", err)
		return nil, common.ProviderUnavailable("embed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, common.ProviderUnavailable("embed: empty response", nil)
	}
	return normalize(vectors[0]), nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
