package gpt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/pkg/models"
)

// persona is the default voice for generated captions and analyses.
const persona = `Você é o Zeca, bot de WhatsApp criado pelo Grego.
Fala como aquele amigo sarcástico que sempre tem uma resposta pronta.
Humor ácido e direto, sem piada pronta nem texto com cabeçalho.
Nada de enumerações, bullets, tópicos ou títulos.
Fala curto, em PT-BR, com gírias leves. Máximo 2 frases. Máximo 2 emojis.
Não peça desculpas. Não diga que é bot. Não explique o óbvio.
Responda APENAS com a mensagem final, sem preâmbulo.`

// Client wraps the OpenAI chat-completions API. A client without an API key
// is valid: every call degrades to an empty result so AI-backed features
// become no-ops instead of failures.
type Client struct {
	client  *openai.Client
	cfg     *config.Config
	logger  *slog.Logger
	missing sync.Once
}

// New creates a new GPT client. An empty apiKey yields a disabled client.
func New(apiKey string, cfg *config.Config, logger *slog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger.WithGroup("gpt"),
	}
	if apiKey != "" {
		client := openai.NewClient(option.WithAPIKey(apiKey))
		c.client = &client
	}
	return c
}

// Countdown is the remaining time until the nearest event.
type Countdown struct {
	Days    int
	Hours   int
	Minutes int
}

// CaptionRequest carries the context for an auto-generated caption.
type CaptionRequest struct {
	Purpose           string
	Names             []string
	TimeStr           string
	NoEvents          bool
	AnnounceEvents    bool
	DayOfWeek         string
	TodayDateStr      string
	EventsTodayDetail string
	NearestDateStr    string
	Countdown         *Countdown
	GreetingHint      string
	PersonaOverride   string
}

// Caption generates a short caption for a scheduled send. Returns an empty
// string when the client is disabled or the model refuses; callers treat
// that as "no caption", never as an error.
func (c *Client) Caption(ctx context.Context, req CaptionRequest) (string, error) {
	system := persona
	if req.PersonaOverride != "" {
		system = req.PersonaOverride
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escreva uma mensagem de %s para o grupo.\n", req.Purpose)
	if req.GreetingHint != "" {
		fmt.Fprintf(&sb, "Saudação adequada ao horário: %s.\n", req.GreetingHint)
	}
	if req.DayOfWeek != "" {
		fmt.Fprintf(&sb, "Hoje é %s, %s.\n", req.DayOfWeek, req.TodayDateStr)
	}
	if req.AnnounceEvents {
		if req.NoEvents {
			sb.WriteString("Não há eventos cadastrados; zoe o marasmo do grupo.\n")
		} else {
			if req.EventsTodayDetail != "" {
				fmt.Fprintf(&sb, "Eventos de hoje: %s.\n", req.EventsTodayDetail)
			}
			if req.NearestDateStr != "" {
				fmt.Fprintf(&sb, "Próximo evento: %s.\n", req.NearestDateStr)
			}
			if req.Countdown != nil {
				fmt.Fprintf(&sb, "Faltam %d dias, %d horas e %d minutos.\n",
					req.Countdown.Days, req.Countdown.Hours, req.Countdown.Minutes)
			}
		}
	} else if len(req.Names) > 0 {
		fmt.Fprintf(&sb, "Eventos próximos: %s (%s).\n", strings.Join(req.Names, ", "), req.TimeStr)
	}

	return c.complete(ctx, system, sb.String())
}

// Analyze produces a sarcastic read of the given recent chat messages.
// Same degradation contract as Caption.
func (c *Client) Analyze(ctx context.Context, msgs []models.RecentMessage) (string, error) {
	var sb strings.Builder
	sb.WriteString("Analisa essa conversa do grupo e dá teu veredito:\n\n")
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = m.Author
		}
		if sender == "" {
			sender = "desconhecido"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", sender, strings.TrimSpace(m.Body))
	}

	return c.complete(ctx, persona, sb.String())
}

// complete runs one chat completion with the configured timeout. Refusals
// and empty outputs come back as ("", nil).
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.client == nil {
		c.missing.Do(func() {
			c.logger.Warn("OPENAI_API_KEY not configured, AI features disabled")
		})
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.App.OpenAI.TimeoutSeconds)*time.Second)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       shared.ChatModel(c.cfg.App.OpenAI.Model),
		MaxTokens:   openai.Int(int64(c.cfg.App.OpenAI.MaxOutputTokens)),
		Temperature: openai.Float(c.cfg.App.OpenAI.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("failed to call OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
