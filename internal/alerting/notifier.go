package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装一次 provider 切换的告警上下文。
type Notification struct {
	At      time.Time
	ChainID uint64
	From    string
	To      string
	Reason  string
	// Head 仅在共识切换时非零。
	Head uint64
	// LagSeconds 与 ErrorPct 描述切换前旧 provider 的健康评分。
	LagSeconds decimal.Decimal
	ErrorPct   decimal.Decimal
	// Environment 标注部署环境，为空时不显示。
	Environment string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Str("from", note.From).
		Str("to", note.To).
		Str("reason", note.Reason).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Block Stream Failover]\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	if note.ChainID > 0 {
		builder.WriteString(fmt.Sprintf("Chain: %d\n", note.ChainID))
	}
	builder.WriteString(fmt.Sprintf("Switch: %s -> %s\n", note.From, note.To))
	builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	if note.Head > 0 {
		builder.WriteString(fmt.Sprintf("Consensus head: %d\n", note.Head))
	}
	builder.WriteString(fmt.Sprintf("Previous lag: %ss, errors: %s%%\n", note.LagSeconds.StringFixed(1), note.ErrorPct.StringFixed(1)))
	if note.Environment != "" {
		builder.WriteString(fmt.Sprintf("Env: %s\n", note.Environment))
	}
	return builder.String()
}

// AsyncNotifier 在后台发送告警，调用方不会被阻塞。
type AsyncNotifier struct {
	next    Notifier
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// NewAsyncNotifier 包装 next，每条告警最多等待 timeout。
func NewAsyncNotifier(next Notifier, timeout time.Duration, logger zerolog.Logger) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncNotifier{next: next, timeout: timeout, logger: logger.With().Str("component", "alert_dispatch").Logger()}
}

// Send 异步投递 note，失败仅记录日志。
func (a *AsyncNotifier) Send(note Notification) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, note); err != nil {
			a.logger.Error().Err(err).Str("from", note.From).Str("to", note.To).Msg("告警发送失败")
		}
	}()
}

// Wait 等待所有在途告警结束。
func (a *AsyncNotifier) Wait() {
	a.wg.Wait()
}

var _ Notifier = (*TelegramNotifier)(nil)
