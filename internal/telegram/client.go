// Package telegram adapts the Telegram Bot API to the bot's domain types: it
// fetches and classifies updates, dispatches them to the feature handlers and
// sends replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"voice_scribe_bot/internal/config"
	"voice_scribe_bot/internal/domain"
	"voice_scribe_bot/internal/logging"
)

const (
	defaultServerURL = "https://api.telegram.org"
	maxFileSize      = 20 << 20
	pollGrace        = 10 * time.Second
)

// AllowedUpdates lists the update kinds requested from getUpdates.
var AllowedUpdates = []string{
	"message",
	"edited_message",
	"business_message",
	"edited_business_message",
	"deleted_business_messages",
	"business_connection",
	"pre_checkout_query",
}

type botAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*models.Message, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// createBot is overridable for tests.
var createBot = func(token string, options ...bot.Option) (botAPI, error) {
	return bot.New(token, options...)
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	serverURL  string
	httpClient *http.Client
}

// WithServerURL points the client at a different Bot API server.
func WithServerURL(url string) Option {
	return func(o *clientOptions) {
		o.serverURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets the HTTP client used for all Bot API traffic.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// Client sends messages, invoices and pre-checkout answers through
// go-telegram/bot and performs getUpdates and file downloads directly.
type Client struct {
	api        botAPI
	httpClient *http.Client
	serverURL  string
	token      string
	testEnv    bool
	logger     *logrus.Entry
}

// NewClient builds the Bot API client. In test mode all calls go to the
// Telegram test environment.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	options := clientOptions{serverURL: defaultServerURL, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&options)
	}

	botOptions := []bot.Option{
		bot.WithServerURL(options.serverURL),
		bot.WithHTTPClient(cfg.PollTimeout+pollGrace, options.httpClient),
	}
	if cfg.TestMode {
		botOptions = append(botOptions, bot.UseTestEnvironment())
	}

	api, err := createBot(cfg.TelegramToken, botOptions...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	return &Client{
		api:        api,
		httpClient: options.httpClient,
		serverURL:  options.serverURL,
		token:      cfg.TelegramToken,
		testEnv:    cfg.TestMode,
		logger:     logger,
	}, nil
}

// SendText delivers a text message, through the business connection when set.
func (c *Client) SendText(ctx context.Context, msg domain.OutboundMessage) error {
	params := &bot.SendMessageParams{
		ChatID:               msg.ChatID,
		Text:                 msg.Text,
		BusinessConnectionID: msg.BusinessConnectionID,
	}
	if msg.HTML {
		params.ParseMode = models.ParseModeHTML
	}

	if _, err := c.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendInvoice sends a Stars invoice with a single Pay button.
func (c *Client) SendInvoice(ctx context.Context, invoice domain.Invoice) error {
	prices := make([]models.LabeledPrice, 0, len(invoice.Prices))
	for _, p := range invoice.Prices {
		prices = append(prices, models.LabeledPrice{Label: p.Label, Amount: int(p.Amount)})
	}

	params := &bot.SendInvoiceParams{
		ChatID:         invoice.ChatID,
		Title:          invoice.Title,
		Description:    invoice.Description,
		Payload:        invoice.Payload,
		Currency:       invoice.Currency,
		Prices:         prices,
		StartParameter: invoice.StartParameter,
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{
				{{Text: invoice.PayButtonText, Pay: true}},
			},
		},
	}

	if _, err := c.api.SendInvoice(ctx, params); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

// AnswerPreCheckout approves or declines a pre-checkout query.
func (c *Client) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
	}
	if !ok {
		params.ErrorMessage = errorMessage
	}

	if _, err := c.api.AnswerPreCheckoutQuery(ctx, params); err != nil {
		return fmt.Errorf("answer pre-checkout query: %w", err)
	}
	return nil
}

// DownloadFile resolves fileID and returns the file contents.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file == nil || file.FilePath == "" {
		return nil, errors.New("get file: empty file path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.downloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("download file: larger than %d bytes", maxFileSize)
	}
	return data, nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type getUpdatesResponse struct {
	OK          bool            `json:"ok"`
	Result      []models.Update `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// FetchUpdates long-polls getUpdates starting at offset.
func (c *Client) FetchUpdates(ctx context.Context, offset int64, timeout time.Duration, allowed []string) ([]models.Update, error) {
	body, err := json.Marshal(getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: allowed,
	})
	if err != nil {
		return nil, fmt.Errorf("encode getUpdates: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.methodURL("getUpdates"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var out getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode getUpdates (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("getUpdates: error %d: %s", out.ErrorCode, out.Description)
	}

	return out.Result, nil
}

func (c *Client) methodURL(method string) string {
	if c.testEnv {
		return c.serverURL + "/bot" + c.token + "/test/" + method
	}
	return c.serverURL + "/bot" + c.token + "/" + method
}

// downloadLink returns the URL of a resolved file. The library's link has no
// test environment segment, so test mode builds it here.
func (c *Client) downloadLink(file *models.File) string {
	if c.testEnv {
		return c.serverURL + "/file/bot" + c.token + "/test/" + file.FilePath
	}
	return c.api.FileDownloadLink(file)
}
