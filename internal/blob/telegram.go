package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements Client over the Telegram Bot API, addressing one chat
// as the blob destination. Files ride as document messages; their file id is
// the remote id and the carrying message id is kept for deletion.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	http   *http.Client
}

var _ Client = (*Telegram)(nil)

// NewTelegram authenticates the bot credential and binds it to chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	httpClient := &http.Client{Timeout: 90 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("bot credential rejected: %v", err)}
	}
	return &Telegram{bot: bot, chatID: chatID, http: httpClient}, nil
}

// ValidateDestination checks the chat exists and is reachable by the bot.
// Used once at setup, not in the steady-state sync loop.
func (t *Telegram) ValidateDestination(ctx context.Context) error {
	_, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: t.chatID},
	})
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("chat %d unreachable: %v", t.chatID, err)}
	}
	return nil
}

// Upload sends the payload as a document message with an optional caption.
func (t *Telegram) Upload(ctx context.Context, payload []byte, fileName, caption string) (*UploadResult, error) {
	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FileBytes{Name: fileName, Bytes: payload})
	doc.Caption = TruncateCaption(caption)

	message, err := t.bot.Send(doc)
	if err != nil {
		return nil, t.classify("upload", err)
	}

	remoteID := ""
	switch {
	case message.Document != nil:
		remoteID = message.Document.FileID
	case len(message.Photo) > 0:
		remoteID = largestPhoto(message.Photo).FileID
	}
	if remoteID == "" {
		return nil, &RejectedError{Op: "upload", Reason: "response carried no file id"}
	}
	return &UploadResult{RemoteID: remoteID, MessageID: int64(message.MessageID)}, nil
}

// Download fetches a blob's bytes by its file id.
func (t *Telegram) Download(ctx context.Context, remoteID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(remoteID)
	if err != nil {
		return nil, t.classify("download", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	return data, nil
}

// DeleteMessage removes the message carrying a blob. Returns false without
// error when the remote reports the message as already gone.
func (t *Telegram) DeleteMessage(ctx context.Context, messageID int64) (bool, error) {
	resp, err := t.bot.Request(tgbotapi.NewDeleteMessage(t.chatID, int(messageID)))
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			// Deleting an already-deleted message is success for our purposes.
			return false, nil
		}
		return false, &TransportError{Op: "delete", Err: err}
	}
	return resp.Ok, nil
}

// ListRecentAttachments pages through pending channel updates, returning
// documents and the largest size of each photo message. The cursor is the
// next update id, so it is strictly monotonic across calls.
func (t *Telegram) ListRecentAttachments(ctx context.Context, limit int, cursor string) (*Page, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("malformed scan cursor %q: %w", cursor, err)
		}
		offset = parsed
	}

	updates, err := t.bot.GetUpdates(tgbotapi.UpdateConfig{
		Offset:  offset,
		Limit:   limit,
		Timeout: 0,
	})
	if err != nil {
		return nil, t.classify("list", err)
	}

	page := &Page{HasMore: len(updates) == limit}
	lastUpdateID := 0
	for _, update := range updates {
		lastUpdateID = update.UpdateID
		message := update.Message
		if message == nil || message.Chat == nil || message.Chat.ID != t.chatID {
			continue
		}
		if message.Document != nil {
			doc := message.Document
			item := Attachment{
				RemoteID:  doc.FileID,
				MessageID: int64(message.MessageID),
				FileName:  doc.FileName,
				MimeType:  doc.MimeType,
				Timestamp: int64(message.Date) * 1000,
			}
			if doc.FileSize > 0 {
				size := int64(doc.FileSize)
				item.FileSize = &size
			}
			page.Items = append(page.Items, item)
			continue
		}
		if len(message.Photo) > 0 {
			photo := largestPhoto(message.Photo)
			item := Attachment{
				RemoteID:  photo.FileID,
				MessageID: int64(message.MessageID),
				FileName:  fmt.Sprintf("photo_%d.jpg", message.MessageID),
				MimeType:  "image/jpeg",
				Timestamp: int64(message.Date) * 1000,
			}
			if photo.FileSize > 0 {
				size := int64(photo.FileSize)
				item.FileSize = &size
			}
			page.Items = append(page.Items, item)
		}
	}
	if lastUpdateID > 0 {
		page.NextCursor = strconv.Itoa(lastUpdateID + 1)
	}
	return page, nil
}

// classify maps transport errors to the package taxonomy. API-level errors
// are terminal rejections except for rate limiting and server faults.
func (t *Telegram) classify(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return &TransportError{Op: op, Err: err}
		}
		if op == "download" && apiErr.Code == http.StatusNotFound {
			return ErrNotFound
		}
		return &RejectedError{Op: op, Reason: apiErr.Message}
	}
	return &TransportError{Op: op, Err: err}
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	largest := sizes[0]
	for _, size := range sizes[1:] {
		if size.FileSize > largest.FileSize {
			largest = size
		}
	}
	return largest
}
