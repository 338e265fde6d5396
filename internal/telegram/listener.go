package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Update represents a Telegram Update object (partial schema)
type Update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
	CallbackQuery struct {
		ID   string `json:"id"`
		Data string `json:"data"`
		From struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Message struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

type UpdateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler processes a slash command and returns the reply text.
type CommandHandler func(command string) string

// CallbackHandler processes an inline-button press and returns the reply text.
type CallbackHandler func(data string) string

// StartListener begins long-polling for commands and button presses.
// It blocks until the context is cancelled, so call it in a goroutine.
func StartListener(ctx context.Context, onCommand CommandHandler, onCallback CallbackHandler) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	authChatIDStr := os.Getenv("TELEGRAM_CHAT_ID")

	if token == "" || authChatIDStr == "" {
		log.Println("Telegram Listener: Credentials missing, disabled.")
		return
	}

	authChatID, _ := strconv.ParseInt(authChatIDStr, 10, 64)
	offset := 0

	log.Println("Telegram Listener: Started")

	for {
		if ctx.Err() != nil {
			return
		}

		url := fmt.Sprintf("https://api.telegram.org/bot%s/getUpdates?offset=%d&timeout=60", token, offset)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Telegram Listener Error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		var result UpdateResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			resp.Body.Close()
			log.Printf("Telegram Decode Error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		resp.Body.Close()

		if !result.Ok {
			log.Printf("Telegram API Error: %s (Code: %d)", result.Description, result.ErrorCode)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, update := range result.Result {
			offset = update.UpdateID + 1

			// Button press
			if update.CallbackQuery.ID != "" {
				if update.CallbackQuery.Message.Chat.ID != authChatID {
					log.Printf("⚠️ UNAUTHORIZED CALLBACK: User %s tried: %s",
						update.CallbackQuery.From.Username, update.CallbackQuery.Data)
					continue
				}
				answerCallback(token, update.CallbackQuery.ID)
				if onCallback != nil {
					if reply := onCallback(update.CallbackQuery.Data); reply != "" {
						Notify(reply)
					}
				}
				continue
			}

			// Access Control
			if update.Message.Chat.ID != authChatID {
				log.Printf("⚠️ UNAUTHORIZED ACCESS ATTEMPT: User %s (ID: %d) tried: %s",
					update.Message.From.Username, update.Message.Chat.ID, update.Message.Text)
				// We do NOT reply to unauthorized users to avoid leaking bot existence/logic
				continue
			}

			text := strings.TrimSpace(update.Message.Text)
			if strings.HasPrefix(text, "/") && onCommand != nil {
				log.Printf("Command received: %s", text)
				if reply := onCommand(text); reply != "" {
					Notify(reply)
				}
			}
		}
	}
}
