package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
)

// Button represents an inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// SendInteractiveMessage sends a message with inline buttons, used for the
// trade confirmation gate.
func SendInteractiveMessage(text string, buttons []Button) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID := os.Getenv("TELEGRAM_CHAT_ID")

	if token == "" || chatID == "" {
		log.Println("Warning: Telegram credentials missing, confirmation prompt not delivered")
		return
	}

	// All buttons in one row.
	var inlineKeyboard [][]Button
	inlineKeyboard = append(inlineKeyboard, buttons)

	keyboardJSON, _ := json.Marshal(map[string]interface{}{
		"inline_keyboard": inlineKeyboard,
	})

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token)
	data := map[string]string{
		"chat_id":      chatID,
		"text":         text,
		"parse_mode":   "Markdown",
		"reply_markup": string(keyboardJSON),
	}

	jsonData, _ := json.Marshal(data)
	resp, err := http.Post(apiURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("Telegram Error: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Telegram API Error: Status %s", resp.Status)
	}
}

// answerCallback acknowledges a button press so the client stops its spinner.
func answerCallback(token, callbackID string) {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/answerCallbackQuery", token)
	jsonData, _ := json.Marshal(map[string]string{"callback_query_id": callbackID})
	resp, err := http.Post(apiURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return
	}
	resp.Body.Close()
}
