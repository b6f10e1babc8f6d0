package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/conf"
	"github.com/zapdesk/inbox-bridge/internal/infra/uazapi"
)

// send-message sends one WhatsApp text through the gateway, for checking
// gateway credentials outside the bridge.
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: send-message <phone> <message> [instance_token]")
		os.Exit(1)
	}

	cfg, err := conf.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Gateway.BaseURL == "" {
		fmt.Println("Error: UAZAPI_BASE_URL must be set")
		os.Exit(1)
	}

	phone := domain.NormalizePhone(os.Args[1])
	message := os.Args[2]
	token := cfg.Gateway.Token
	if len(os.Args) > 3 {
		token = os.Args[3]
	}
	if token == "" {
		fmt.Println("Error: UAZAPI_TOKEN must be set or passed as the third argument")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := uazapi.NewClient(cfg.Gateway.BaseURL, token, 0)
	if err := client.SendText(ctx, token, phone, message); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Message sent successfully!")
}
