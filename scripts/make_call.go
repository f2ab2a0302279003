package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/voxdesk/voxdesk/pkg/config"
	"github.com/voxdesk/voxdesk/pkg/configutil"
	"github.com/voxdesk/voxdesk/pkg/transports"
	twiliotransport "github.com/voxdesk/voxdesk/pkg/transports/twilio"
)

type twilioSettings struct {
	AccountSID   string `mapstructure:"account_sid"`
	AuthToken    string `mapstructure:"auth_token"`
	PublicURL    string `mapstructure:"public_url"`
	IncomingPath string `mapstructure:"incoming_path"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	tenantID := flag.String("tenant", "", "tenant segment for the incoming webhook")
	voiceURL := flag.String("voice_url", "", "override webhook URL")
	sendDigits := flag.String("send_digits", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 -tenant=<id> [-config=...]")
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	var settings twilioSettings
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	url := *voiceURL
	if url == "" {
		if settings.PublicURL == "" {
			fmt.Println("public_url is empty")
			os.Exit(1)
		}
		if *tenantID == "" {
			fmt.Println("tenant is required when voice_url is not set")
			os.Exit(1)
		}
		incomingPath := settings.IncomingPath
		if incomingPath == "" {
			incomingPath = "/stream/incoming/"
		}
		url = "https://" + normalizePublicURL(settings.PublicURL) + incomingPath + *tenantID
	}
	dialer := twiliotransport.NewDialer(twiliotransport.Config{
		AccountSID: settings.AccountSID,
		AuthToken:  settings.AuthToken,
		PublicURL:  settings.PublicURL,
	})
	if *sendDigits != "" {
		callSID, err := dialer.DialWithOptions(context.Background(), *to, *from, url, transports.DialOptions{SendDigits: *sendDigits})
		if err != nil {
			fmt.Println("call error:", err)
			os.Exit(1)
		}
		fmt.Println("call_sid:", callSID)
		return
	}
	callSID, err := dialer.Dial(context.Background(), *to, *from, url)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}

func normalizePublicURL(v string) string {
	if v == "" {
		return ""
	}
	if len(v) >= 8 && v[:8] == "https://" {
		return v[8:]
	}
	if len(v) >= 7 && v[:7] == "http://" {
		return v[7:]
	}
	for len(v) > 0 && v[len(v)-1] == '/' {
		v = v[:len(v)-1]
	}
	return v
}
