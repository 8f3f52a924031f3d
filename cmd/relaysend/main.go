// relaysend delivers one relay command and exits.
//
//	relaysend -user u1 -type new_sms -payload '{"body":"hi"}'
//	relaysend -type notice -payload '{"text":"maintenance"}'   (broadcast)
//	relaysend -via nats -nats nats://127.0.0.1:4222 -type notice
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"PPRelay/global/config"
	"PPRelay/logger"
	"PPRelay/service/natsx"
	"PPRelay/service/relayclient"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

func main() {
	defaults := config.Default()
	var (
		via     = flag.String("via", "ws", "transport: ws or nats")
		url     = flag.String("url", "ws://"+defaults.RelayHost+":"+fmt.Sprint(defaults.RelayPort)+"/relay", "relay endpoint")
		natsURL = flag.String("nats", "nats://127.0.0.1:4222", "nats server")
		subject = flag.String("subject", config.DefaultNatsSubject, "nats subject")
		user    = flag.String("user", "", "target user id; empty broadcasts")
		typ     = flag.String("type", "", "event type")
		payload = flag.String("payload", "", "JSON object payload")
		timeout = flag.Duration("timeout", 5*time.Second, "give up after")
	)
	flag.Parse()
	logger.Init("warn", false)
	defer logger.Sync()

	var p any
	if *payload != "" {
		p = json.RawMessage(*payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch *via {
	case "ws":
		err = sendWS(ctx, *url, *user, *typ, p)
	case "nats":
		err = sendNats(*natsURL, *subject, *user, *typ, p)
	default:
		err = fmt.Errorf("unknown transport %q", *via)
	}
	if err != nil {
		logger.Error("send failed", zap.Error(err))
		os.Exit(1)
	}
}

func sendWS(ctx context.Context, url, user, typ string, payload any) error {
	cfg := relayclient.DefaultConfig(url)
	cfg.RetryDelay = 500 * time.Millisecond
	c := relayclient.New(cfg)
	defer c.Close()
	safe.Go("relay-client", func() { _ = c.Run(ctx) })

	if err := c.Deliver(user, typ, payload); err != nil {
		return err
	}
	return c.WaitIdle(ctx)
}

func sendNats(url, subject, user, typ string, payload any) error {
	nc, err := natsx.Connect(natsx.Config{Servers: []string{url}, Name: "relaysend"})
	if err != nil {
		return err
	}
	defer nc.Close()
	return natsx.NewPublisher(nc, subject).Deliver(user, typ, payload)
}
