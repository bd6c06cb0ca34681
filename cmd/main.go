package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/realtime-ai/voice-bridge/pkg/callcontrol"
	"github.com/realtime-ai/voice-bridge/pkg/config"
	"github.com/realtime-ai/voice-bridge/pkg/connection"
	"github.com/realtime-ai/voice-bridge/pkg/provision"
	"github.com/realtime-ai/voice-bridge/pkg/session"
	"github.com/realtime-ai/voice-bridge/pkg/trace"
	"github.com/realtime-ai/voice-bridge/pkg/webhook"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := trace.Init("voice-bridge"); err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer trace.Shutdown(context.Background())

	api, err := connection.NewWebRTCAPI(cfg.RTCUDPPort)
	if err != nil {
		log.Fatalf("init webrtc: %v", err)
	}

	provisioner := provision.NewClient(provision.Config{
		BaseURL:      cfg.AgentAPIBaseURL,
		APIKey:       cfg.AgentAPIKey,
		SystemPrompt: cfg.AgentSystemPrompt,
		Voice:        cfg.AgentVoice,
		SampleRate:   cfg.AgentSampleRate,
	})
	callControl := callcontrol.NewClient(callcontrol.Config{
		BaseURL:     cfg.CallControlBaseURL,
		AccessToken: cfg.CallControlToken,
		LineID:      cfg.LineID,
	})

	manager := session.NewManager(session.Deps{
		Provisioner: provisioner,
		CallControl: callControl,
		NewTelephonyLeg: func() (session.TelephonyLeg, error) {
			return connection.NewTelephonyLeg(api)
		},
		DialAgentLeg: func(ctx context.Context, joinURL string, sampleRate int) (session.AgentLeg, error) {
			leg, err := connection.DialAgentLeg(ctx, joinURL, sampleRate)
			if err != nil {
				return nil, err
			}
			return leg, nil
		},
		HasAgentCredential: cfg.HasAgentCredential(),
		Timing:             session.DefaultTiming(),
	})

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook.NewHandler(webhook.Config{
		VerifyToken: cfg.VerifyToken,
		Secret:      cfg.WebhookSecret,
	}, manager))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("voice bridge listening on %s (rtc udp %d)", cfg.ListenAddr, cfg.RTCUDPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.Printf("session shutdown: %v", err)
	}
	server.Shutdown(ctx)
}
