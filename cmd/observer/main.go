package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appforge/internal/client"
	"appforge/internal/config"
	"appforge/internal/domain/model"
	"appforge/internal/infra/logging"
	red "appforge/internal/infra/redis"
	"appforge/internal/infra/web"

	"github.com/google/uuid"
)

// observer is a terminal client for watching generation jobs: it resumes any
// breadcrumbed job on startup, optionally submits a new prompt, and prints
// stage updates until the job terminates.
func main() {
	server := flag.String("server", "http://localhost:8080", "orchestrator base URL")
	redisURL := flag.String("redis", "localhost:6379", "redis address for session breadcrumbs")
	clientID := flag.String("client", "", "stable client identity (default: random)")
	secret := flag.String("secret", "", "shared auth secret for service tokens")
	prompt := flag.String("prompt", "", "start a new generation with this prompt")
	company := flag.String("company", "", "business context: company name")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		<-sigc
		cancel()
	}()

	logger := logging.New(config.LogConfig{Level: "warn", Format: "console"}, true)

	id := *clientID
	if id == "" {
		id = uuid.NewString()
	}

	var token string
	if *secret != "" {
		var err error
		token, err = web.MintServiceToken([]byte(*secret), id, 12*time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	redisClient, err := red.NewClient(ctx, &config.RedisConfig{URL: *redisURL})
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	crumbs := red.NewBreadcrumbStore(redisClient, id, 24*time.Hour)

	api := client.NewAPI(*server, token)
	session := client.NewSession(crumbs, api, api, api, logger)
	session.Resume(ctx)

	if *prompt != "" {
		job, err := api.CreateJob(ctx, *prompt, model.BusinessContext{CompanyName: *company})
		if err != nil {
			log.Fatalf("create job: %v", err)
		}
		session.StartGeneration(ctx, job.ID)
		fmt.Printf("job %s accepted\n", job.ID)
	}

	watch(ctx, session)
}

// watch prints the session state whenever it changes, returning once the job
// reaches a terminal stage or the context is cancelled.
func watch(ctx context.Context, session *client.Session) {
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()

	var last client.State
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		st := session.Snapshot()
		if !st.Active {
			fmt.Println("no active job")
			return
		}
		if st != last {
			render(st)
			last = st
		}
		if st.Stage.Terminal() {
			return
		}
	}
}

func render(st client.State) {
	line := fmt.Sprintf("[%s] %s", st.Stage, st.Message)
	if st.Detail != "" {
		line += " (" + st.Detail + ")"
	}
	fmt.Println(line)

	switch st.Stage {
	case model.StageComplete:
		fmt.Printf("done: %s", st.Title)
		if st.Description != "" {
			fmt.Printf(" - %s", st.Description)
		}
		fmt.Println()
		if st.PreviewURL != "" {
			fmt.Printf("preview: %s\n", st.PreviewURL)
		}
	case model.StageFailed:
		fmt.Printf("failed: %s\n", st.Error)
	}
}
