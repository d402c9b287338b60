package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"attendance.agent/internal/config"
	"attendance.agent/internal/notify"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/pkg/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Fires many manual checks at the agent at once, optionally racing them with
// auto attendance notifications handled by the notification worker. Exactly
// one check should report SUCCESS; the rest are SKIPPED_LOCKED or
// SKIPPED_ALREADY_MARKED. Check the backend mock log for duplicate submissions
// coming from the worker side.
func main() {
	agent := flag.String("agent", "http://localhost:8080", "Agent base URL")
	triggers := flag.Int("n", 50, "Number of simultaneous manual checks")
	notifications := flag.Int("notifications", 0, "Auto attendance notifications published to NOTIFICATION_SQS_QUEUE_URL")
	flag.Parse()

	var publisher messaging.Publisher
	if *notifications > 0 {
		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			return
		}
		awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
		if err != nil {
			fmt.Printf("AWS config error: %v\n", err)
			return
		}
		publisher = messaging.NewSQSProducer(sqs.NewFromConfig(awsCfg), cfg.AlertSQSQueueURL, cfg.NotificationSQSQueueURL)
	}

	url := *agent + "/api/v1/attendance/manual"
	fmt.Printf("Starting trigger storm: %d manual checks against %s, %d notifications\n", *triggers, url, *notifications)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[string]int{}
	var published, publishErrors atomic.Int32

	start := make(chan struct{})
	startTime := time.Now()
	for i := 0; i < *triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			outcome := "REQUEST_ERROR"
			resp, err := http.Post(url, "application/json", nil)
			if err == nil {
				var body struct {
					Result struct {
						Outcome string `json:"outcome"`
					} `json:"result"`
				}
				if json.NewDecoder(resp.Body).Decode(&body) == nil {
					outcome = body.Result.Outcome
				}
				resp.Body.Close()
			}

			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	for i := 0; i < *notifications; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			event := messaging.NotificationEvent{
				Data:       map[string]string{"go_to": notify.AutoAttendanceValue},
				ReceivedAt: time.Now(),
			}
			if err := publisher.PublishNotification(context.Background(), event); err != nil {
				publishErrors.Add(1)
				return
			}
			published.Add(1)
		}()
	}
	close(start)
	wg.Wait()

	fmt.Println("\n--- Trigger Storm Results ---")
	fmt.Printf("Total Duration: %v\n", time.Since(startTime))
	for outcome, n := range outcomes {
		fmt.Printf("%-24s %d\n", outcome+":", n)
	}
	if *notifications > 0 {
		fmt.Printf("%-24s %d\n", "NOTIFICATIONS_PUBLISHED:", published.Load())
		fmt.Printf("%-24s %d\n", "PUBLISH_ERRORS:", publishErrors.Load())
	}
	if outcomes["SUCCESS"] > 1 {
		fmt.Println("\nDUPLICATE SUBMISSIONS DETECTED")
	}
}
