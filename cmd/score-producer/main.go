package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/steptrack/steptrack/internal/domain"
	"github.com/steptrack/steptrack/internal/kafka"
)

const hexDigits = "0123456789abcdef"

func randomSongHash() string {
	var b strings.Builder
	for i := 0; i < domain.SongHashLength; i++ {
		b.WriteByte(hexDigits[rand.Intn(len(hexDigits))])
	}
	return b.String()
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "machine-scores", "Kafka topic")
	keys := flag.String("keys", "", "Comma-separated derived API keys of registered players")
	totalPlayers := flag.Int("players", 100, "Number of simulated players (ignored when -keys is set)")
	totalSongs := flag.Int("songs", 20, "Number of simulated songs")
	updatesPerSecond := flag.Int("rate", 50, "Submissions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Score Submission Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Songs:            %d\n", *totalSongs)
	fmt.Printf("  Submissions/sec:  %d\n", *updatesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Player credentials in the derived form the consumer expects. Random
	// keys exercise the pipeline but are rejected as unregistered; pass
	// -keys to submit for real players.
	var apiKeys []string
	if *keys != "" {
		apiKeys = strings.Split(*keys, ",")
	} else {
		apiKeys = make([]string, *totalPlayers)
		for i := range apiKeys {
			apiKeys[i] = domain.DeriveAPIKey(uuid.New().String())
		}
	}

	songHashes := make([]string, *totalSongs)
	for i := range songHashes {
		songHashes[i] = randomSongHash()
	}

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Send message helper
	sendMessage := func(msg kafka.ScoreMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		record := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(msg.APIKey),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- record:
		case <-done:
			return
		}
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var submitted int64

	shutdown := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\n\nDuration reached, shutting down...")
				shutdown()
				return
			}

			// Popular songs get most of the traffic.
			var songIdx int
			if rand.Intn(100) < 70 {
				songIdx = rand.Intn((*totalSongs + 9) / 10)
			} else {
				songIdx = rand.Intn(*totalSongs)
			}

			sendMessage(kafka.ScoreMessage{
				APIKey:   apiKeys[rand.Intn(len(apiKeys))],
				SongHash: songHashes[songIdx],
				Score:    int64(rand.Intn(10001)),
				Comment:  fmt.Sprintf("C%d", rand.Intn(500)+200),
			})
			atomic.AddInt64(&submitted, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Submitted: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&submitted),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
