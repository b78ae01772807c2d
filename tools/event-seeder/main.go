// Command event-seeder publishes synthetic events to the detector's input
// stream. It generates drifting normal data per entity and injects
// anomalous points at a configured rate, for load and end-to-end testing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	natsclient "github.com/kkalu-stack/anomaly-detection-system/pkg/messaging/nats"
)

var (
	natsURL     = flag.String("nats-url", "nats://localhost:4222", "NATS server URL")
	subject     = flag.String("subject", "detector.events", "input subject to publish to")
	stream      = flag.String("stream", "DETECTOR_EVENTS", "JetStream stream to ensure")
	entityCount = flag.Int("entities", 10, "Number of distinct entities")
	count       = flag.Int("count", 1000, "Number of events to generate")
	interval    = flag.Duration("interval", 10*time.Millisecond, "Interval between events")
	features    = flag.Int("features", 5, "Numeric fields per event")
	anomalyRate = flag.Float64("anomaly-rate", 0.01, "Fraction of events generated as anomalies")
	seed        = flag.Int64("seed", 0, "Random seed (0 uses current time)")
)

type wireEvent struct {
	EntityKey string             `json:"entity_key"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels,omitempty"`
	Source    string             `json:"source,omitempty"`
}

// generator produces drifting normal values per entity, with anomalies as
// large deviations from the entity's current baseline.
type generator struct {
	rng  *rand.Rand
	base map[string][]float64
	n    int
}

func newGenerator(rng *rand.Rand, features int) *generator {
	return &generator{
		rng:  rng,
		base: make(map[string][]float64),
		n:    features,
	}
}

func (g *generator) values(entity string, anomalous bool) map[string]float64 {
	base, ok := g.base[entity]
	if !ok {
		base = make([]float64, g.n)
		for i := range base {
			base[i] = g.rng.NormFloat64() * 10
		}
		g.base[entity] = base
	}

	values := make(map[string]float64, g.n)
	for i := range base {
		if anomalous {
			// Large deviation either side of the baseline.
			factor := 3.0
			if g.rng.Intn(2) == 0 {
				factor = -3.0
			}
			values[fmt.Sprintf("feature_%d", i)] = base[i] + g.rng.NormFloat64()*10*factor
			continue
		}
		// Drift the baseline slowly and add noise.
		base[i] += g.rng.NormFloat64() * 0.01
		values[fmt.Sprintf("feature_%d", i)] = base[i] + g.rng.NormFloat64()*0.1
	}
	return values
}

func main() {
	flag.Parse()

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(s))
	gofakeit.Seed(s)

	log.Printf("Starting event seeder:")
	log.Printf("  NATS URL: %s", *natsURL)
	log.Printf("  Subject: %s", *subject)
	log.Printf("  Entities: %d", *entityCount)
	log.Printf("  Event count: %d", *count)
	log.Printf("  Anomaly rate: %.3f", *anomalyRate)

	client, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:           *natsURL,
		Name:          "event-seeder",
		MaxReconnects: 5,
		ReconnectWait: time.Second,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.CreateOrUpdateStream(ctx, natsclient.EventStreamConfig(*stream, []string{*subject})); err != nil {
		log.Fatalf("Failed to ensure stream: %v", err)
	}

	entities := make([]string, *entityCount)
	for i := range entities {
		entities[i] = fmt.Sprintf("%s-%04d", gofakeit.AppName(), i)
	}

	gen := newGenerator(rng, *features)

	successCount := 0
	failCount := 0
	anomalies := 0

	for i := 0; i < *count; i++ {
		entity := entities[rng.Intn(len(entities))]
		anomalous := rng.Float64() < *anomalyRate
		if anomalous {
			anomalies++
		}

		evt := wireEvent{
			EntityKey: entity,
			Timestamp: time.Now().UTC(),
			Values:    gen.values(entity, anomalous),
			Labels: map[string]string{
				"injected_anomaly": fmt.Sprintf("%t", anomalous),
			},
			Source: "event-seeder",
		}

		data, err := json.Marshal(evt)
		if err != nil {
			log.Fatalf("Failed to marshal event: %v", err)
		}

		if _, err := client.PublishSync(ctx, *subject, data); err != nil {
			log.Printf("Failed to publish event: %v", err)
			failCount++
		} else {
			successCount++
			if successCount%500 == 0 {
				log.Printf("Progress: %d/%d events published", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("\nSeeding complete:")
	log.Printf("  Success: %d events", successCount)
	log.Printf("  Failed: %d events", failCount)
	log.Printf("  Injected anomalies: %d", anomalies)
}
