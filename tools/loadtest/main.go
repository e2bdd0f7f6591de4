package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playverse/presence/internal/client"
	"github.com/playverse/presence/internal/protocol"
	"github.com/playverse/presence/internal/store"
	"github.com/playverse/presence/internal/testutil"
)

func main() {
	origin := flag.String("url", "http://localhost:8080", "Presence server origin")
	dbPath := flag.String("db", "presence.db", "Server database (sessions are minted here)")
	clients := flag.Int("clients", 10, "Number of concurrent clients")
	updates := flag.Int("updates", 10, "Presence updates per client")
	flag.Parse()

	log.Printf("Load test: %d clients, %d updates each, origin=%s", *clients, *updates, *origin)

	// Mint a session per client and chain everyone into a friend ring so
	// updates fan out to at least one peer.
	s, err := store.NewSQLite(*dbPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	tokens := make([]string, *clients)
	for i := 0; i < *clients; i++ {
		user := fmt.Sprintf("user_%d", i)
		token, err := s.CreateSession(user)
		if err != nil {
			log.Fatalf("create session: %v", err)
		}
		tokens[i] = token
		if i > 0 {
			if err := s.AddFriendship(user, fmt.Sprintf("user_%d", i-1)); err != nil {
				log.Fatalf("add friendship: %v", err)
			}
		}
	}
	s.Close()

	var (
		connected int64
		sent      int64
		received  int64
		errors    int64
		latencies []time.Duration
		latencyMu sync.Mutex
		wg        sync.WaitGroup
	)

	statuses := []string{
		protocol.StatusOnline,
		protocol.StatusAway,
		protocol.StatusBusy,
		protocol.StatusInRoom,
	}

	start := time.Now()

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			jar, err := testutil.JarWithToken(*origin, tokens[id])
			if err != nil {
				atomic.AddInt64(&errors, 1)
				log.Printf("client %d: jar error: %v", id, err)
				return
			}
			c, err := client.New(client.Options{
				Endpoint: *origin,
				UserID:   fmt.Sprintf("user_%d", id),
				Jar:      jar,
			})
			if err != nil {
				atomic.AddInt64(&errors, 1)
				log.Printf("client %d: %v", id, err)
				return
			}
			defer c.Disconnect()

			c.OnUpdate(func(protocol.PresenceUpdate) {
				atomic.AddInt64(&received, 1)
			})

			// Time from dial to authenticated.
			dialTime := time.Now()
			if err := c.Connect(); err != nil {
				atomic.AddInt64(&errors, 1)
				log.Printf("client %d: connect error: %v", id, err)
				return
			}
			for !c.IsConnected() {
				if time.Since(dialTime) > 5*time.Second {
					atomic.AddInt64(&errors, 1)
					log.Printf("client %d: auth timed out", id)
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
			atomic.AddInt64(&connected, 1)
			lat := time.Since(dialTime)
			latencyMu.Lock()
			latencies = append(latencies, lat)
			latencyMu.Unlock()

			// Flap through statuses.
			for j := 0; j < *updates; j++ {
				status := statuses[j%len(statuses)]
				room := ""
				if status == protocol.StatusInRoom {
					room = fmt.Sprintf("room_%d", id)
				}
				c.UpdatePresence(status, room)
				atomic.AddInt64(&sent, 1)
				time.Sleep(10 * time.Millisecond)
			}

			// Wait a bit for remaining fan-out.
			time.Sleep(500 * time.Millisecond)
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Calculate percentiles.
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Clients:      %d connected\n", connected)
	fmt.Printf("Updates sent: %d\n", sent)
	fmt.Printf("Fan-out recv: %d\n", received)
	fmt.Printf("Errors:       %d\n", errors)
	if len(latencies) > 0 {
		fmt.Printf("Auth p50:     %s\n", percentile(latencies, 50))
		fmt.Printf("Auth p95:     %s\n", percentile(latencies, 95))
		fmt.Printf("Auth p99:     %s\n", percentile(latencies, 99))
	}
	fmt.Printf("Throughput:   %.0f updates/sec\n", float64(sent)/elapsed.Seconds())
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
