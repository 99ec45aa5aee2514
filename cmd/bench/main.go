// Command bench runs a synthetic TCP workload against a running
// userkvd instance and reports throughput and hit-rate.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	// ---- Flags ----
	var (
		addr     = flag.String("addr", "127.0.0.1:8899", "server address")
		conns    = flag.Int("conns", 2*runtime.GOMAXPROCS(0), "number of concurrent connections")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys  = flag.Int("keys", 100_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	connsN := *conns
	if connsN <= 0 {
		connsN = 1
	}

	var reads, writes, hits, misses, failed, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(connsN)
	for w := 0; w < connsN; w++ {
		go func(id int) {
			defer wg.Done()

			conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
			if err != nil {
				log.Printf("conn %d: dial: %v", id, err)
				return
			}
			defer conn.Close()
			r := bufio.NewReader(conn)
			if err := skipBanner(r); err != nil {
				log.Printf("conn %d: banner: %v", id, err)
				return
			}

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				key := strconv.FormatUint(localZipf.Uint64(), 10)
				atomic.AddUint64(&total, 1)

				var cmd string
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					cmd = "get/" + key + "\n"
				} else {
					atomic.AddUint64(&writes, 1)
					cmd = "set/cash/" + key + "/" + strconv.Itoa(localR.Intn(10_000)) + "\n"
				}

				if _, err := conn.Write([]byte(cmd)); err != nil {
					log.Printf("conn %d: write: %v", id, err)
					return
				}
				reply, err := r.ReadString('\n')
				if err != nil {
					log.Printf("conn %d: read: %v", id, err)
					return
				}
				switch {
				case strings.HasPrefix(reply, "data/"):
					atomic.AddUint64(&hits, 1)
				case reply == "fail\n":
					atomic.AddUint64(&misses, 1)
				case reply == "ok\n":
				default:
					atomic.AddUint64(&failed, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)
	failedN := atomic.LoadUint64(&failed)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("addr=%s conns=%d keys=%d reads=%d%% dur=%v seed=%d\n",
		*addr, connsN, *keys, readPctVal, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("hits=%d  misses=%d  errors=%d  hit-rate=%.2f%%\n",
		hitsN, missesN, failedN, hitRate)
}

// skipBanner consumes the welcome block, which ends with a blank line.
func skipBanner(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\n" {
			return nil
		}
	}
}
