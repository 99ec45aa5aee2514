package store

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Set/Get/Del on random keys through a
// small window, so evictions and promotions race with everything else.
// Should pass under `-race` without detector reports.
func TestRace_MixedWorkload(t *testing.T) {
	e := NewEngine(Options{
		HashCapacity: 64,
		LRUCapacity:  512,
		EnableLRU:    true,
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 2_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% Del
					e.Del(k)
				case 5, 6, 7, 8, 9, 10, 11, 12, 13, 14: // ~10% Set
					_ = e.Set(k, User{ID: int64(id), Name: "w", Cash: 1})
				default: // ~85% Get
					e.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()
	checkCoupling(t, e)
}

// Concurrent Set/Get with Stats and Clear mixed in; Clear must never
// leave the two structures disagreeing.
func TestRace_StatsAndClear(t *testing.T) {
	e := NewEngine(Options{HashCapacity: 32, LRUCapacity: 128, EnableLRU: true})

	deadline := time.Now().Add(1 * time.Second)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id) + 1))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(500))
				switch r.Intn(10) {
				case 0:
					e.Clear()
				case 1:
					_ = e.Stats()
				case 2, 3, 4:
					_ = e.Set(k, User{ID: int64(id)})
				default:
					e.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()
	checkCoupling(t, e)
}
