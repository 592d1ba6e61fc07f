package randutil

import (
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func Int63n() int64 {
	mu.Lock()
	defer mu.Unlock()
	return rnd.Int63()
}

// Tag returns two pseudo-random bytes from a source seeded with the wall clock
// plus seed. Each byte is in [0, 255).
func Tag(seed int64) [2]byte {
	r := rand.New(rand.NewSource(time.Now().UnixNano() + seed))
	return [2]byte{byte(r.Intn(255)), byte(r.Intn(255))}
}
