package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"

	"linkvault/svc/util"
)

const maxPasswordLength = 1024

// Hasher derives argon2id hashes for account and paste passwords. Hashing is
// memory-hard, so work is funneled through a bounded worker pool to cap
// concurrent memory use under load.
type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
	jobQueue    chan hashJob
	quit        chan struct{}
	wg          sync.WaitGroup
	started     bool
	startMu     sync.Mutex
	stopOnce    sync.Once
}

type hashJob struct {
	password string
	resp     chan hashResult
}

type hashResult struct {
	hash string
	err  error
}

func NewHasher(time, memory uint32, parallelism uint8) (*Hasher, error) {
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 1*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if parallelism == 0 || parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   32,
		jobQueue:    make(chan hashJob, 4096),
		quit:        make(chan struct{}),
	}, nil
}

func (h *Hasher) Start(workers int) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return errors.New("hasher already started")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go h.worker()
	}
	h.started = true
	return nil
}

func (h *Hasher) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		close(h.jobQueue)
		h.wg.Wait()
	})
}

func (h *Hasher) worker() {
	defer h.wg.Done()
	for {
		select {
		case job, ok := <-h.jobQueue:
			if !ok {
				return
			}
			hash, err := h.doHash(job.password)
			select {
			case job.resp <- hashResult{hash: hash, err: err}:
			case <-h.quit:
				return
			}
		case <-h.quit:
			return
		}
	}
}

func (h *Hasher) Hash(password string) (string, error) {
	h.startMu.Lock()
	started := h.started
	h.startMu.Unlock()
	if !started {
		return "", errors.New("hasher not started")
	}
	if len(password) > maxPasswordLength {
		return "", errors.New("password too long")
	}
	respChan := make(chan hashResult, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case h.jobQueue <- hashJob{password: password, resp: respChan}:
		select {
		case res := <-respChan:
			return res.hash, res.err
		case <-ctx.Done():
			return "", errors.New("hash timeout")
		}
	case <-ctx.Done():
		return "", errors.New("hash queue full")
	case <-h.quit:
		return "", errors.New("hasher is shutting down")
	}
}

func (h *Hasher) doHash(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	defer util.Wipe(hash)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism, b64Salt, b64Hash), nil
}

// Verify reports whether pwd matches the encoded hash and whether the hash
// was produced with stale parameters. Mismatch and malformed-hash cases run
// the same argon2 work so response timing does not leak which one happened.
func (h *Hasher) Verify(pwd, encoded string) (bool, bool, error) {
	if len(pwd) > maxPasswordLength {
		dummy := strings.Repeat("x", maxPasswordLength)
		h.verifyInternal(dummy, "")
		return false, false, nil
	}
	return h.verifyInternal(pwd, encoded)
}

func (h *Hasher) verifyInternal(pwd, encoded string) (bool, bool, error) {
	pwdBytes := []byte(pwd)
	defer util.Wipe(pwdBytes)
	var mem, iters uint32 = h.memory, h.iterations
	var threads uint8 = h.parallelism
	var salt, hash []byte
	valid := true
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		valid = false
		salt = make([]byte, 16)
		hash = make([]byte, 32)
	} else {
		if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
			valid = false
			mem, iters, threads = h.memory, h.iterations, h.parallelism
			salt = make([]byte, 16)
			hash = make([]byte, 32)
		} else if mem > 2*1024*1024 || iters > 1000 || threads > 128 {
			valid = false
			mem, iters, threads = h.memory, h.iterations, h.parallelism
			salt = make([]byte, 16)
			hash = make([]byte, 32)
		} else {
			var err error
			salt, err = base64.RawStdEncoding.DecodeString(parts[4])
			if err != nil || len(salt) == 0 {
				valid = false
				salt = make([]byte, 16)
			}
			hash, err = base64.RawStdEncoding.DecodeString(parts[5])
			if err != nil || len(hash) == 0 || len(hash) > 256 {
				valid = false
				hash = make([]byte, 32)
			}
		}
	}
	defer util.Wipe(hash)
	defer util.Wipe(salt)
	otherHash := argon2.IDKey(pwdBytes, salt, iters, mem, threads, uint32(len(hash)))
	defer util.Wipe(otherHash)
	match := subtle.ConstantTimeCompare(hash, otherHash) == 1
	if !valid || !match {
		return false, false, nil
	}
	needsRehash := mem != h.memory || iters != h.iterations || threads != h.parallelism
	return true, needsRehash, nil
}
