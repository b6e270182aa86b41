package trade

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradepost/database/repositories"
)

const (
	tradeIDPrefix = "TR"
	maxIDRetries  = 5
)

// IDGenerator produces short public trade identifiers. Uniqueness is settled
// by the database's unique constraint; the pre-check plus retry loop just
// keeps collisions rare.
type IDGenerator struct {
	repo    repositories.TradeRepository
	idGenMu sync.Mutex
}

func NewIDGenerator(repo repositories.TradeRepository) *IDGenerator {
	return &IDGenerator{repo: repo}
}

// Generate returns a new candidate trade ID not currently in use.
func (g *IDGenerator) Generate(ctx context.Context) (string, error) {
	generateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g.idGenMu.Lock()
	defer g.idGenMu.Unlock()

	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id, err := candidateID()
		if err != nil {
			return "", fmt.Errorf("failed to generate candidate ID: %w", err)
		}

		exists, err := g.repo.TradeIDExists(generateCtx, id)
		if err == nil && !exists {
			return id, nil
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Millisecond
		select {
		case <-generateCtx.Done():
			return "", fmt.Errorf("timeout during ID generation: %w", generateCtx.Err())
		case <-time.After(backoff):
		}
	}

	return "", fmt.Errorf("failed to generate unique trade ID after %d attempts", maxIDRetries)
}

func candidateID() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	suffix := base36encode(bytes)
	if len(suffix) < 6 {
		suffix = strings.Repeat("0", 6-len(suffix)) + suffix
	} else {
		suffix = suffix[:6]
	}

	return tradeIDPrefix + suffix, nil
}

func base36encode(bytes []byte) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	result := ""
	number := binary.BigEndian.Uint32(bytes)

	for number > 0 {
		result = string(alphabet[number%36]) + result
		number /= 36
	}

	return result
}
